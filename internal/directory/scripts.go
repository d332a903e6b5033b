package directory

import (
	"fmt"
	"strings"

	"onboarder/internal/employee"
	"onboarder/internal/placement"
)

// psQuote escapes a value for embedding inside a single-quoted PowerShell
// string literal.
func psQuote(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// domainDN turns "corp.example.com" into "DC=corp,DC=example,DC=com".
func domainDN(domain string) string {
	return "DC=" + strings.ReplaceAll(domain, ".", ",DC=")
}

func credentialPreamble(creds Credentials) string {
	return fmt.Sprintf(`Import-Module ActiveDirectory
$password = ConvertTo-SecureString '%s' -AsPlainText -Force
$credential = New-Object System.Management.Automation.PSCredential ('%s', $password)
try {
    $dc = [System.DirectoryServices.ActiveDirectory.Domain]::GetCurrentDomain().DomainControllers[0].Name
} catch {
    $dc = "$env:COMPUTERNAME.$env:USERDNSDOMAIN"
}`, psQuote(creds.Password), psQuote(creds.Username))
}

// createAccountScript provisions the account and reports the outcome in the
// line-prefix protocol: SUCCESS/ERROR, TEMPPASS, DOMAIN, NETBIOS and OU. The
// script falls back to a user-bearing OU, then the Users container, when the
// mapped OU does not exist.
func createAccountScript(creds Credentials, rec *employee.Record, email, username, tempPassword string, dec placement.Decision) string {
	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString(credentialPreamble(creds))
	fmt.Fprintf(&b, `
$userPassword = '%s'
$securePassword = ConvertTo-SecureString $userPassword -AsPlainText -Force

$existingUser = Get-ADUser -Filter "SamAccountName -eq '%s' -or UserPrincipalName -eq '%s'" -Server $dc -Credential $credential -ErrorAction SilentlyContinue
if ($existingUser) {
    Write-Output "ERROR: User %s already exists in domain %s"
    exit 1
}

$targetPath = '%s'
try {
    Get-ADOrganizationalUnit -Identity $targetPath -Server $dc -Credential $credential -ErrorAction Stop | Out-Null
} catch {
    $alternative = Get-ADOrganizationalUnit -Filter * -Server $dc -Credential $credential |
        Where-Object { $_.Name -like '*User*' -or $_.Name -like '*Employee*' } |
        Select-Object -First 1
    if ($alternative) {
        $targetPath = $alternative.DistinguishedName
    } else {
        $targetPath = 'CN=Users,%s'
    }
    Write-Output "Using alternative OU: $targetPath"
}
`, psQuote(tempPassword), psQuote(username), psQuote(email), psQuote(username), psQuote(dec.Domain), psQuote(dec.OU), domainDN(dec.Domain))

	fmt.Fprintf(&b, `
$userParams = @{
    SamAccountName = '%s'
    UserPrincipalName = '%s'
    Name = '%s'
    GivenName = '%s'
    Surname = '%s'
    DisplayName = '%s'
    EmailAddress = '%s'
    AccountPassword = $securePassword
    Enabled = $true
    ChangePasswordAtLogon = $true
    Path = $targetPath
    Server = $dc
    Credential = $credential
}
`, psQuote(username), psQuote(email), psQuote(rec.FullName), psQuote(rec.FirstName), psQuote(rec.LastName), psQuote(rec.FullName), psQuote(email))

	optional := []struct{ param, value string }{
		{"Title", rec.JobTitle},
		{"Department", rec.Department},
		{"Office", rec.WorkLocation},
		{"Company", rec.Company},
	}
	for _, o := range optional {
		if o.value != "" {
			fmt.Fprintf(&b, "$userParams.%s = '%s'\n", o.param, psQuote(o.value))
		}
	}

	if rec.Manager != "" {
		fmt.Fprintf(&b, `
$managerName = '%s'
$manager = Get-ADUser -Filter "Name -eq '$managerName' -or DisplayName -eq '$managerName'" -Server $dc -Credential $credential -ErrorAction SilentlyContinue | Select-Object -First 1
if ($manager) { $userParams.Manager = $manager.DistinguishedName }
`, psQuote(rec.Manager))
	}

	fmt.Fprintf(&b, `
try {
    New-ADUser @userParams
    Write-Output "SUCCESS: Created user %s with email %s in domain %s"
    Write-Output "TEMPPASS: $userPassword"
    Write-Output "DOMAIN: %s"
    Write-Output "NETBIOS: %s"
    Write-Output "OU: $targetPath"
} catch {
    Write-Output "ERROR: Failed to create user: $_"
    exit 1
}
`, psQuote(username), psQuote(email), psQuote(dec.Domain), psQuote(dec.Domain), psQuote(dec.NetBIOSDomain))
	return b.String()
}

// findUserScript looks a user up by name, display name, account name or
// email and reports USER_FOUND/USER_NAME/USER_EMAIL or USER_NOT_FOUND.
func findUserScript(name string) string {
	return fmt.Sprintf(`Import-Module ActiveDirectory
$searchTerms = '%s'
$user = Get-ADUser -Filter "Name -eq '$searchTerms' -or DisplayName -eq '$searchTerms' -or SamAccountName -eq '$searchTerms' -or EmailAddress -eq '$searchTerms'" -Properties DisplayName, EmailAddress, SamAccountName -ErrorAction SilentlyContinue | Select-Object -First 1
if ($user) {
    Write-Output "USER_FOUND: $($user.SamAccountName)"
    Write-Output "USER_NAME: $($user.Name)"
    Write-Output "USER_EMAIL: $($user.EmailAddress)"
} else {
    Write-Output "USER_NOT_FOUND"
}`, psQuote(name))
}

// replicateScript copies the source user's security-group memberships onto
// the target and reports COPIED_GROUPS/FAILED_GROUPS/SKIPPED_GROUPS.
// Distribution groups are skipped, "already a member" counts as copied, and
// one group's failure never aborts the rest.
func replicateScript(creds Credentials, sourceUsername, targetUsername string) string {
	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Continue'\n")
	b.WriteString(credentialPreamble(creds))
	fmt.Fprintf(&b, `
try {
    $sourceUser = $null
    try {
        $sourceUser = Get-ADUser -Identity '%[1]s' -Properties MemberOf -Server $dc -Credential $credential -ErrorAction Stop
    } catch {
        $sourceUser = Get-ADUser -Filter "SamAccountName -eq '%[1]s' -or UserPrincipalName -eq '%[1]s' -or EmailAddress -eq '%[1]s'" -Properties MemberOf -Server $dc -Credential $credential -ErrorAction SilentlyContinue | Select-Object -First 1
    }
    if (-not $sourceUser) {
        Write-Output "ERROR: Source user %[1]s not found"
        Write-Output "COPIED_GROUPS: "
        Write-Output "FAILED_GROUPS: "
        exit 1
    }

    $sourceGroups = @()
    foreach ($groupDN in $sourceUser.MemberOf) {
        $group = Get-ADGroup -Identity $groupDN -Server $dc -Credential $credential -ErrorAction SilentlyContinue
        if ($group -and $group.Name -notin @('Domain Users', 'Authenticated Users', 'Everyone') -and $group.GroupCategory -eq 'Security') {
            $sourceGroups += $group
        }
    }

    if ($sourceGroups.Count -eq 0) {
        Write-Output "COPIED_GROUPS: "
        Write-Output "FAILED_GROUPS: "
        Write-Output "SUCCESS: Access replicated from %[1]s to %[2]s (0 groups)"
        exit 0
    }

    $targetUser = Get-ADUser -Identity '%[2]s' -Server $dc -Credential $credential -ErrorAction Stop

    $copiedGroups = @()
    $failedGroups = @()
    $skippedGroups = @()
    foreach ($group in $sourceGroups) {
        try {
            Add-ADGroupMember -Identity $group.DistinguishedName -Members $targetUser.DistinguishedName -Server $dc -Credential $credential -ErrorAction Stop
            $copiedGroups += $group.Name
        } catch {
            if ($_.Exception.Message -like "*already a member*") {
                $copiedGroups += $group.Name
            } elseif ($_.Exception.Message -like "*mail-enabled*" -or $_.Exception.Message -like "*distribution*") {
                $skippedGroups += $group.Name
            } else {
                $failedGroups += $group.Name
            }
        }
    }

    Write-Output "COPIED_GROUPS: $($copiedGroups -join ',')"
    Write-Output "FAILED_GROUPS: $($failedGroups -join ',')"
    Write-Output "SKIPPED_GROUPS: $($skippedGroups -join ',')"
    Write-Output "SUCCESS: Access replicated from %[1]s to %[2]s"
} catch {
    Write-Output "ERROR: $_"
    Write-Output "COPIED_GROUPS: "
    Write-Output "FAILED_GROUPS: "
    throw
}
`, psQuote(sourceUsername), psQuote(targetUsername))
	return b.String()
}

// syncScript nudges the directory synchronization cycle; a failure here is a
// warning, the scheduled cycle will pick the account up anyway.
const syncScript = `try {
    Start-ADSyncSyncCycle -PolicyType Delta
    Write-Output "SUCCESS: sync cycle triggered"
} catch {
    Write-Output "Warning: Could not trigger sync: $_"
}`
