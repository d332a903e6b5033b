package service

import (
	"fmt"
	"strings"
	"time"

	"onboarder/internal/directory"
	"onboarder/internal/onboarding/models"
)

func accountCreatedMessage(acct *directory.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory account created.\n")
	fmt.Fprintf(&b, "Username: %s\n", acct.Username)
	fmt.Fprintf(&b, "Email: %s\n", acct.Email)
	fmt.Fprintf(&b, "Temporary password: %s\n", acct.TempPassword)
	fmt.Fprintf(&b, "Domain: %s\n", acct.Domain)
	fmt.Fprintf(&b, "OU: %s\n", acct.OU)
	b.WriteString("The password must be changed at first logon.")
	return b.String()
}

func syncScheduledMessage(delay time.Duration) string {
	return fmt.Sprintf(
		"Directory sync triggered. License assignment and cloud access will be configured in about %d minutes.",
		int(delay.Minutes()))
}

func retryScheduledMessage(email string, retry, maxRetries int, delay time.Duration) string {
	return fmt.Sprintf(
		"Account %s has not synced to the cloud directory yet. Retry %d of %d scheduled in %d minutes.",
		email, retry, maxRetries, int(delay.Minutes()))
}

func manualActionMessage(email string, retries int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automatic cloud setup failed for %s after %d attempts. Manual action required:\n", email, retries)
	b.WriteString("- Check directory sync status\n")
	b.WriteString("- Verify the user exists in the on-premises directory\n")
	b.WriteString("- Manually assign a license\n")
	b.WriteString("- Check sync errors")
	return b.String()
}

// integrationMessage summarizes one phase-two attempt for the ticket,
// itemizing whatever went wrong below the headline.
func integrationMessage(email string, result *models.IntegrationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cloud setup completed for %s.\n", email)

	if result.Identity.LicenseAssigned && result.Identity.License != nil {
		fmt.Fprintf(&b, "License assigned: %s\n", result.Identity.License.SKUPartNumber)
	}
	if rep := result.Identity.Replication; rep != nil {
		fmt.Fprintf(&b, "Cloud groups: %d added, %d failed, %d skipped.\n",
			len(rep.GroupsAdded), len(rep.GroupsFailed), len(rep.GroupsSkipped))
	}
	if result.Collab != nil && result.Collab.Details != nil {
		fmt.Fprintf(&b, "Collaboration suite: %s\n", result.Collab.Details.Summary)
	}

	var issues []string
	issues = append(issues, result.Identity.Errors...)
	if result.Collab != nil && result.Collab.Error != "" {
		issues = append(issues, "collaboration suite: "+result.Collab.Error)
	}
	if len(issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
