package employee

import "strings"

// Email formats. The selector comes from configuration; anything else falls
// back to first.last.
const (
	EmailFormatFirstDotLast   = "first.last"
	EmailFormatInitialDotLast = "firstinitial.lastname"
)

const maxUsernameLen = 20

// DeriveEmail builds the account email from name parts. Name parts are
// lowercased and stripped to alphanumerics; an empty first name degrades to
// the bare last name local part.
func DeriveEmail(firstName, lastName, domain, format string) string {
	first := alnum(strings.ToLower(strings.TrimSpace(firstName)))
	last := alnum(strings.ToLower(strings.TrimSpace(lastName)))

	var local string
	switch {
	case format == EmailFormatInitialDotLast && first != "":
		local = first[:1] + "." + last
	case format == EmailFormatInitialDotLast:
		local = last
	default:
		local = first + "." + last
	}
	return local + "@" + domain
}

// DeriveUsername is the email local part truncated to the directory's
// 20-character account-name limit.
func DeriveUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if len(local) > maxUsernameLen {
		return local[:maxUsernameLen]
	}
	return local
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
