package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"onboarder/internal/secrets"
	"onboarder/pkg/platform/sentinel"
)

// Credentials authenticate the service account the provisioning scripts run
// under. Username is always in DOMAIN\user form by the time a script sees it.
type Credentials struct {
	Username string
	Password string
}

// ResolveCredentials loads the service-account credentials for a domain.
// A domain-scoped secret named "<base>-<first domain label>" wins over the
// shared base secret; either way the username gets the NetBIOS prefix when
// it carries no domain qualifier.
func ResolveCredentials(ctx context.Context, store secrets.Store, logger *slog.Logger, baseSecret, domain, netbiosDomain string) (Credentials, error) {
	prefix := strings.ToLower(firstLabel(domain))
	scopedName := baseSecret + "-" + prefix

	doc, err := store.Get(ctx, scopedName)
	switch {
	case err == nil:
		logger.DebugContext(ctx, "using domain-scoped credentials", "secret", scopedName, "domain", domain)
	case errors.Is(err, sentinel.ErrNotFound):
		logger.DebugContext(ctx, "no domain-scoped credentials, using base secret", "domain", domain)
		if doc, err = store.Get(ctx, baseSecret); err != nil {
			return Credentials{}, fmt.Errorf("load credentials %q: %w", baseSecret, err)
		}
	default:
		return Credentials{}, fmt.Errorf("load credentials %q: %w", scopedName, err)
	}

	creds := Credentials{Username: doc["username"], Password: doc["password"]}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("credential secret for %s is missing username or password", domain)
	}
	creds.Username = qualifyUsername(creds.Username, netbiosDomain)
	return creds, nil
}

// qualifyUsername prefixes a bare account name with the NetBIOS domain.
// Already-qualified names (DOMAIN\user or user@domain) pass through.
func qualifyUsername(username, netbiosDomain string) string {
	if strings.ContainsAny(username, `\@`) {
		return username
	}
	return strings.ToUpper(netbiosDomain) + `\` + username
}

func firstLabel(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	return label
}
