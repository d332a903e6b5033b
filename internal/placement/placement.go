// Package placement maps an employee onto a directory domain, an
// organizational unit and the controller host that will execute the
// provisioning script.
package placement

import (
	"strings"

	"onboarder/internal/employee"
	dErrors "onboarder/pkg/domain-errors"
)

// ErrNoPlacement means no rule matched the employee and the mapping carries
// no default rule. Onboarding cannot proceed without a target domain.
var ErrNoPlacement = dErrors.New(dErrors.CodeNotFound, "no placement rule matched and no default rule configured")

// Decision is the resolved placement for one onboarding run.
type Decision struct {
	OU             string `json:"ou"`
	Domain         string `json:"domain"`
	NetBIOSDomain  string `json:"netbiosDomain"`
	ControllerHint string `json:"controllerHint,omitempty"`
}

// Resolve walks the rules in document order and returns the decision of the
// first matching rule, falling back to the default rule. Matching is
// case-insensitive substring containment, so a rule department "engineering"
// matches "Engineering - Platform".
func Resolve(m *Mapping, rec *employee.Record) (Decision, error) {
	for _, rule := range m.Rules {
		if rule.matches(rec) {
			return rule.decision(), nil
		}
	}
	if m.Default != nil {
		return m.Default.decision(), nil
	}
	return Decision{}, ErrNoPlacement
}

func (r *Rule) matches(rec *employee.Record) bool {
	if containsAny(rec.Department, r.Conditions.Departments) {
		return true
	}
	if containsAny(rec.WorkLocation, r.Conditions.Locations) {
		return true
	}
	haystack := rec.Department + " " + rec.WorkLocation + " " + rec.FullName + " " + rec.Company
	return containsAny(haystack, r.Conditions.Keywords)
}

func (r *Rule) decision() Decision {
	return Decision{
		OU:             r.OU,
		Domain:         r.Domain,
		NetBIOSDomain:  netbiosOrDefault(r.NetBIOSDomain, r.Domain),
		ControllerHint: r.ControllerHint,
	}
}

// containsAny reports whether value contains any of the needles,
// case-insensitively. Empty needles never match.
func containsAny(value string, needles []string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// netbiosOrDefault falls back to the uppercased first DNS label, the common
// convention for pre-Windows-2000 domain names.
func netbiosOrDefault(netbios, domain string) string {
	if netbios != "" {
		return strings.ToUpper(netbios)
	}
	label, _, _ := strings.Cut(domain, ".")
	return strings.ToUpper(label)
}
