package placement

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Mapping is the operator-maintained placement document: an ordered rule
// list plus an optional default. Stored as YAML on disk or JSON in the
// secret store; yaml.v3 parses both.
type Mapping struct {
	Rules   []Rule `yaml:"rules" json:"rules"`
	Default *Rule  `yaml:"default,omitempty" json:"default,omitempty"`
}

// Rule places an employee into an organizational unit within a domain and
// optionally pins the controller host used for provisioning.
type Rule struct {
	Conditions     Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	OU             string     `yaml:"ou" json:"ou"`
	Domain         string     `yaml:"domain" json:"domain"`
	NetBIOSDomain  string     `yaml:"netbios_domain,omitempty" json:"netbios_domain,omitempty"`
	ControllerHint string     `yaml:"dc_host,omitempty" json:"dc_host,omitempty"`
}

// Conditions are the three match kinds a rule may carry. A rule with several
// kinds matches when any of them hits.
type Conditions struct {
	Departments []string `yaml:"departments,omitempty" json:"departments,omitempty"`
	Locations   []string `yaml:"locations,omitempty" json:"locations,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// ParseMapping decodes and validates a mapping document.
func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse placement mapping: %w", err)
	}

	for i, rule := range m.Rules {
		if rule.Domain == "" {
			return nil, fmt.Errorf("placement mapping: rule %d has no domain", i)
		}
		if rule.OU == "" {
			return nil, fmt.Errorf("placement mapping: rule %d has no ou", i)
		}
	}
	if m.Default != nil && m.Default.Domain == "" {
		return nil, fmt.Errorf("placement mapping: default rule has no domain")
	}
	return &m, nil
}
