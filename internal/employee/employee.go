// Package employee models the new-hire record carried by inbound events and
// the name-derived identifiers (email, username) the directory systems need.
package employee

import (
	"strings"

	dErrors "onboarder/pkg/domain-errors"
)

// Record is the employee snapshot of one onboarding run. Read-only after
// Normalize; the same snapshot travels inside the phase-two message.
type Record struct {
	FullName     string `json:"fullName"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Department   string `json:"department,omitempty"`
	WorkLocation string `json:"workLocation,omitempty"`
	Company      string `json:"company,omitempty"`
	JobTitle     string `json:"jobTitle,omitempty"`
	Manager      string `json:"manager,omitempty"`

	// Two historical field names for the replication source; CopySource()
	// resolves them.
	CopyAccessFrom      string `json:"copyAccessFrom,omitempty"`
	ReplicateAccessFrom string `json:"replicateAccessFrom,omitempty"`
}

// Normalize makes full name and first/last name mutually derivable. A bare
// full name splits on the first space; a single-word name duplicates into
// both fields; first+last without a full name concatenate.
func (r *Record) Normalize() {
	if r.FullName != "" && (r.FirstName == "" || r.LastName == "") {
		first, last, found := strings.Cut(r.FullName, " ")
		if found {
			r.FirstName = first
			r.LastName = last
		} else {
			r.FirstName = r.FullName
			r.LastName = r.FullName
		}
	}
	if r.FullName == "" && r.FirstName != "" {
		r.FullName = strings.TrimSpace(r.FirstName + " " + r.LastName)
	}
}

// Validate enforces the required name fields after normalization.
func (r *Record) Validate() error {
	for field, v := range map[string]string{
		"fullName":  r.FullName,
		"firstName": r.FirstName,
		"lastName":  r.LastName,
	} {
		if v == "" {
			return dErrors.Newf(dErrors.CodeValidation, "missing required field: %s", field)
		}
	}
	return nil
}

// CopySource returns the replication source identifier, honoring both field
// spellings, or "" when no source was given.
func (r *Record) CopySource() string {
	if r.CopyAccessFrom != "" {
		return r.CopyAccessFrom
	}
	return r.ReplicateAccessFrom
}
