// Package models holds the onboarding run records and the report shapes
// the orchestration service assembles.
package models

import (
	"time"

	"github.com/google/uuid"

	"onboarder/internal/collab"
	"onboarder/internal/directory"
	"onboarder/internal/employee"
	"onboarder/internal/idp"
)

// RunStatus tracks where a run is in its lifecycle.
type RunStatus string

const (
	// StatusScheduled: the directory account exists and phase two is queued.
	StatusScheduled RunStatus = "scheduled"
	// StatusRetrying: a phase-two attempt found the account unsynced and
	// requeued itself.
	StatusRetrying RunStatus = "retrying"
	// StatusCompleted: cloud integration finished.
	StatusCompleted RunStatus = "completed"
	// StatusFailed: phase one aborted before the account was usable.
	StatusFailed RunStatus = "failed"
	// StatusManual: retries exhausted, an operator has to finish the setup.
	StatusManual RunStatus = "manual_action"
)

// Run is the persistent record of one onboarding.
type Run struct {
	ID               uuid.UUID       `json:"id"`
	TicketKey        string          `json:"ticketKey"`
	UserEmail        string          `json:"userEmail"`
	Username         string          `json:"username"`
	EmployeeName     string          `json:"employeeName"`
	Domain           string          `json:"domain"`
	OU               string          `json:"ou"`
	TempPasswordHash string          `json:"-"`
	SourceUser       string          `json:"sourceUser,omitempty"`
	RetryCount       int             `json:"retryCount"`
	Status           RunStatus       `json:"status"`
	LastError        string          `json:"lastError,omitempty"`
	Employee         employee.Record `json:"employee"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewHireEvent is the inbound trigger for phase one.
type NewHireEvent struct {
	TicketKey    string          `json:"ticketKey"`
	EmployeeData employee.Record `json:"employeeData"`
}

// PhaseOneResult reports the synchronous part of a run.
type PhaseOneResult struct {
	Run         *Run                          `json:"run"`
	Account     *directory.Account            `json:"account"`
	Replication *directory.ReplicationSummary `json:"replication,omitempty"`
	Scheduled   bool                          `json:"scheduled"`
	// Immediate carries the integration outcome when scheduling fell back
	// to synchronous processing.
	Immediate *IntegrationResult `json:"immediate,omitempty"`
}

// IdentityReport is the identity-provider half of phase two.
type IdentityReport struct {
	UserSynced       bool                    `json:"userSynced"`
	LicenseAssigned  bool                    `json:"licenseAssigned"`
	AccessReplicated bool                    `json:"accessReplicated"`
	License          *idp.License            `json:"license,omitempty"`
	Replication      *idp.ReplicationSummary `json:"replication,omitempty"`
	Errors           []string                `json:"errors,omitempty"`
}

// CollabReport is the collaboration-suite half of phase two.
type CollabReport struct {
	Enabled          bool                      `json:"enabled"`
	AccountCreated   bool                      `json:"accountCreated"`
	AccessReplicated bool                      `json:"accessReplicated"`
	Details          *collab.ReplicationReport `json:"details,omitempty"`
	Error            string                    `json:"error,omitempty"`
}

// IntegrationResult bundles one phase-two attempt.
type IntegrationResult struct {
	Identity IdentityReport `json:"identity"`
	Collab   *CollabReport  `json:"collab,omitempty"`
}
