// internal/dispute/domain.go
package dispute

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateDispute enforces at most one open dispute per subject.
	ErrDuplicateDispute = errors.New("an open dispute already exists for this subject")
	// ErrWindowClosed rejects a challenge raised after the subject's
	// dispute window expired.
	ErrWindowClosed = errors.New("dispute window closed")
	// ErrSubjectNotEligible means the subject has no terminal outcome to
	// challenge yet.
	ErrSubjectNotEligible     = errors.New("subject has no terminal outcome to dispute")
	ErrSubjectNotFound        = errors.New("dispute subject not found")
	ErrInvalidParty           = errors.New("raised_by must be client or owner")
	ErrReasonRequired         = errors.New("a dispute reason is required")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotFound               = errors.New("dispute not found")
	ErrRateLimited            = errors.New("rate limit exceeded")
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

type Party string

const (
	PartyClient Party = "client"
	PartyOwner  Party = "owner"
)

func (p Party) Valid() bool {
	return p == PartyClient || p == PartyOwner
}

// Dispute challenges the terminal outcome of an escrow transaction or a
// rental deposit. The core tracks the SLA clock only; resolution itself
// happens with the external adjudication process.
type Dispute struct {
	ID          uuid.UUID `json:"id"`
	SubjectID   uuid.UUID `json:"subject_id"`
	RaisedBy    Party     `json:"raised_by"`
	Reason      string    `json:"reason"`
	Description string    `json:"description,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	SLADeadline time.Time `json:"sla_deadline"`
	Status      Status    `json:"status"`
	Outcome     string    `json:"outcome,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Version     int       `json:"version"`
}

// Validate checks the user-supplied fields of a new dispute.
func (d *Dispute) Validate() error {
	if d.SubjectID == uuid.Nil {
		return fmt.Errorf("%w: subject id missing", ErrSubjectNotFound)
	}
	if !d.RaisedBy.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidParty, d.RaisedBy)
	}
	if d.Reason == "" {
		return ErrReasonRequired
	}
	return nil
}

// Resolve records the externally adjudicated outcome and stops the clock.
func (d *Dispute) Resolve(outcome string, now time.Time) error {
	if d.Status != StatusOpen {
		return fmt.Errorf("%w: cannot resolve dispute in status %q", ErrInvalidStateTransition, d.Status)
	}
	d.Status = StatusResolved
	d.Outcome = outcome
	d.ResolvedAt = &now
	return nil
}

// DisputeOpenedEvent is recorded when either party challenges an outcome.
type DisputeOpenedEvent struct {
	ID          uuid.UUID `json:"id"`
	SubjectID   uuid.UUID `json:"subject_id"`
	RaisedBy    Party     `json:"raised_by"`
	Reason      string    `json:"reason"`
	SLADeadline time.Time `json:"sla_deadline"`
}

// DisputeResolvedEvent is recorded when the external adjudication closes
// the dispute.
type DisputeResolvedEvent struct {
	ID      uuid.UUID `json:"id"`
	Outcome string    `json:"outcome"`
}
