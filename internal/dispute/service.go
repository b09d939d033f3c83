// internal/dispute/service.go
package dispute

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubjectLookup reports when a dispute subject (escrow transaction or
// rental deposit) reached its terminal outcome. The dispute window is
// anchored there.
type SubjectLookup interface {
	TerminalAt(ctx context.Context, subjectID uuid.UUID) (time.Time, bool, error)
}

// OpenRequest is a party's challenge against a terminal outcome.
type OpenRequest struct {
	SubjectID   uuid.UUID
	RaisedBy    Party
	Reason      string
	Description string
}

// Service defines the command/query interface of the dispute tracker.
type Service interface {
	Open(ctx context.Context, req OpenRequest) (*Dispute, error)
	Close(ctx context.Context, disputeID uuid.UUID, outcome string) (*Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID) (*Dispute, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]Dispute, error)
}
