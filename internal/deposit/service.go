// internal/deposit/service.go
package deposit

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookyourshoot/pkg/statestore"
)

// CollectRequest is the rental-approval event from the booking collaborator.
type CollectRequest struct {
	DepositID       uuid.UUID
	RentalID        uuid.UUID
	DepositAmount   decimal.Decimal
	RentalFeeAmount decimal.Decimal
}

// ReturnRequest is the owner's damage claim at equipment hand-back. The
// core only sees the evidence count; files live with the storage
// collaborator.
type ReturnRequest struct {
	DamageCategory    DamageCategory
	ProposedDeduction decimal.Decimal
	EvidenceCount     int
}

// Service defines the command/query interface of the deposit adjudicator.
type Service interface {
	Collect(ctx context.Context, req CollectRequest) (*Deposit, error)
	BeginReturn(ctx context.Context, depositID uuid.UUID, req ReturnRequest) (*Deposit, error)
	FinalizeReview(ctx context.Context, depositID uuid.UUID, approvedAmount decimal.Decimal) (*Deposit, error)
	Get(ctx context.Context, depositID uuid.UUID) (*Deposit, error)
	History(ctx context.Context, depositID uuid.UUID) ([]statestore.Event, error)
}
