// internal/escrow/service.go
package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookyourshoot/pkg/statestore"
)

// OpenRequest is the payment-capture event from the payments collaborator.
type OpenRequest struct {
	TransactionID uuid.UUID
	BookingID     uuid.UUID
	Amount        decimal.Decimal
	ServiceDate   time.Time
	CapturedAt    time.Time
}

// Service defines the command/query interface of the escrow ledger.
type Service interface {
	Open(ctx context.Context, req OpenRequest) (*Transaction, error)
	ConfirmCompletion(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	Cancel(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	CheckAutoRelease(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	Get(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	History(ctx context.Context, transactionID uuid.UUID) ([]statestore.Event, error)
}
