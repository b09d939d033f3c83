// internal/deposit/domain.go
package deposit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrEvidenceRequired rejects a damage claim with no attached evidence.
	ErrEvidenceRequired = errors.New("evidence required for damage deduction")
	// ErrDeductionOutOfBounds rejects a deduction below zero or above the deposit.
	ErrDeductionOutOfBounds = errors.New("deduction out of bounds")
	ErrUnknownDamageCategory = errors.New("unknown damage category")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrNotFound              = errors.New("rental deposit not found")
	ErrAlreadyExists         = errors.New("rental deposit already exists")
)

type State string

const (
	StateCollected        State = "collected"
	StatePendingReturn    State = "pending_return_assessment"
	StateFinalized        State = "finalized"
	StateUnderAdminReview State = "under_admin_review"
)

type DamageCategory string

const (
	DamageNone         DamageCategory = "none"
	DamageMinor        DamageCategory = "minor"
	DamageModerate     DamageCategory = "moderate"
	DamageMajor        DamageCategory = "major"
	DamageMissingParts DamageCategory = "missing_parts"
	DamageLateReturn   DamageCategory = "late_return"
)

func (c DamageCategory) Valid() bool {
	switch c {
	case DamageNone, DamageMinor, DamageModerate, DamageMajor, DamageMissingParts, DamageLateReturn:
		return true
	}
	return false
}

// Deposit is the security deposit held against one equipment rental,
// distinct from the rental fee. Amounts are minor units (whole cents).
type Deposit struct {
	ID              uuid.UUID       `json:"id"`
	RentalID        uuid.UUID       `json:"rental_id"`
	DepositAmount   decimal.Decimal `json:"deposit_amount"`
	RentalFeeAmount decimal.Decimal `json:"rental_fee_amount"`
	State           State           `json:"state"`
	DamageCategory  DamageCategory  `json:"damage_category,omitempty"`
	DeductionAmount decimal.Decimal `json:"deduction_amount"`
	EvidenceCount   int             `json:"evidence_count"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Assessment is the outcome of a return: either a finalized deduction or
// an escalation to admin review when the deduction exceeds the threshold
// share of the deposit.
type Assessment struct {
	Category  DamageCategory
	Deduction decimal.Decimal
	NextState State
}

// BeginReturn validates the owner's damage claim at equipment hand-back.
// Any category other than "none" needs at least one evidentiary item.
// The review threshold is a hard rule and independent of the advisory
// guidance ranges; a deduction of exactly the threshold share finalizes
// directly.
func (d *Deposit) BeginReturn(category DamageCategory, proposed decimal.Decimal, evidenceCount int, reviewThreshold decimal.Decimal) (*Assessment, error) {
	if d.State != StateCollected {
		return nil, fmt.Errorf("%w: cannot assess return of deposit in state %q", ErrInvalidStateTransition, d.State)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDamageCategory, category)
	}
	if category != DamageNone && evidenceCount < 1 {
		return nil, fmt.Errorf("%w: category %q", ErrEvidenceRequired, category)
	}
	if proposed.IsNegative() || proposed.GreaterThan(d.DepositAmount) {
		return nil, fmt.Errorf("%w: %s against deposit %s", ErrDeductionOutOfBounds, proposed, d.DepositAmount)
	}

	next := StateFinalized
	if proposed.GreaterThan(d.DepositAmount.Mul(reviewThreshold)) {
		next = StateUnderAdminReview
	}

	return &Assessment{
		Category:  category,
		Deduction: proposed,
		NextState: next,
	}, nil
}

// ApproveReview accepts the staff-approved deduction for an escalated
// assessment, re-validated against the deposit bounds.
func (d *Deposit) ApproveReview(approved decimal.Decimal) error {
	if d.State != StateUnderAdminReview {
		return fmt.Errorf("%w: cannot approve review of deposit in state %q", ErrInvalidStateTransition, d.State)
	}
	if approved.IsNegative() || approved.GreaterThan(d.DepositAmount) {
		return fmt.Errorf("%w: %s against deposit %s", ErrDeductionOutOfBounds, approved, d.DepositAmount)
	}
	return nil
}

// RefundAmount is what the renter gets back: deposit minus deduction.
// Refund and deduction always sum exactly to the deposit.
func (d *Deposit) RefundAmount() decimal.Decimal {
	return d.DepositAmount.Sub(d.DeductionAmount)
}

// GuidanceRange is the suggested deduction band for a damage category,
// expressed as percent of the deposit. Operator guidance only; the
// adjudicator never enforces it.
type GuidanceRange struct {
	Category DamageCategory `json:"category"`
	MinPct   int            `json:"min_pct"`
	MaxPct   int            `json:"max_pct"`
	PerDay   bool           `json:"per_day,omitempty"`
}

func DeductionGuidance() []GuidanceRange {
	return []GuidanceRange{
		{Category: DamageNone, MinPct: 0, MaxPct: 0},
		{Category: DamageMinor, MinPct: 10, MaxPct: 20},
		{Category: DamageModerate, MinPct: 20, MaxPct: 50},
		{Category: DamageMajor, MinPct: 50, MaxPct: 100},
		{Category: DamageMissingParts, MinPct: 30, MaxPct: 100},
		{Category: DamageLateReturn, MinPct: 5, MaxPct: 30, PerDay: true},
	}
}

// DepositCollectedEvent is recorded when a rental approval creates the hold.
type DepositCollectedEvent struct {
	ID              uuid.UUID       `json:"id"`
	RentalID        uuid.UUID       `json:"rental_id"`
	DepositAmount   decimal.Decimal `json:"deposit_amount"`
	RentalFeeAmount decimal.Decimal `json:"rental_fee_amount"`
}

// ReturnAssessedEvent is recorded when the owner files the return claim.
type ReturnAssessedEvent struct {
	ID             uuid.UUID       `json:"id"`
	DamageCategory DamageCategory  `json:"damage_category"`
	Deduction      decimal.Decimal `json:"deduction"`
	EvidenceCount  int             `json:"evidence_count"`
}

// ReviewEscalatedEvent is recorded when the deduction exceeds the
// admin-review threshold.
type ReviewEscalatedEvent struct {
	ID        uuid.UUID       `json:"id"`
	Deduction decimal.Decimal `json:"deduction"`
}

// DepositFinalizedEvent is recorded on finalization, direct or via review.
type DepositFinalizedEvent struct {
	ID        uuid.UUID       `json:"id"`
	Deduction decimal.Decimal `json:"deduction"`
	Refund    decimal.Decimal `json:"refund"`
}
