// internal/escrow/domain.go
package escrow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidStateTransition is returned for any operation against a
	// transaction that is no longer held. It is surfaced to the caller,
	// never swallowed: money must not move twice.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrServiceDatePassed rejects a cancellation attempted after the
	// scheduled service date.
	ErrServiceDatePassed = errors.New("service date already passed")
	// ErrNotEligible means the auto-release timing conditions are not met.
	ErrNotEligible = errors.New("not eligible for auto-release")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNotFound      = errors.New("escrow transaction not found")
	ErrAlreadyExists = errors.New("escrow transaction already exists")
)

type State string

const (
	StateHeld              State = "held"
	StateReleased          State = "released"
	StateRefunded          State = "refunded"
	StatePartiallyRefunded State = "partially_refunded"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded || s == StatePartiallyRefunded
}

// Transaction is the escrow record for one booking payment. Amounts are
// denominated in minor units (whole cents). AmountHeld never changes
// after capture.
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	BookingID       uuid.UUID       `json:"booking_id"`
	AmountHeld      decimal.Decimal `json:"amount_held"`
	State           State           `json:"state"`
	HeldSince       time.Time       `json:"held_since"`
	ServiceDate     time.Time       `json:"service_date"`
	PlatformFeeRate decimal.Decimal `json:"platform_fee_rate"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Release is the held → released transition shared by client confirmation
// and auto-release. The payout is floored to a whole cent; the platform
// retains the remainder, so payout + fee always equals AmountHeld.
type Release struct {
	Payout      decimal.Decimal
	PlatformFee decimal.Decimal
}

func (t *Transaction) Release() (*Release, error) {
	if t.State != StateHeld {
		return nil, fmt.Errorf("%w: cannot release transaction in state %q", ErrInvalidStateTransition, t.State)
	}
	one := decimal.NewFromInt(1)
	payout := t.AmountHeld.Mul(one.Sub(t.PlatformFeeRate)).Floor()
	return &Release{
		Payout:      payout,
		PlatformFee: t.AmountHeld.Sub(payout),
	}, nil
}

// Cancellation carries the computed refund split. ClientShare is truncated
// toward zero; the residual cent lands in CounterpartShare, so the two
// shares always sum exactly to AmountHeld.
type Cancellation struct {
	DaysUntilService int
	ClientShare      decimal.Decimal
	CounterpartShare decimal.Decimal
	NextState        State
}

func (t *Transaction) Cancel(now time.Time) (*Cancellation, error) {
	if t.State != StateHeld {
		return nil, fmt.Errorf("%w: cannot cancel transaction in state %q", ErrInvalidStateTransition, t.State)
	}
	if !now.Before(t.ServiceDate) {
		return nil, ErrServiceDatePassed
	}

	days := DaysUntil(t.ServiceDate, now)
	clientPct, _ := RefundSplit(days)

	hundred := decimal.NewFromInt(100)
	clientShare := t.AmountHeld.Mul(decimal.NewFromInt(clientPct)).Div(hundred).Floor()
	counterpartShare := t.AmountHeld.Sub(clientShare)

	next := StatePartiallyRefunded
	if counterpartShare.IsZero() {
		next = StateRefunded
	}

	return &Cancellation{
		DaysUntilService: days,
		ClientShare:      clientShare,
		CounterpartShare: counterpartShare,
		NextState:        next,
	}, nil
}

// AutoRelease applies the grace-period rule: funds release without client
// action once the service date has passed and the hold is older than the
// grace period. The outcome is identical to a client confirmation.
func (t *Transaction) AutoRelease(now time.Time, gracePeriod time.Duration) (*Release, error) {
	if t.State != StateHeld {
		return nil, fmt.Errorf("%w: cannot auto-release transaction in state %q", ErrInvalidStateTransition, t.State)
	}
	if now.Sub(t.HeldSince) < gracePeriod {
		return nil, fmt.Errorf("%w: grace period still running", ErrNotEligible)
	}
	if !t.ServiceDate.Before(now) {
		return nil, fmt.Errorf("%w: service date not reached", ErrNotEligible)
	}
	return t.Release()
}

// DaysUntil counts whole days from now to the service date, truncated
// toward zero.
func DaysUntil(serviceDate, now time.Time) int {
	return int(serviceDate.Sub(now) / (24 * time.Hour))
}

// EscrowOpenedEvent is recorded when a payment capture creates the hold.
type EscrowOpenedEvent struct {
	ID          uuid.UUID       `json:"id"`
	BookingID   uuid.UUID       `json:"booking_id"`
	AmountHeld  decimal.Decimal `json:"amount_held"`
	ServiceDate time.Time       `json:"service_date"`
	CapturedAt  time.Time       `json:"captured_at"`
}

// FundsReleasedEvent is recorded on release, whether confirmed or automatic.
type FundsReleasedEvent struct {
	ID          uuid.UUID       `json:"id"`
	Payout      decimal.Decimal `json:"payout"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Auto        bool            `json:"auto"`
}

// BookingCancelledEvent is recorded on cancellation with the applied split.
type BookingCancelledEvent struct {
	ID               uuid.UUID       `json:"id"`
	DaysUntilService int             `json:"days_until_service"`
	ClientShare      decimal.Decimal `json:"client_share"`
	CounterpartShare decimal.Decimal `json:"counterpart_share"`
	State            State           `json:"state"`
}
