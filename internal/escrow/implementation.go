// internal/escrow/implementation.go
package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bookyourshoot/internal/clients"
	"bookyourshoot/pkg/statestore"
)

const aggregateType = "escrow_transaction"

// service implements the Service interface over the transition log and
// the escrow_transactions read model.
type service struct {
	store       *statestore.Store
	db          *sql.DB
	payments    clients.Emitter
	log         *logrus.Logger
	now         func() time.Time
	feeRate     decimal.Decimal
	gracePeriod time.Duration
}

// NewService creates a new escrow ledger service instance.
func NewService(store *statestore.Store, db *sql.DB, payments clients.Emitter, log *logrus.Logger, feeRate decimal.Decimal, gracePeriod time.Duration) Service {
	return &service{
		store:       store,
		db:          db,
		payments:    payments,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		feeRate:     feeRate,
		gracePeriod: gracePeriod,
	}
}

// Open records a captured booking payment as a held escrow transaction.
func (s *service) Open(ctx context.Context, req OpenRequest) (*Transaction, error) {
	if req.TransactionID == uuid.Nil || req.BookingID == uuid.Nil {
		return nil, fmt.Errorf("transaction and booking ids are required")
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount)
	}

	txn := &Transaction{
		ID:              req.TransactionID,
		BookingID:       req.BookingID,
		AmountHeld:      req.Amount,
		State:           StateHeld,
		HeldSince:       req.CapturedAt,
		ServiceDate:     req.ServiceDate,
		PlatformFeeRate: s.feeRate,
		Version:         1,
	}

	eventData, err := json.Marshal(EscrowOpenedEvent{
		ID:          txn.ID,
		BookingID:   txn.BookingID,
		AmountHeld:  txn.AmountHeld,
		ServiceDate: txn.ServiceDate,
		CapturedAt:  txn.HeldSince,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := statestore.Event{
		AggregateID:   txn.ID,
		AggregateType: aggregateType,
		EventType:     "EscrowOpened",
		EventData:     eventData,
	}
	if err := s.store.Append(ctx, txn.ID, aggregateType, 0, []statestore.Event{event}); err != nil {
		if errors.Is(err, statestore.ErrStaleRead) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, txn.ID)
		}
		return nil, fmt.Errorf("append event: %w", err)
	}

	query := `
		INSERT INTO escrow_transactions (id, booking_id, amount_held, state, held_since, service_date, platform_fee_rate, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query, txn.ID, txn.BookingID, txn.AmountHeld, txn.State, txn.HeldSince, txn.ServiceDate, txn.PlatformFeeRate, txn.Version)
	if err != nil {
		return nil, fmt.Errorf("insert read model: %w", err)
	}

	return txn, nil
}

// ConfirmCompletion releases the held funds after the client confirms the
// service happened. Valid only while the transaction is held.
func (s *service) ConfirmCompletion(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	return s.release(ctx, transactionID, false)
}

// CheckAutoRelease applies the grace-period rule on behalf of the
// scheduler. Eligibility races are resolved by the version guard: the
// losing attempt observes ErrInvalidStateTransition or ErrStaleRead.
func (s *service) CheckAutoRelease(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	return s.release(ctx, transactionID, true)
}

func (s *service) release(ctx context.Context, transactionID uuid.UUID, auto bool) (*Transaction, error) {
	var lastErr error
	// One retry after a stale read: the reload either observes the
	// competing transition (and the state guard rejects) or succeeds.
	for attempt := 0; attempt < 2; attempt++ {
		txn, err := s.Get(ctx, transactionID)
		if err != nil {
			return nil, err
		}

		var rel *Release
		if auto {
			rel, err = txn.AutoRelease(s.now(), s.gracePeriod)
		} else {
			rel, err = txn.Release()
		}
		if err != nil {
			return nil, err
		}

		eventData, err := json.Marshal(FundsReleasedEvent{
			ID:          txn.ID,
			Payout:      rel.Payout,
			PlatformFee: rel.PlatformFee,
			Auto:        auto,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}

		event := statestore.Event{
			AggregateID:   txn.ID,
			AggregateType: aggregateType,
			EventType:     "FundsReleased",
			EventData:     eventData,
		}
		if err := s.store.Append(ctx, txn.ID, aggregateType, txn.Version, []statestore.Event{event}); err != nil {
			if errors.Is(err, statestore.ErrStaleRead) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("append event: %w", err)
		}

		txn.State = StateReleased
		txn.Version++
		if err := s.updateReadModel(ctx, txn); err != nil {
			return nil, err
		}

		s.log.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"payout":         rel.Payout,
			"platform_fee":   rel.PlatformFee,
			"auto":           auto,
		}).Info("escrow funds released")

		if err := s.emit(ctx, txn.ID, clients.RoleProvider, rel.Payout); err != nil {
			return txn, err
		}
		return txn, nil
	}
	return nil, fmt.Errorf("release transaction %s: %w", transactionID, lastErr)
}

// Cancel applies the notice-period refund split and moves the transaction
// to its terminal refund state. Valid only while held and before the
// service date.
func (s *service) Cancel(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		txn, err := s.Get(ctx, transactionID)
		if err != nil {
			return nil, err
		}

		cancellation, err := txn.Cancel(s.now())
		if err != nil {
			return nil, err
		}

		eventData, err := json.Marshal(BookingCancelledEvent{
			ID:               txn.ID,
			DaysUntilService: cancellation.DaysUntilService,
			ClientShare:      cancellation.ClientShare,
			CounterpartShare: cancellation.CounterpartShare,
			State:            cancellation.NextState,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}

		event := statestore.Event{
			AggregateID:   txn.ID,
			AggregateType: aggregateType,
			EventType:     "BookingCancelled",
			EventData:     eventData,
		}
		if err := s.store.Append(ctx, txn.ID, aggregateType, txn.Version, []statestore.Event{event}); err != nil {
			if errors.Is(err, statestore.ErrStaleRead) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("append event: %w", err)
		}

		txn.State = cancellation.NextState
		txn.Version++
		if err := s.updateReadModel(ctx, txn); err != nil {
			return nil, err
		}

		s.log.WithFields(logrus.Fields{
			"transaction_id":    txn.ID,
			"days_until":        cancellation.DaysUntilService,
			"client_share":      cancellation.ClientShare,
			"counterpart_share": cancellation.CounterpartShare,
			"state":             txn.State,
		}).Info("booking cancelled")

		if cancellation.ClientShare.IsPositive() {
			if err := s.emit(ctx, txn.ID, clients.RoleClient, cancellation.ClientShare); err != nil {
				return txn, err
			}
		}
		if cancellation.CounterpartShare.IsPositive() {
			if err := s.emit(ctx, txn.ID, clients.RoleProvider, cancellation.CounterpartShare); err != nil {
				return txn, err
			}
		}
		return txn, nil
	}
	return nil, fmt.Errorf("cancel transaction %s: %w", transactionID, lastErr)
}

// Get retrieves a transaction from the read model.
func (s *service) Get(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	query := `
		SELECT id, booking_id, amount_held, state, held_since, service_date, platform_fee_rate, version, created_at, updated_at
		FROM escrow_transactions
		WHERE id = $1
	`
	txn := &Transaction{}
	err := s.db.QueryRowContext(ctx, query, transactionID).Scan(
		&txn.ID,
		&txn.BookingID,
		&txn.AmountHeld,
		&txn.State,
		&txn.HeldSince,
		&txn.ServiceDate,
		&txn.PlatformFeeRate,
		&txn.Version,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("get transaction from read model: %w", err)
	}
	return txn, nil
}

// History returns the recorded transitions of a transaction.
func (s *service) History(ctx context.Context, transactionID uuid.UUID) ([]statestore.Event, error) {
	events, err := s.store.Load(ctx, transactionID)
	if err != nil {
		if errors.Is(err, statestore.ErrAggregateNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		return nil, err
	}
	return events, nil
}

func (s *service) updateReadModel(ctx context.Context, txn *Transaction) error {
	query := `
		UPDATE escrow_transactions
		SET state = $1, version = $2, updated_at = NOW()
		WHERE id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, txn.State, txn.Version, txn.ID); err != nil {
		return fmt.Errorf("update read model: %w", err)
	}
	return nil
}

func (s *service) emit(ctx context.Context, subjectID uuid.UUID, role clients.PayeeRole, amount decimal.Decimal) error {
	ins := clients.Instruction{
		InstructionID: uuid.New(),
		SubjectID:     subjectID,
		PayeeRole:     role,
		Amount:        amount,
	}
	if err := s.payments.Emit(ctx, ins); err != nil {
		// The transition is already durable in the log; the gateway can
		// be replayed with the same instruction id. Surface, don't hide.
		s.log.WithError(err).WithField("subject_id", subjectID).Error("payment instruction undelivered")
		return fmt.Errorf("transition recorded but instruction undelivered: %w", err)
	}
	return nil
}
