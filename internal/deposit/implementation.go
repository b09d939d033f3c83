// internal/deposit/implementation.go
package deposit

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

const aggregateType = "rental_deposit"

// service implements the Service interface over the transition log and
// the rental_deposits read model.
type service struct {
	store           *statestore.Store
	db              *sql.DB
	payments        clients.Emitter
	log             *logrus.Logger
	now             func() time.Time
	reviewThreshold decimal.Decimal
}

// NewService creates a new deposit adjudicator service instance.
func NewService(store *statestore.Store, db *sql.DB, payments clients.Emitter, log *logrus.Logger, reviewThreshold decimal.Decimal) Service {
	return &service{
		store:           store,
		db:              db,
		payments:        payments,
		log:             log,
		now:             func() time.Time { return time.Now().UTC() },
		reviewThreshold: reviewThreshold,
	}
}

// Collect records the deposit hold created by a rental approval.
func (s *service) Collect(ctx context.Context, req CollectRequest) (*Deposit, error) {
	if req.DepositID == uuid.Nil || req.RentalID == uuid.Nil {
		return nil, fmt.Errorf("deposit and rental ids are required")
	}
	if !req.DepositAmount.IsPositive() {
		return nil, fmt.Errorf("%w: got deposit %s", ErrInvalidAmount, req.DepositAmount)
	}
	if req.RentalFeeAmount.IsNegative() {
		return nil, fmt.Errorf("%w: got rental fee %s", ErrInvalidAmount, req.RentalFeeAmount)
	}

	dep := &Deposit{
		ID:              req.DepositID,
		RentalID:        req.RentalID,
		DepositAmount:   req.DepositAmount,
		RentalFeeAmount: req.RentalFeeAmount,
		State:           StateCollected,
		DeductionAmount: decimal.Zero,
		Version:         1,
	}

	eventData, err := json.Marshal(DepositCollectedEvent{
		ID:              dep.ID,
		RentalID:        dep.RentalID,
		DepositAmount:   dep.DepositAmount,
		RentalFeeAmount: dep.RentalFeeAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := statestore.Event{
		AggregateID:   dep.ID,
		AggregateType: aggregateType,
		EventType:     "DepositCollected",
		EventData:     eventData,
	}
	if err := s.store.Append(ctx, dep.ID, aggregateType, 0, []statestore.Event{event}); err != nil {
		if errors.Is(err, statestore.ErrStaleRead) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dep.ID)
		}
		return nil, fmt.Errorf("append event: %w", err)
	}

	query := `
		INSERT INTO rental_deposits (id, rental_id, deposit_amount, rental_fee_amount, state, damage_category, deduction_amount, evidence_count, version)
		VALUES ($1, $2, $3, $4, $5, '', $6, 0, $7)
	`
	_, err = s.db.ExecContext(ctx, query, dep.ID, dep.RentalID, dep.DepositAmount, dep.RentalFeeAmount, dep.State, dep.DeductionAmount, dep.Version)
	if err != nil {
		return nil, fmt.Errorf("insert read model: %w", err)
	}

	return dep, nil
}

// BeginReturn adjudicates the owner's damage claim. The deposit passes
// through the assessment step and lands either finalized or under admin
// review, both recorded in the transition log.
func (s *service) BeginReturn(ctx context.Context, depositID uuid.UUID, req ReturnRequest) (*Deposit, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		dep, err := s.Get(ctx, depositID)
		if err != nil {
			return nil, err
		}

		assessment, err := dep.BeginReturn(req.DamageCategory, req.ProposedDeduction, req.EvidenceCount, s.reviewThreshold)
		if err != nil {
			return nil, err
		}

		assessedData, err := json.Marshal(ReturnAssessedEvent{
			ID:             dep.ID,
			DamageCategory: assessment.Category,
			Deduction:      assessment.Deduction,
			EvidenceCount:  req.EvidenceCount,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}

		events := []statestore.Event{{
			AggregateID:   dep.ID,
			AggregateType: aggregateType,
			EventType:     "ReturnAssessed",
			EventData:     assessedData,
		}}

		if assessment.NextState == StateUnderAdminReview {
			escalatedData, err := json.Marshal(ReviewEscalatedEvent{
				ID:        dep.ID,
				Deduction: assessment.Deduction,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal event data: %w", err)
			}
			events = append(events, statestore.Event{
				AggregateID:   dep.ID,
				AggregateType: aggregateType,
				EventType:     "ReviewEscalated",
				EventData:     escalatedData,
			})
		} else {
			finalizedData, err := json.Marshal(DepositFinalizedEvent{
				ID:        dep.ID,
				Deduction: assessment.Deduction,
				Refund:    dep.DepositAmount.Sub(assessment.Deduction),
			})
			if err != nil {
				return nil, fmt.Errorf("marshal event data: %w", err)
			}
			events = append(events, statestore.Event{
				AggregateID:   dep.ID,
				AggregateType: aggregateType,
				EventType:     "DepositFinalized",
				EventData:     finalizedData,
			})
		}

		if err := s.store.Append(ctx, dep.ID, aggregateType, dep.Version, events); err != nil {
			if errors.Is(err, statestore.ErrStaleRead) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("append events: %w", err)
		}

		dep.State = assessment.NextState
		dep.DamageCategory = assessment.Category
		dep.DeductionAmount = assessment.Deduction
		dep.EvidenceCount = req.EvidenceCount
		dep.Version += len(events)
		if err := s.updateReadModel(ctx, dep); err != nil {
			return nil, err
		}

		s.log.WithFields(logrus.Fields{
			"deposit_id":      dep.ID,
			"damage_category": dep.DamageCategory,
			"deduction":       dep.DeductionAmount,
			"state":           dep.State,
		}).Info("deposit return assessed")

		if dep.State == StateFinalized {
			if err := s.settle(ctx, dep); err != nil {
				return dep, err
			}
		}
		return dep, nil
	}
	return nil, fmt.Errorf("assess return of deposit %s: %w", depositID, lastErr)
}

// FinalizeReview accepts the staff-approved amount for an escalated
// deduction and finalizes the deposit.
func (s *service) FinalizeReview(ctx context.Context, depositID uuid.UUID, approvedAmount decimal.Decimal) (*Deposit, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		dep, err := s.Get(ctx, depositID)
		if err != nil {
			return nil, err
		}

		if err := dep.ApproveReview(approvedAmount); err != nil {
			return nil, err
		}

		finalizedData, err := json.Marshal(DepositFinalizedEvent{
			ID:        dep.ID,
			Deduction: approvedAmount,
			Refund:    dep.DepositAmount.Sub(approvedAmount),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}

		event := statestore.Event{
			AggregateID:   dep.ID,
			AggregateType: aggregateType,
			EventType:     "DepositFinalized",
			EventData:     finalizedData,
		}
		if err := s.store.Append(ctx, dep.ID, aggregateType, dep.Version, []statestore.Event{event}); err != nil {
			if errors.Is(err, statestore.ErrStaleRead) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("append event: %w", err)
		}

		dep.State = StateFinalized
		dep.DeductionAmount = approvedAmount
		dep.Version++
		if err := s.updateReadModel(ctx, dep); err != nil {
			return nil, err
		}

		s.log.WithFields(logrus.Fields{
			"deposit_id": dep.ID,
			"approved":   approvedAmount,
			"refund":     dep.RefundAmount(),
		}).Info("deposit review finalized")

		if err := s.settle(ctx, dep); err != nil {
			return dep, err
		}
		return dep, nil
	}
	return nil, fmt.Errorf("finalize review of deposit %s: %w", depositID, lastErr)
}

// Get retrieves a deposit from the read model.
func (s *service) Get(ctx context.Context, depositID uuid.UUID) (*Deposit, error) {
	query := `
		SELECT id, rental_id, deposit_amount, rental_fee_amount, state, damage_category, deduction_amount, evidence_count, version, created_at, updated_at
		FROM rental_deposits
		WHERE id = $1
	`
	dep := &Deposit{}
	err := s.db.QueryRowContext(ctx, query, depositID).Scan(
		&dep.ID,
		&dep.RentalID,
		&dep.DepositAmount,
		&dep.RentalFeeAmount,
		&dep.State,
		&dep.DamageCategory,
		&dep.DeductionAmount,
		&dep.EvidenceCount,
		&dep.Version,
		&dep.CreatedAt,
		&dep.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, depositID)
		}
		return nil, fmt.Errorf("get deposit from read model: %w", err)
	}
	return dep, nil
}

// History returns the recorded transitions of a deposit.
func (s *service) History(ctx context.Context, depositID uuid.UUID) ([]statestore.Event, error) {
	events, err := s.store.Load(ctx, depositID)
	if err != nil {
		if errors.Is(err, statestore.ErrAggregateNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, depositID)
		}
		return nil, err
	}
	return events, nil
}

func (s *service) updateReadModel(ctx context.Context, dep *Deposit) error {
	query := `
		UPDATE rental_deposits
		SET state = $1, damage_category = $2, deduction_amount = $3, evidence_count = $4, version = $5, updated_at = NOW()
		WHERE id = $6
	`
	if _, err := s.db.ExecContext(ctx, query, dep.State, dep.DamageCategory, dep.DeductionAmount, dep.EvidenceCount, dep.Version, dep.ID); err != nil {
		return fmt.Errorf("update read model: %w", err)
	}
	return nil
}

// settle emits the renter refund and, when a deduction was taken, the
// owner payout. The two amounts sum exactly to the deposit.
func (s *service) settle(ctx context.Context, dep *Deposit) error {
	refund := dep.RefundAmount()
	if refund.IsPositive() {
		if err := s.emit(ctx, dep.ID, clients.RoleRenter, refund); err != nil {
			return err
		}
	}
	if dep.DeductionAmount.IsPositive() {
		if err := s.emit(ctx, dep.ID, clients.RoleOwner, dep.DeductionAmount); err != nil {
			return err
		}
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
		s.log.WithError(err).WithField("subject_id", subjectID).Error("payment instruction undelivered")
		return fmt.Errorf("transition recorded but instruction undelivered: %w", err)
	}
	return nil
}
