// internal/dispute/implementation.go
package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bookyourshoot/pkg/statestore"
)

const aggregateType = "dispute"

// service implements the Service interface over the transition log and
// the disputes read model.
type service struct {
	store       *statestore.Store
	db          *sql.DB
	subjects    SubjectLookup
	log         *logrus.Logger
	rateLimiter *rate.Limiter
	now         func() time.Time
	slaWindow   time.Duration
	openWindow  time.Duration
}

// NewService creates a new dispute tracker service instance. slaWindow is
// the staff clock started at open; openWindow is how long after a subject's
// terminal outcome a challenge is still accepted.
func NewService(store *statestore.Store, db *sql.DB, subjects SubjectLookup, log *logrus.Logger, slaWindow, openWindow time.Duration) Service {
	return &service{
		store:       store,
		db:          db,
		subjects:    subjects,
		log:         log,
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Minute), 10), // 10 opens per minute
		now:         func() time.Time { return time.Now().UTC() },
		slaWindow:   slaWindow,
		openWindow:  openWindow,
	}
}

// Open raises a dispute against a terminal escrow or deposit outcome.
func (s *service) Open(ctx context.Context, req OpenRequest) (*Dispute, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	now := s.now()
	d := &Dispute{
		ID:          uuid.New(),
		SubjectID:   req.SubjectID,
		RaisedBy:    req.RaisedBy,
		Reason:      req.Reason,
		Description: req.Description,
		OpenedAt:    now,
		SLADeadline: now.Add(s.slaWindow),
		Status:      StatusOpen,
		Version:     1,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	terminalAt, found, err := s.subjects.TerminalAt(ctx, req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("look up dispute subject: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotEligible, req.SubjectID)
	}
	if now.After(terminalAt.Add(s.openWindow)) {
		return nil, fmt.Errorf("%w: outcome reached at %s", ErrWindowClosed, terminalAt.Format(time.RFC3339))
	}

	var existing uuid.UUID
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM disputes WHERE subject_id = $1 AND status = $2
	`, req.SubjectID, StatusOpen).Scan(&existing)
	if err == nil {
		return nil, fmt.Errorf("%w: dispute %s", ErrDuplicateDispute, existing)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check open disputes: %w", err)
	}

	eventData, err := json.Marshal(DisputeOpenedEvent{
		ID:          d.ID,
		SubjectID:   d.SubjectID,
		RaisedBy:    d.RaisedBy,
		Reason:      d.Reason,
		SLADeadline: d.SLADeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := statestore.Event{
		AggregateID:   d.ID,
		AggregateType: aggregateType,
		EventType:     "DisputeOpened",
		EventData:     eventData,
	}
	if err := s.store.Append(ctx, d.ID, aggregateType, 0, []statestore.Event{event}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	query := `
		INSERT INTO disputes (id, subject_id, raised_by, reason, description, opened_at, sla_deadline, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query, d.ID, d.SubjectID, d.RaisedBy, d.Reason, d.Description, d.OpenedAt, d.SLADeadline, d.Status, d.Version)
	if err != nil {
		// Partial unique index on (subject_id) WHERE status = 'open':
		// a concurrent open for the same subject lost the race here.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%w: subject %s", ErrDuplicateDispute, d.SubjectID)
		}
		return nil, fmt.Errorf("insert read model: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"dispute_id":   d.ID,
		"subject_id":   d.SubjectID,
		"raised_by":    d.RaisedBy,
		"sla_deadline": d.SLADeadline,
	}).Info("dispute opened")

	return d, nil
}

// Close records the externally adjudicated outcome.
func (s *service) Close(ctx context.Context, disputeID uuid.UUID, outcome string) (*Dispute, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		d, err := s.Get(ctx, disputeID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		if err := d.Resolve(outcome, now); err != nil {
			return nil, err
		}

		eventData, err := json.Marshal(DisputeResolvedEvent{
			ID:      d.ID,
			Outcome: outcome,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}

		event := statestore.Event{
			AggregateID:   d.ID,
			AggregateType: aggregateType,
			EventType:     "DisputeResolved",
			EventData:     eventData,
		}
		if err := s.store.Append(ctx, d.ID, aggregateType, d.Version, []statestore.Event{event}); err != nil {
			if errors.Is(err, statestore.ErrStaleRead) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("append event: %w", err)
		}

		d.Version++
		query := `
			UPDATE disputes
			SET status = $1, outcome = $2, resolved_at = $3, version = $4
			WHERE id = $5
		`
		if _, err := s.db.ExecContext(ctx, query, d.Status, d.Outcome, d.ResolvedAt, d.Version, d.ID); err != nil {
			return nil, fmt.Errorf("update read model: %w", err)
		}

		s.log.WithFields(logrus.Fields{
			"dispute_id": d.ID,
			"outcome":    outcome,
		}).Info("dispute resolved")

		return d, nil
	}
	return nil, fmt.Errorf("close dispute %s: %w", disputeID, lastErr)
}

// Get retrieves a dispute from the read model.
func (s *service) Get(ctx context.Context, disputeID uuid.UUID) (*Dispute, error) {
	query := `
		SELECT id, subject_id, raised_by, reason, description, opened_at, sla_deadline, status, COALESCE(outcome, ''), resolved_at, version
		FROM disputes
		WHERE id = $1
	`
	d := &Dispute{}
	err := s.db.QueryRowContext(ctx, query, disputeID).Scan(
		&d.ID,
		&d.SubjectID,
		&d.RaisedBy,
		&d.Reason,
		&d.Description,
		&d.OpenedAt,
		&d.SLADeadline,
		&d.Status,
		&d.Outcome,
		&d.ResolvedAt,
		&d.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, disputeID)
		}
		return nil, fmt.Errorf("get dispute from read model: %w", err)
	}
	return d, nil
}

// ListBySubject returns all disputes raised against one subject, newest
// first.
func (s *service) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]Dispute, error) {
	query := `
		SELECT id, subject_id, raised_by, reason, description, opened_at, sla_deadline, status, COALESCE(outcome, ''), resolved_at, version
		FROM disputes
		WHERE subject_id = $1
		ORDER BY opened_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []Dispute
	for rows.Next() {
		var d Dispute
		err := rows.Scan(
			&d.ID,
			&d.SubjectID,
			&d.RaisedBy,
			&d.Reason,
			&d.Description,
			&d.OpenedAt,
			&d.SLADeadline,
			&d.Status,
			&d.Outcome,
			&d.ResolvedAt,
			&d.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disputes: %w", err)
	}
	return disputes, nil
}
