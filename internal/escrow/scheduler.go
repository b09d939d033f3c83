// internal/escrow/scheduler.go
package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bookyourshoot/pkg/statestore"
)

// Scheduler sweeps held transactions past their grace period and releases
// them. Sweeps are re-entrant: two overlapping sweeps, or a sweep racing a
// client action, cannot double-release because the ledger's version guard
// lets exactly one transition through.
type Scheduler struct {
	service     Service
	db          *sql.DB
	log         *logrus.Logger
	interval    time.Duration
	gracePeriod time.Duration
	now         func() time.Time
}

func NewScheduler(service Service, db *sql.DB, log *logrus.Logger, interval, gracePeriod time.Duration) *Scheduler {
	return &Scheduler{
		service:     service,
		db:          db,
		log:         log,
		interval:    interval,
		gracePeriod: gracePeriod,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (sc *Scheduler) Run(ctx context.Context) {
	sc.log.WithField("interval", sc.interval).Info("auto-release scheduler started")

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sc.log.Info("auto-release scheduler stopped")
			return
		case <-ticker.C:
			released, err := sc.RunOnce(ctx)
			if err != nil {
				sc.log.WithError(err).Error("auto-release sweep failed")
				continue
			}
			if released > 0 {
				sc.log.WithField("released", released).Info("auto-release sweep completed")
			}
		}
	}
}

// RunOnce scans for eligible transactions and releases each. It returns
// the number actually released; transactions another actor got to first
// are skipped silently, since the skip reduces to a no-op.
func (sc *Scheduler) RunOnce(ctx context.Context) (int, error) {
	ids, err := sc.eligible(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		_, err := sc.service.CheckAutoRelease(ctx, id)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrInvalidStateTransition),
			errors.Is(err, ErrNotEligible),
			errors.Is(err, statestore.ErrStaleRead):
			// Lost the race with a concurrent confirm/cancel or another
			// sweep. Expected on this call path.
			sc.log.WithField("transaction_id", id).Debug("auto-release skipped, transition already taken")
		default:
			sc.log.WithError(err).WithField("transaction_id", id).Warn("auto-release failed")
		}
	}
	return released, nil
}

func (sc *Scheduler) eligible(ctx context.Context) ([]uuid.UUID, error) {
	now := sc.now()
	query := `
		SELECT id
		FROM escrow_transactions
		WHERE state = $1 AND held_since <= $2 AND service_date < $3
		ORDER BY held_since ASC
	`
	rows, err := sc.db.QueryContext(ctx, query, StateHeld, now.Add(-sc.gracePeriod), now)
	if err != nil {
		return nil, fmt.Errorf("query eligible transactions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible transactions: %w", err)
	}
	return ids, nil
}
