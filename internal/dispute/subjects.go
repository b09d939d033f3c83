// internal/dispute/subjects.go
package dispute

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReadModelSubjects resolves dispute subjects against the escrow and
// deposit read models. A subject is eligible once it holds a terminal
// outcome: a released/refunded escrow transaction or a finalized deposit.
type ReadModelSubjects struct {
	db *sql.DB
}

func NewReadModelSubjects(db *sql.DB) *ReadModelSubjects {
	return &ReadModelSubjects{db: db}
}

func (r *ReadModelSubjects) TerminalAt(ctx context.Context, subjectID uuid.UUID) (time.Time, bool, error) {
	query := `
		SELECT updated_at FROM escrow_transactions
		WHERE id = $1 AND state IN ('released', 'refunded', 'partially_refunded')
		UNION ALL
		SELECT updated_at FROM rental_deposits
		WHERE id = $1 AND state = 'finalized'
	`
	var terminalAt time.Time
	err := r.db.QueryRowContext(ctx, query, subjectID).Scan(&terminalAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query subject outcome: %w", err)
	}
	return terminalAt, true, nil
}
