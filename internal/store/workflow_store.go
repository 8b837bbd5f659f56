package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

type workflowRow struct {
	UserID         string       `db:"user_id"`
	EmailID        string       `db:"email_id"`
	Column         string       `db:"column_name"`
	SnoozedUntil   sql.NullTime `db:"snoozed_until"`
	PreviousColumn string       `db:"previous_column"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

// SaveWorkflowStatus inserts or replaces a workflow entry.
func (s *SQLiteStore) SaveWorkflowStatus(ctx context.Context, st model.WorkflowStatus) error {
	var until sql.NullTime
	if st.SnoozedUntil != nil {
		until = sql.NullTime{Time: st.SnoozedUntil.UTC(), Valid: true}
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflow_statuses (
			user_id, email_id, column_name,
			snoozed_until, previous_column, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		st.UserID, st.EmailID, string(st.Column),
		until, string(st.PreviousColumn), updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving workflow status %s/%s: %w", st.UserID, st.EmailID, err)
	}
	return nil
}

// DeleteWorkflowStatus removes a workflow entry.
func (s *SQLiteStore) DeleteWorkflowStatus(ctx context.Context, userID, emailID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_statuses WHERE user_id = ? AND email_id = ?",
		userID, emailID,
	)
	if err != nil {
		return fmt.Errorf("deleting workflow status %s/%s: %w", userID, emailID, err)
	}
	return nil
}

// LoadWorkflowStatuses returns every stored entry, marked durable.
func (s *SQLiteStore) LoadWorkflowStatuses(ctx context.Context) ([]model.WorkflowStatus, error) {
	var rows []workflowRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, email_id, column_name,
			snoozed_until, previous_column, updated_at
		FROM workflow_statuses
		ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("querying workflow statuses: %w", err)
	}

	out := make([]model.WorkflowStatus, 0, len(rows))
	for _, r := range rows {
		st := model.WorkflowStatus{
			UserID:         r.UserID,
			EmailID:        r.EmailID,
			Column:         model.Column(r.Column),
			PreviousColumn: model.Column(r.PreviousColumn),
			Durable:        true,
			UpdatedAt:      r.UpdatedAt,
		}
		if r.SnoozedUntil.Valid {
			t := r.SnoozedUntil.Time
			st.SnoozedUntil = &t
		}
		out = append(out, st)
	}
	return out, nil
}
