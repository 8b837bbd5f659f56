package model

import (
	"fmt"
	"time"
)

// Column is a Kanban workflow column layered on top of provider mail.
type Column string

const (
	ColumnInbox   Column = "inbox"
	ColumnTodo    Column = "todo"
	ColumnDone    Column = "done"
	ColumnSnoozed Column = "snoozed"
)

// ParseColumn validates a column name.
func ParseColumn(s string) (Column, error) {
	switch c := Column(s); c {
	case ColumnInbox, ColumnTodo, ColumnDone, ColumnSnoozed:
		return c, nil
	default:
		return "", fmt.Errorf("unknown column %q", s)
	}
}

// WorkflowStatus is the overlay entry for one email.
type WorkflowStatus struct {
	UserID  string `json:"userId" db:"user_id"`
	EmailID string `json:"emailId" db:"email_id"`
	Column  Column `json:"column" db:"column_name"`

	// SnoozedUntil is only set while Column is snoozed.
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty" db:"snoozed_until"`

	// PreviousColumn is the column the email was in before its last move.
	PreviousColumn Column `json:"previousColumn,omitempty" db:"previous_column"`

	// Durable entries belong to stub mail and are written through to the
	// database; provider-backed entries live in memory only.
	Durable bool `json:"-" db:"-"`

	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
