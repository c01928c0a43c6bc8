package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"

	"orderq/internal/order"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, transient: true},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, transient: true},
		{name: "statement timeout", err: &pgconn.PgError{Code: "57014"}, transient: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, transient: true},
		{name: "wrapped lock timeout", err: fmt.Errorf("lock: %w", &pgconn.PgError{Code: "55P03"}), transient: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, transient: true},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, transient: false},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, transient: false},
		{name: "plain error", err: errors.New("syntax error"), transient: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			assert.Equal(t, tc.transient, order.IsTransient(got))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, isUniqueViolation(nil))
}
