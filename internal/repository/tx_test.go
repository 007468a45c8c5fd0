package repository

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/picklepot-store/internal/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		conflict  bool
	}{
		{name: "serialization", err: &pgconn.PgError{Code: codeSerializationFailure}, retryable: true},
		{name: "deadlock", err: errors.Wrap(&pgconn.PgError{Code: codeDeadlockDetected}, "update"), retryable: true},
		{name: "lock timeout", err: &pgconn.PgError{Code: codeLockNotAvailable}, conflict: true},
		{name: "unique", err: &pgconn.PgError{Code: codeUniqueViolation}, conflict: true},
		{name: "check", err: &pgconn.PgError{Code: "23514"}},
		{name: "domain", err: apperr.Validation("bad")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, retryable(tt.err))
			assert.Equal(t, tt.conflict, errors.Is(classify(tt.err), apperr.ErrConcurrencyConflict))
		})
	}
}

func TestNewTransactorDefaults(t *testing.T) {
	tx := NewTransactor(nil, TxOptions{})
	assert.Equal(t, DefaultLockTimeout, tx.lockTimeout)
	assert.Equal(t, DefaultMaxRetries, tx.maxRetries)

	tx = NewTransactor(nil, TxOptions{MaxRetries: -1})
	assert.Zero(t, tx.maxRetries)
}
