package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))

	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert invoice: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry '1-01/26' for key 'uniq'")))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: invoices.tenant_id, invoices.period")))
}

func TestPGCode(t *testing.T) {
	assert.Equal(t, "55P03", PGCode(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "55P03"})))
	assert.Equal(t, "", PGCode(errors.New("plain")))
}
