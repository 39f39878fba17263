package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 25 || c.MaxIdleConns != 25 {
		t.Fatalf("unexpected conns: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %v", c.PingTimeout)
	}

	c = PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if c.MaxOpenConns != 4 {
		t.Fatalf("explicit value overwritten: %d", c.MaxOpenConns)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("fk violation is not unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not unique violation")
	}
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected fk violation")
	}
}

func TestNullString(t *testing.T) {
	if NullString("").Valid {
		t.Fatalf("empty string should be NULL")
	}
	if ns := NullString("x"); !ns.Valid || ns.String != "x" {
		t.Fatalf("unexpected: %+v", ns)
	}
}
