package testutil

import (
	"os"
	"testing"
)

// PostgresDSN returns TEST_PG_DSN, skipping the test when it is not set.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	return dsn
}
