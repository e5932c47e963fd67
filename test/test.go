// Package test contains shared helpers for tests that need a database.
package test

import (
	"fmt"
	"os"
	"testing"

	"github.com/Pingpayio/ping-subscription-service/models/db"
	"github.com/Pingpayio/ping-subscription-service/setup"
)

// SetUp connects to the test database. Tests that call SetUp are skipped
// entirely when DATABASE_URL is unset, so the pure tests still run on
// machines without Postgres.
func SetUp(t testing.TB) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}
	if err := setup.DB(setup.DefaultConnection, 10); err != nil {
		t.Fatal(err)
	}
}

// TruncateTables deletes all records from the database.
func TruncateTables(t testing.TB) error {
	getTableDelete := func(table string) string {
		return "DELETE FROM " + table
	}
	var name string
	if t == nil {
		name = "TruncateTables"
	} else {
		name = t.Name()
	}
	_, err := db.Conn.Exec(fmt.Sprintf("-- %s\n%s;\n%s;\n%s;\n%s",
		name,
		getTableDelete("failed_entries"),
		getTableDelete("dead_letter_entries"),
		getTableDelete("queue_entries"),
		getTableDelete("jobs"),
	))
	return err
}

// TearDown deletes all records from the database, and marks the test as
// failed if this was unsuccessful.
func TearDown(t testing.TB) {
	t.Helper()
	if db.Connected() {
		if err := TruncateTables(t); err != nil {
			t.Fatal(err)
		}
	}
}
