// Package test has helpers for database-backed tests and a thin set of
// assertion wrappers.
package test

import (
	"fmt"
	"os"
	"testing"

	"github.com/QixShawnChen/cloud-gene-annotation/models/db"
	"github.com/QixShawnChen/cloud-gene-annotation/setup"
	"github.com/stretchr/testify/assert"
)

// SetUp connects to the test database and prepares all queries. Tests that
// need a database are skipped when DATABASE_URL is unset.
func SetUp(t testing.TB) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}
	if err := setup.DB(setup.DefaultConnection, 10); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateTables(); err != nil {
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
	_, err := db.Conn.Exec(fmt.Sprintf("-- %s\n%s;\n%s;\n%s",
		name,
		getTableDelete("annotation_jobs"),
		getTableDelete("queue_messages"),
		getTableDelete("queue_subscriptions"),
	))
	return err
}

// TearDown deletes all records from the database, and marks the test as failed
// if this was unsuccessful.
func TearDown(t testing.TB) {
	t.Helper()
	if db.Connected() {
		if err := TruncateTables(t); err != nil {
			t.Fatal(err)
		}
	}
}

// AssertEquals fails the test if want and got are not equal.
func AssertEquals(t testing.TB, got interface{}, want interface{}) {
	t.Helper()
	assert.Equal(t, want, got)
}

// AssertNotError fails the test if err is non-nil. msg adds context to the
// failure.
func AssertNotError(t testing.TB, err error, msg string) {
	t.Helper()
	assert.NoError(t, err, msg)
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error, msg string) {
	t.Helper()
	assert.Error(t, err, msg)
}

// Assert fails the test with msg unless cond is true.
func Assert(t testing.TB, cond bool, msg string) {
	t.Helper()
	assert.True(t, cond, msg)
}
