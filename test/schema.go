package test

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// ExpectSchema registers the transaction that creates schema on mock.
func ExpectSchema(t *testing.T, mock sqlmock.Sqlmock, schema []string) {
	t.Helper()
	mock.ExpectBegin()
	for _, stmt := range schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()
}
