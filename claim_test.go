package tableq

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/tableq/internal"
	"github.com/mattbonnell/tableq/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var rowColumns = []string{"id", "queue", "body", "headers", "properties", "priority", "delayed_until", "redelivered", "consumer_id"}

func newMockClaimer(t *testing.T, driverName string) (*claimer, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })

	d, err := internal.GetDialect(driverName)
	require.NoError(t, err)

	now := time.Now().UTC()
	opts := defaultOptions()
	opts.clock = func() time.Time { return now }
	return newClaimer(sqlx.NewDb(db, driverName), d, opts), mock, now
}

func expectSelect(mock sqlmock.Sqlmock, query string, now time.Time) *sqlmock.ExpectedQuery {
	return mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("orders", now.Unix())
}

func TestClaimShouldSucceed_OneMessage(t *testing.T) {
	c, mock, now := newMockClaimer(t, arbitraryDriverName)
	claimed := testutil.ToFloat64(metrics.MessagesClaimed.WithLabelValues("orders"))

	mock.ExpectBegin()
	expectSelect(mock, claimQuery+" FOR UPDATE", now).
		WillReturnRows(
			sqlmock.NewRows(rowColumns).
				AddRow(1, "orders", "message payload", `{"trace":"abc"}`, nil, 3, nil, false, nil),
		)
	mock.
		ExpectExec(regexp.QuoteMeta(`DELETE FROM message WHERE id = ?`)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, int64(1), m.ID)
	require.Equal(t, []byte("message payload"), m.Body)
	require.Equal(t, map[string]string{"trace": "abc"}, m.Headers)
	require.Equal(t, map[string]string{}, m.Properties)
	require.Equal(t, 3, m.Priority)
	require.False(t, m.Redelivered)
	require.Equal(t, "orders", m.Queue())
	require.Equal(t, claimed+1, testutil.ToFloat64(metrics.MessagesClaimed.WithLabelValues("orders")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldReturnNil_NoMessages(t *testing.T) {
	c, mock, now := newMockClaimer(t, "postgres")

	mock.ExpectBegin()
	expectSelect(mock, `SELECT id, queue, body, headers, properties, priority, delayed_until, redelivered, consumer_id FROM message WHERE queue = $1 AND (delayed_until IS NULL OR delayed_until <= $2) AND consumer_id IS NULL ORDER BY priority DESC, id ASC LIMIT 1 FOR UPDATE`, now).
		WillReturnRows(sqlmock.NewRows(rowColumns))
	mock.ExpectCommit()

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldFail_DeleteAffectedNoRows(t *testing.T) {
	c, mock, now := newMockClaimer(t, arbitraryDriverName)

	mock.ExpectBegin()
	expectSelect(mock, claimQuery+" FOR UPDATE", now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(1, "orders", "p", nil, nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.Nil(t, m)
	require.True(t, errors.Is(err, ErrConsistencyFault))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldFail_DeleteAffectedTwoRows(t *testing.T) {
	c, mock, now := newMockClaimer(t, "sqlite3")
	faults := testutil.ToFloat64(metrics.ConsistencyFaults.WithLabelValues("orders"))

	mock.ExpectBegin()
	expectSelect(mock, claimQuery, now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(4, "orders", "p", nil, nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	_, err := c.tryClaimNext(context.Background(), "orders")
	require.True(t, errors.Is(err, ErrConsistencyFault))
	require.EqualError(t, err, "tableq: consistency fault: deleting message 4 affected 2 rows")
	require.Equal(t, faults+1, testutil.ToFloat64(metrics.ConsistencyFaults.WithLabelValues("orders")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldAbsorb_SelectError(t *testing.T) {
	c, mock, now := newMockClaimer(t, arbitraryDriverName)
	transient := testutil.ToFloat64(metrics.TransientErrors.WithLabelValues("orders"))

	mock.ExpectBegin()
	expectSelect(mock, claimQuery+" FOR UPDATE", now).
		WillReturnError(errors.New("Deadlock found when trying to get lock"))
	mock.ExpectRollback()

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.Nil(t, m)
	require.Equal(t, transient+1, testutil.ToFloat64(metrics.TransientErrors.WithLabelValues("orders")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldAbsorb_BeginError(t *testing.T) {
	c, mock, _ := newMockClaimer(t, arbitraryDriverName)

	mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldAbsorb_CommitError(t *testing.T) {
	c, mock, now := newMockClaimer(t, arbitraryDriverName)

	mock.ExpectBegin()
	expectSelect(mock, claimQuery+" FOR UPDATE", now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(1, "orders", "p", nil, nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("lock wait timeout exceeded"))

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldFail_UndecodableRowRemoved(t *testing.T) {
	c, mock, now := newMockClaimer(t, arbitraryDriverName)
	undecodable := testutil.ToFloat64(metrics.UndecodableMessages.WithLabelValues("orders"))

	mock.ExpectBegin()
	expectSelect(mock, claimQuery+" FOR UPDATE", now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(1, "orders", "p", "{broken", nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.Nil(t, m)
	require.True(t, errors.Is(err, ErrUndecodableMessage))
	require.Contains(t, err.Error(), "message 1")
	require.False(t, errors.Is(err, ErrConsistencyFault))
	require.Equal(t, undecodable+1, testutil.ToFloat64(metrics.UndecodableMessages.WithLabelValues("orders")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldRetry_CompareAndDeleteLost(t *testing.T) {
	c, mock, now := newMockClaimer(t, "sqlite3")

	mock.ExpectBegin()
	expectSelect(mock, claimQuery, now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(1, "orders", "first", nil, nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectSelect(mock, claimQuery, now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(2, "orders", "second", nil, nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, int64(2), m.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldReturnNil_ContentionRetriesExhausted(t *testing.T) {
	c, mock, now := newMockClaimer(t, "sqlite3")
	c.contentionRetries = 1

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		expectSelect(mock, claimQuery, now).
			WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(1, "orders", "p", nil, nil, 0, nil, false, nil))
		mock.
			ExpectExec(regexp.QuoteMeta(deleteQuery)).
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	m, err := c.tryClaimNext(context.Background(), "orders")
	require.NoError(t, err)
	require.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimShouldNotBeInterrupted_CancelledContext(t *testing.T) {
	c, mock, now := newMockClaimer(t, arbitraryDriverName)

	mock.ExpectBegin()
	expectSelect(mock, claimQuery+" FOR UPDATE", now).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(1, "orders", "p", nil, nil, 0, nil, false, nil))
	mock.
		ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := c.tryClaimNext(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}
