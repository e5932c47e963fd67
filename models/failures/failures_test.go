package failures

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	types "github.com/Shyp/go-types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pingpayio/ping-subscription-service/models/db"
)

var cols = []string{"entry_id", "job_id", "attempts", "error_message", "payload", "created_at"}

func setUpMock(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.Conn = conn
	t.Cleanup(func() {
		conn.Close()
		db.Conn = nil
		createStmt, trimStmt, getAllStmt = nil, nil, nil
	})

	mock.ExpectPrepare("INSERT INTO failed_entries")
	mock.ExpectPrepare("DELETE FROM failed_entries")
	mock.ExpectPrepare("SELECT (.+) FROM failed_entries")
	require.NoError(t, Setup())
	return mock
}

func TestCreateInsertsAndTrims(t *testing.T) {
	mock := setUpMock(t)

	created := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO failed_entries").
		WithArgs("job_abc-123", sqlmock.AnyArg(), 0, "connection refused", []byte(`{"a":1}`)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("job_abc-123", "job_6740b44e-13b9-475d-af06-979627e0e0d6", 0, "connection refused", []byte(`{"a":1}`), created))
	mock.ExpectExec("DELETE FROM failed_entries").
		WithArgs(Limit).
		WillReturnResult(sqlmock.NewResult(0, 0))

	id, err := types.NewPrefixUUID("job_6740b44e-13b9-475d-af06-979627e0e0d6")
	require.NoError(t, err)
	fe, err := Create("job_abc-123", id, 0, "connection refused", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "job_abc-123", fe.EntryID)
	assert.Equal(t, "connection refused", fe.ErrorMessage.String)
	assert.Equal(t, created, fe.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAllReturnsNewestFirst(t *testing.T) {
	mock := setUpMock(t)

	mock.ExpectQuery("SELECT (.+) FROM failed_entries").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e2", "job_6740b44e-13b9-475d-af06-979627e0e0d6", 0, "timeout", []byte("null"), time.Now()).
			AddRow("e1", "job_6740b44e-13b9-475d-af06-979627e0e0d6", 0, "refused", []byte("null"), time.Now().Add(-time.Hour)))

	entries, err := GetAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e2", entries[0].EntryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
