package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/chxfer/internal/clickhouse/chtest"
)

func TestCheckConnection(t *testing.T) {
	store := usersStore()
	svc := newTestService(t, store, Options{})

	res := svc.CheckConnection(context.Background(), testConn())
	assert.Equal(t, CheckResult{Success: true}, res)

	missing := testConn()
	missing.Database = "nope"
	res = svc.CheckConnection(context.Background(), missing)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `database "nope" does not exist`)

	invalid := testConn()
	invalid.Host = ""
	res = svc.CheckConnection(context.Background(), invalid)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "host is required")
}

func TestCheckConnection_UnreachableIsData(t *testing.T) {
	store := chtest.NewStore()
	store.DialErr = errors.New("dial tcp: lookup ch.local: no such host")
	svc := newTestService(t, store, Options{})

	res := svc.CheckConnection(context.Background(), testConn())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no such host")
}

func TestSchemaProbe(t *testing.T) {
	store := usersStore()
	store.CreateTable("default", "accounts", chtest.Column{
		Name: "id", Type: "UUID", DefaultType: "DEFAULT", DefaultExpression: "generateUUIDv4()",
	})
	svc := newTestService(t, store, Options{})
	ctx := context.Background()

	tables, err := svc.ListTables(ctx, testConn())
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "users"}, tables)

	cols, err := svc.ListColumns(ctx, testConn(), "users")
	require.NoError(t, err)
	assert.Equal(t, []ColumnInfo{
		{Name: "id", Type: "UInt64"},
		{Name: "name", Type: "String"},
		{Name: "email", Type: "Nullable(String)"},
		{Name: "created", Type: "DateTime"},
	}, cols, "metadata order, not alphabetical")

	schema, err := svc.DescribeTable(ctx, testConn(), "accounts")
	require.NoError(t, err)
	assert.Equal(t, TableSchema{
		Table: "accounts",
		Columns: []ColumnInfo{{
			Name: "id", Type: "UUID", DefaultType: "DEFAULT", DefaultExpression: "generateUUIDv4()",
		}},
	}, schema)

	_, err = svc.DescribeTable(ctx, testConn(), "missing")
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestSchemaProbe_NeverCaches(t *testing.T) {
	store := usersStore()
	svc := newTestService(t, store, Options{})
	ctx := context.Background()

	cols, err := svc.ListColumns(ctx, testConn(), "users")
	require.NoError(t, err)
	require.Len(t, cols, 4)

	store.CreateTable("default", "users", chtest.Column{Name: "only", Type: "String"})
	cols, err = svc.ListColumns(ctx, testConn(), "users")
	require.NoError(t, err)
	assert.Equal(t, []ColumnInfo{{Name: "only", Type: "String"}}, cols)
}

func TestPreview(t *testing.T) {
	store := usersStore()
	for i := 0; i < 30; i++ {
		store.AddRows("default", "users", []any{uint64(100 + i), "bulk", nil, time.Time{}})
	}
	svc := newTestService(t, store, Options{})

	rows, err := svc.Preview(context.Background(), testConn(), "users", nil)
	require.NoError(t, err)
	require.Len(t, rows, PreviewRowLimit)
	assert.Equal(t, []string{"id", "name", "email", "created"}, rows[0].Columns())

	rows, err = svc.Preview(context.Background(), testConn(), "users", []string{"name", "id"})
	require.NoError(t, err)
	require.Len(t, rows, PreviewRowLimit)
	assert.Equal(t, []string{"name", "id"}, rows[0].Columns())

	body, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada","id":1}`, string(body))

	assert.Contains(t, store.Queries()[len(store.Queries())-1], "LIMIT 20")
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []TransferRecord
}

func (r *recordingRecorder) RecordTransfer(_ context.Context, rec TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func TestService_RecordsTransfers(t *testing.T) {
	store := usersStore()
	rec := &recordingRecorder{}
	svc := newTestService(t, store, Options{Recorder: rec})

	ctx := ContextWithClientIP(context.Background(), "10.1.2.3")
	_, err := svc.Export(ctx, exportConfig("users", "id"))
	require.NoError(t, err)
	_, err = svc.Import(ctx, importConfig("nope\n1\n", "users"))
	require.NoError(t, err)

	require.Len(t, rec.records, 2)

	exp := rec.records[0]
	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, DirectionExport, exp.Direction)
	assert.Equal(t, "users", exp.Table)
	assert.Equal(t, "ch.local", exp.Host)
	assert.True(t, exp.Success)
	assert.Equal(t, int64(3), exp.Rows)
	assert.Equal(t, "10.1.2.3", exp.ClientIP)
	assert.Positive(t, exp.Bytes)

	imp := rec.records[1]
	assert.Equal(t, DirectionImport, imp.Direction)
	assert.False(t, imp.Success)
	assert.Equal(t, "SCH002", imp.ErrorCode)
}

func TestService_LimiterRejectsWhenBusy(t *testing.T) {
	store := usersStore()
	limiter := NewTransferLimiter(1, 20*time.Millisecond)
	svc := newTestService(t, store, Options{Limiter: limiter})

	require.NoError(t, limiter.Acquire(context.Background()))
	res, err := svc.Export(context.Background(), exportConfig("users", "id"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrTooManyTransfers)
	assert.Equal(t, "XFER002", res.Code)

	limiter.Release()
	res, err = svc.Export(context.Background(), exportConfig("users", "id"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, limiter.ActiveCount(), "slot released after the transfer")
}

func TestService_Close(t *testing.T) {
	store := usersStore()
	svc := newTestService(t, store, Options{})

	_, err := svc.ListTables(context.Background(), testConn())
	require.NoError(t, err)
	svc.StoreUpload(nil, "", "")

	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, 0, svc.Pool().Len())
	assert.Equal(t, 0, svc.Streams().Len())

	_, err = svc.ListTables(context.Background(), testConn())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
