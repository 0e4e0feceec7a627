package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/chxfer/internal/clickhouse/chtest"
	"github.com/JonMunkholm/chxfer/internal/config"
	"github.com/JonMunkholm/chxfer/internal/core"
)

const connJSON = `{"host":"ch.local","port":"8123","database":"default","username":"default","password":"secret"}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 3000, ShutdownTimeout: time.Second},
		Transfer: config.TransferConfig{ChunkSize: 1000, MaxConcurrent: 2, MaxWait: time.Second, Timeout: time.Minute, MaxFileSize: 1 << 20},
		CORS:     config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
	}
}

type fakeHistory struct {
	recs  []core.TransferRecord
	limit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]core.TransferRecord, error) {
	f.limit = limit
	return f.recs, nil
}

func newTestServer(t *testing.T, store *chtest.Store, cfg *config.Config, opts Options) *Server {
	t.Helper()
	pool := core.NewPool(store.Dialer(), core.PoolOptions{Logger: discardLogger()})
	streams := core.NewStreamRegistry(core.RegistryOptions{Logger: discardLogger()})
	svc := core.NewService(pool, streams, core.Options{
		ChunkSize: cfg.Transfer.ChunkSize,
		Limiter:   core.NewTransferLimiter(cfg.Transfer.MaxConcurrent, cfg.Transfer.MaxWait),
		Logger:    discardLogger(),
	})
	opts.Logger = discardLogger()
	srv := NewServer(svc, cfg, opts)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		_ = svc.Close(context.Background())
	})
	return srv
}

func seededStore() *chtest.Store {
	store := chtest.NewStore()
	store.CreateTable("default", "events",
		chtest.Column{Name: "id", Type: "UInt64"},
		chtest.Column{Name: "name", Type: "String"},
	)
	store.AddRows("default", "events", []any{uint64(1), "a"}, []any{uint64(2), "b"})
	return store
}

func do(t *testing.T, srv *Server, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, srv, http.MethodPost, path, "application/json", strings.NewReader(body))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	rec := do(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "transfers")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCheckConnection(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/check-connection", connJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = postJSON(t, srv, "/api/ingestion/check-connection",
		`{"host":"ch.local","port":8123,"database":"nope","username":"default"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[core.CheckResult](t, rec)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, `"nope" does not exist`)
}

func TestDisconnect(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, testConfig(), Options{})
	pool := srv.service.Pool()

	rec := postJSON(t, srv, "/api/ingestion/check-connection", connJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, pool.Len())

	rec = do(t, srv, http.MethodDelete, "/api/ingestion/connection", "application/json", strings.NewReader(connJSON))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 1, store.Closes())

	// Disconnecting an idle destination is a no-op.
	rec = do(t, srv, http.MethodDelete, "/api/ingestion/connection", "application/json", strings.NewReader(connJSON))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postJSON(t, srv, "/api/ingestion/check-connection", connJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, store.Dials(), "redials after disconnect")

	rec = do(t, srv, http.MethodDelete, "/api/ingestion/connection", "application/json",
		strings.NewReader(`{"port":8123,"database":"default"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchemaRoutes(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/tables", connJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["events"]`, rec.Body.String())

	withTable := strings.TrimSuffix(connJSON, "}") + `,"table":"events"}`

	rec = postJSON(t, srv, "/api/ingestion/columns", withTable)
	require.Equal(t, http.StatusOK, rec.Code)
	cols := decode[[]core.ColumnInfo](t, rec)
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)

	rec = postJSON(t, srv, "/api/ingestion/schema", withTable)
	require.Equal(t, http.StatusOK, rec.Code)
	schema := decode[core.TableSchema](t, rec)
	assert.Equal(t, "events", schema.Table)

	rec = postJSON(t, srv, "/api/ingestion/preview", strings.TrimSuffix(withTable, "}")+`,"columns":["name"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"a"},{"name":"b"}]`, rec.Body.String())
}

func TestSchemaRoutes_Errors(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"bad json", "/api/ingestion/tables", `{"host":`, http.StatusBadRequest, "IN006"},
		{"non numeric port", "/api/ingestion/tables", `{"host":"h","port":"abc"}`, http.StatusBadRequest, "IN006"},
		{"missing table", "/api/ingestion/columns", connJSON, http.StatusBadRequest, "IN006"},
		{"invalid connection", "/api/ingestion/tables", `{"port":8123}`, http.StatusBadRequest, "IN005"},
		{"unknown table", "/api/ingestion/schema", strings.TrimSuffix(connJSON, "}") + `,"table":"ghost"}`, http.StatusUnprocessableEntity, "SCH001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, srv, tt.path, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			body := decode[ErrorResponse](t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantErr, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestSchemaRoutes_Unreachable(t *testing.T) {
	store := seededStore()
	store.DialErr = errors.New("dial tcp: connect: connection refused")
	srv := newTestServer(t, store, testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/tables", connJSON)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "CONN002", decode[ErrorResponse](t, rec).Code)
}

func exportBody(table string, columns string) string {
	return `{"source":{"type":"clickhouse","connection":` + connJSON + `,"table":"` + table + `","columns":` + columns + `},
		"target":{"type":"flatfile"}}`
}

func importBody(content string) string {
	c, _ := json.Marshal(content)
	return `{"source":{"type":"flatfile","fileContent":` + string(c) + `},
		"target":{"type":"clickhouse","connection":` + connJSON + `,"table":"events"}}`
}

func TestExport(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/export", exportBody("events", `["name","id"]`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"count":2,"fileContent":"name,id\na,1\nb,2\n"}`, rec.Body.String())
}

func TestExport_Failures(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/export", exportBody("ghost", `["id"]`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "SCH001", body["code"])
	assert.NotContains(t, body, "count")

	rec = postJSON(t, srv, "/api/ingestion/export", importBody("id\n1\n"))
	require.Equal(t, http.StatusBadRequest, rec.Code, "wrong direction")
}

func TestTransfer_RejectsSameType(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	body := `{"source":{"type":"flatfile","fileContent":"a"},"target":{"type":"flatfile"}}`
	rec := postJSON(t, srv, "/api/ingestion/transfer", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "must cross systems")
}

func TestTransfer_Dispatches(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/transfer", importBody("id,name,extra\n3,c,x\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"count":1}`, rec.Body.String())
	assert.Len(t, store.Rows("default", "events"), 3)
}

func TestImport_JSON(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/import", importBody(""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IN001", decode[map[string]any](t, rec)["code"])
	assert.Zero(t, store.Dials(), "empty file never reaches the store")
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func TestImport_Multipart(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, testConfig(), Options{})

	body := `{"source":{"type":"flatfile","delimiter":";"},
		"target":{"type":"clickhouse","connection":` + connJSON + `,"table":"events"}}`
	ct, buf := multipartBody(t, map[string]string{"body": body}, "events.csv", "id;name\n10;x\n11;y\n")

	rec := do(t, srv, http.MethodPost, "/api/ingestion/import", ct, buf)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"count":2}`, rec.Body.String())
	assert.Len(t, store.Rows("default", "events"), 4)
	assert.Zero(t, srv.service.Streams().Len(), "uploaded stream is released")
}

func TestImport_MultipartRejectsBothSources(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	body := `{"source":{"type":"flatfile","streamId":"abc"},
		"target":{"type":"clickhouse","connection":` + connJSON + `,"table":"events"}}`
	ct, buf := multipartBody(t, map[string]string{"body": body}, "events.csv", "id\n1\n")

	rec := do(t, srv, http.MethodPost, "/api/ingestion/import", ct, buf)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IN002", decode[ErrorResponse](t, rec).Code)
}

func TestUploadThenImport(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, testConfig(), Options{})

	ct, buf := multipartBody(t, nil, "big.csv", "name,id\nz,99\n")
	rec := do(t, srv, http.MethodPost, "/api/ingestion/uploads", ct, buf)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	up := decode[map[string]any](t, rec)
	id, _ := up["streamId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "big.csv", up["fileName"])

	body := `{"source":{"type":"flatfile","streamId":"` + id + `"},
		"target":{"type":"clickhouse","connection":` + connJSON + `,"table":"events"}}`
	rec = postJSON(t, srv, "/api/ingestion/import", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"count":1}`, rec.Body.String())

	// The handle is single use.
	rec = postJSON(t, srv, "/api/ingestion/import", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IN003", decode[map[string]any](t, rec)["code"])
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Transfer.MaxFileSize = 8
	srv := newTestServer(t, seededStore(), cfg, Options{})

	ct, buf := multipartBody(t, nil, "big.csv", "0123456789abcdef")
	rec := do(t, srv, http.MethodPost, "/api/ingestion/uploads", ct, buf)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "file too large")
	assert.Zero(t, srv.service.Streams().Len())
}

func TestStreamExport(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	body := `{"source":{"type":"clickhouse","connection":` + connJSON + `,"table":"events","columns":["id","name"]},
		"target":{"type":"flatfile","delimiter":"\t"}}`
	rec := postJSON(t, srv, "/api/ingestion/stream-export", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "id\tname\n1\ta\n2\tb\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/tab-separated-values")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename=events.tsv`)
	assert.Equal(t, "2", rec.Header().Get("X-Row-Count"))
}

func TestStreamExport_FailureIsJSON(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	rec := postJSON(t, srv, "/api/ingestion/stream-export", exportBody("ghost", `["id"]`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "SCH001", decode[map[string]any](t, rec)["code"])
}

func TestHistory(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})
	rec := do(t, srv, http.MethodGet, "/api/ingestion/history", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	hist := &fakeHistory{recs: []core.TransferRecord{{
		ID:        "t1",
		Direction: core.DirectionExport,
		Table:     "events",
		Success:   true,
		Rows:      2,
		Duration:  1500 * time.Millisecond,
	}}}
	srv = newTestServer(t, seededStore(), testConfig(), Options{History: hist})
	rec = do(t, srv, http.MethodGet, "/api/ingestion/history?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, hist.limit)

	entries := decode[[]map[string]any](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "export", entries[0]["direction"])
	assert.Equal(t, float64(1500), entries[0]["durationMs"])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	srv := newTestServer(t, seededStore(), cfg, Options{})

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[map[string]any](t, rec)["code"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, seededStore(), testConfig(), Options{})

	req := httptest.NewRequest(http.MethodOptions, "/api/ingestion/tables", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
