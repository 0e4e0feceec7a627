package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
	"github.com/JonMunkholm/chxfer/internal/logging"
)

const (
	// DefaultChunkSize is how many rows one INSERT carries.
	DefaultChunkSize = 1000

	// DefaultTransferTimeout bounds a single export or import.
	DefaultTransferTimeout = 10 * time.Minute
)

// Options configures a Service. Zero values take the defaults; a nil
// Limiter means transfers are not limited.
type Options struct {
	ChunkSize       int
	TransferTimeout time.Duration
	Limiter         *TransferLimiter
	Recorder        TransferRecorder
	Logger          *slog.Logger
}

// Service is the transfer engine's entry point. It owns nothing global:
// the pool and registry are handed in and torn down by Close.
type Service struct {
	pool     *Pool
	streams  *StreamRegistry
	probe    *SchemaProbe
	limiter  *TransferLimiter
	recorder TransferRecorder

	chunkSize int
	timeout   time.Duration
	log       *slog.Logger
}

// NewService wires a Service around an existing pool and registry.
func NewService(pool *Pool, streams *StreamRegistry, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = DefaultTransferTimeout
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		pool:      pool,
		streams:   streams,
		probe:     NewSchemaProbe(pool),
		limiter:   opts.Limiter,
		recorder:  opts.Recorder,
		chunkSize: opts.ChunkSize,
		timeout:   opts.TransferTimeout,
		log:       opts.Logger,
	}
}

// Pool returns the service's connection pool.
func (s *Service) Pool() *Pool { return s.pool }

// Streams returns the service's stream registry.
func (s *Service) Streams() *StreamRegistry { return s.streams }

// Limiter returns the transfer limiter, or nil when transfers are unlimited.
func (s *Service) Limiter() *TransferLimiter { return s.limiter }

// CheckConnection reports whether cfg can connect and its database exists.
// Every failure, including an unreachable host, is returned as data.
func (s *Service) CheckConnection(ctx context.Context, cfg clickhouse.ConnectionConfig) CheckResult {
	if err := cfg.Validate(); err != nil {
		return CheckResult{Error: err.Error()}
	}

	exists, err := s.probe.DatabaseExists(ctx, cfg)
	if err != nil {
		logging.With(ctx, s.log).Warn("connection check failed", "destination", cfg.String(), "error", err)
		return CheckResult{Error: err.Error()}
	}
	if !exists {
		return CheckResult{Error: fmt.Sprintf("database %q does not exist", cfg.Database)}
	}
	return CheckResult{Success: true}
}

// ListTables returns the table names of cfg's database.
func (s *Service) ListTables(ctx context.Context, cfg clickhouse.ConnectionConfig) ([]string, error) {
	if err := validateConnection(&cfg); err != nil {
		return nil, err
	}
	return s.probe.ListTables(ctx, cfg)
}

// ListColumns returns the name and type of each of table's columns.
func (s *Service) ListColumns(ctx context.Context, cfg clickhouse.ConnectionConfig, table string) ([]ColumnInfo, error) {
	if err := validateTable(&cfg, table); err != nil {
		return nil, err
	}
	return s.probe.ListColumns(ctx, cfg, table)
}

// DescribeTable returns table's columns with their types and defaults.
func (s *Service) DescribeTable(ctx context.Context, cfg clickhouse.ConnectionConfig, table string) (TableSchema, error) {
	if err := validateTable(&cfg, table); err != nil {
		return TableSchema{}, err
	}
	return s.probe.DescribeTable(ctx, cfg, table)
}

// Disconnect closes the pooled client for cfg, if one is open. The next
// call for the same destination dials afresh.
func (s *Service) Disconnect(cfg clickhouse.ConnectionConfig) error {
	if err := validateConnection(&cfg); err != nil {
		return err
	}
	return s.pool.Evict(cfg)
}

// Preview returns up to PreviewRowLimit rows of table.
func (s *Service) Preview(ctx context.Context, cfg clickhouse.ConnectionConfig, table string, columns []string) ([]Record, error) {
	if err := validateTable(&cfg, table); err != nil {
		return nil, err
	}
	return s.probe.Preview(ctx, cfg, table, columns)
}

// StoreUpload holds an uploaded payload for a later import and returns its
// handle. The payload is not read until the import runs.
func (s *Service) StoreUpload(src io.Reader, contentType, fileName string) string {
	return s.streams.Store(src, contentType, fileName)
}

// Transfer routes tc to Export or Import by its endpoint types.
func (s *Service) Transfer(ctx context.Context, tc TransferConfig) (TransferResult, error) {
	dir, err := tc.Direction()
	if err != nil {
		return failed(err), nil
	}
	if dir == DirectionExport {
		return s.Export(ctx, tc)
	}
	return s.Import(ctx, tc)
}

// Close releases every pooled client and held stream. It is safe to call
// more than once.
func (s *Service) Close(ctx context.Context) error {
	s.streams.Clear()
	return s.pool.CloseAll(ctx)
}

// transferRun carries the bookkeeping shared by export and import.
type transferRun struct {
	s     *Service
	ctx   context.Context
	done  context.CancelFunc
	dir   Direction
	rec   TransferRecord
	log   *slog.Logger
	slot  bool
	bytes int64
}

func (s *Service) begin(ctx context.Context, dir Direction, conn *clickhouse.ConnectionConfig, table, fileName string) *transferRun {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	run := &transferRun{
		s:    s,
		ctx:  ctx,
		done: cancel,
		dir:  dir,
		rec: TransferRecord{
			ID:        uuid.NewString(),
			Direction: dir,
			Table:     table,
			FileName:  fileName,
			ClientIP:  ClientIPFromContext(ctx),
			UserAgent: UserAgentFromContext(ctx),
			StartedAt: time.Now(),
		},
	}
	if conn != nil {
		run.rec.Host = conn.Host
		run.rec.Database = conn.Database
	}
	run.log = logging.With(ctx, s.log).With(
		"transfer_id", run.rec.ID,
		"direction", dir,
		"table", table,
	)
	run.log.Info("transfer started", "file_name", fileName)
	return run
}

// acquireSlot waits for a limiter slot when a limiter is configured.
func (r *transferRun) acquireSlot() error {
	if r.s.limiter == nil {
		return nil
	}
	if err := r.s.limiter.Acquire(r.ctx); err != nil {
		return err
	}
	r.slot = true
	return nil
}

// finish turns the outcome into a TransferResult, logs it, records it and
// releases the run's resources.
func (r *transferRun) finish(rows int64, err error) TransferResult {
	defer r.done()
	if r.slot {
		r.s.limiter.Release()
		r.slot = false
	}

	var res TransferResult
	if err != nil {
		res = failed(err)
	} else {
		res = succeeded(rows, "")
	}

	elapsed := time.Since(r.rec.StartedAt)
	if err != nil {
		r.log.Error("transfer failed",
			"error", err,
			"code", res.Code,
			"committed_rows", res.CommittedRows,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		r.log.Info("transfer completed",
			"rows", rows,
			"bytes", r.bytes,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	r.rec.Success = res.Success
	r.rec.Rows = res.Count
	r.rec.CommittedRows = res.CommittedRows
	r.rec.Bytes = r.bytes
	r.rec.ErrorMessage = res.Error
	r.rec.ErrorCode = res.Code
	r.rec.Duration = elapsed

	// Recording outlives the transfer's own deadline.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()
	if recErr := r.s.recorder.RecordTransfer(recCtx, r.rec); recErr != nil {
		r.log.Warn("failed to record transfer", "error", recErr)
	}

	return res
}

func validateConnection(cfg *clickhouse.ConnectionConfig) error {
	if cfg == nil {
		return errMalformed("invalid connection: connection is required")
	}
	if err := cfg.Validate(); err != nil {
		return &MalformedInputError{Message: err.Error(), Err: err}
	}
	return nil
}

func validateTable(cfg *clickhouse.ConnectionConfig, table string) error {
	if err := validateConnection(cfg); err != nil {
		return err
	}
	if table == "" {
		return errMalformed("invalid transfer: table is required")
	}
	return nil
}
