package core

import (
	"context"
	"time"
)

// TransferRecord is the outcome of one transfer, as kept by a
// TransferRecorder.
type TransferRecord struct {
	ID            string
	Direction     Direction
	Host          string
	Database      string
	Table         string
	FileName      string
	Success       bool
	Rows          int64
	CommittedRows int64
	Bytes         int64
	ErrorMessage  string
	ErrorCode     string
	ClientIP      string
	UserAgent     string
	StartedAt     time.Time
	Duration      time.Duration
}

// TransferRecorder persists transfer outcomes. Recording is best effort: a
// failure is logged and never changes the transfer's result.
type TransferRecorder interface {
	RecordTransfer(ctx context.Context, rec TransferRecord) error
}

type nopRecorder struct{}

func (nopRecorder) RecordTransfer(context.Context, TransferRecord) error { return nil }
