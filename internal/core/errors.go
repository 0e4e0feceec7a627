package core

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

var (
	// ErrPoolClosed is returned by Acquire after CloseAll.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrStreamNotFound means a stream handle is unknown or has expired.
	ErrStreamNotFound = errors.New("stream not found or expired")

	// ErrStreamConsumed means a stream's payload was already read once.
	ErrStreamConsumed = errors.New("stream has already been consumed")
)

// ConnectivityError means the destination could not be reached or refused
// the credentials. It is never retried automatically.
type ConnectivityError struct {
	Destination string
	Err         error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.Destination, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchemaError means the target database, table or column set does not fit
// the request. The caller must choose a different target.
type SchemaError struct {
	Message string
	Err     error
}

func (e *SchemaError) Error() string { return e.Message }

func (e *SchemaError) Unwrap() error { return e.Err }

// MalformedInputError is raised before any store interaction, so no partial
// work has happened when it is returned.
type MalformedInputError struct {
	Message string
	Err     error
}

func (e *MalformedInputError) Error() string { return e.Message }

func (e *MalformedInputError) Unwrap() error { return e.Err }

// PartialWriteError means an insert failed after Committed rows had already
// been written by earlier chunks. Those rows are not rolled back.
type PartialWriteError struct {
	Committed int64
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("insert failed after %d rows were committed: %v", e.Committed, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func errMalformed(format string, args ...any) *MalformedInputError {
	return &MalformedInputError{Message: fmt.Sprintf(format, args...)}
}

func errSchema(format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

func asPartialWrite(err error) (*PartialWriteError, bool) {
	var pw *PartialWriteError
	if errors.As(err, &pw) {
		return pw, true
	}
	return nil, false
}

// classifyQueryError tags a store error with the taxonomy type it belongs
// to, keeping the store's own message.
func classifyQueryError(destination string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case clickhouse.IsUnknownObject(err):
		return &SchemaError{Message: err.Error(), Err: err}
	case clickhouse.IsConnectivity(err):
		return &ConnectivityError{Destination: destination, Err: err}
	default:
		return err
	}
}
