package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{
			"auth failure",
			errors.New("code: 516, message: default: Authentication failed: password is incorrect"),
			"CONN001",
		},
		{
			"connection refused",
			&ConnectivityError{Destination: "http://u@h:8123/db", Err: errors.New("dial tcp: connect: connection refused")},
			"CONN002",
		},
		{
			"connectivity timeout stays connectivity",
			&ConnectivityError{Destination: "http://u@h:8123/db", Err: errors.New("dial tcp: i/o timeout")},
			"CONN002",
		},
		{"pool closed", ErrPoolClosed, "CONN004"},
		{
			"unknown table",
			errors.New("Code: 60. DB::Exception: Table default.x does not exist. (UNKNOWN_TABLE)"),
			"SCH001",
		},
		{"no overlap", errSchema("no valid columns found in the file"), "SCH002"},
		{
			"unknown column",
			errors.New("Code: 47. DB::Exception: Missing columns: 'z'. (UNKNOWN_IDENTIFIER)"),
			"SCH003",
		},
		{"empty file", errMalformed("empty file: the first line has no content"), "IN001"},
		{"ambiguous source", errMalformed("invalid transfer: a flatfile source needs exactly one of fileContent or streamId"), "IN002"},
		{"expired stream", &MalformedInputError{Message: "stream not found or expired: abc", Err: ErrStreamNotFound}, "IN003"},
		{"invalid connection", errors.New("invalid connection: host is required"), "IN005"},
		{
			"partial write wins over cause",
			&PartialWriteError{Committed: 1000, Err: errors.New("Code: 60. Table t does not exist")},
			"WR001",
		},
		{"busy", ErrTooManyTransfers, "XFER002"},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), "XFER001"},
		{"cancelled", context.Canceled, "XFER003"},
		{"rate limited", errors.New("rate limit exceeded"), "RATE001"},
		{"typed fallback connectivity", &ConnectivityError{Destination: "x", Err: errors.New("eof")}, "CONN002"},
		{"typed fallback schema", &SchemaError{Message: "odd"}, "SCH001"},
		{"typed fallback input", &MalformedInputError{Message: "odd"}, "IN006"},
		{"unknown error returns default", errors.New("something odd"), "ERR000"},
		{"case insensitive", errors.New("CONNECTION REFUSED"), "CONN002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError(%v) has empty message or action: %+v", tt.err, got)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(errMalformed("empty file"))
	want := "The file is empty (Code: IN001). Upload a file with a header row and data"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
}
