package core

// error_messages.go maps technical failures to user-facing messages with a
// support code. The HTTP layer and the CLI both render these; the original
// error stays in the logs.
//
// # Connectivity (CONN001-CONN099)
//
//	CONN001 - Authentication failed: the server rejected the credentials
//	          Patterns: "authentication failed", "authentication_failed"
//	CONN002 - Unreachable: the server could not be reached
//	          Patterns: "connection refused", "no such host", "could not connect"
//	CONN003 - Interrupted: the connection was reset mid-request
//	          Patterns: "connection reset", "broken pipe"
//	CONN004 - Shutting down: the connection pool is closed
//	          Patterns: "pool is closed"
//
// # Schema (SCH001-SCH099)
//
//	SCH001 - Not found: database or table does not exist
//	         Patterns: "unknown_table", "unknown_database", "does not exist", "table not found"
//	SCH002 - No overlap: none of the file's columns exist in the table
//	         Patterns: "no valid columns"
//	SCH003 - Unknown column: a requested column does not exist
//	         Patterns: "no_such_column", "unknown_identifier", "missing columns"
//
// # Input (IN001-IN099)
//
//	IN001 - Empty file                 Patterns: "empty file"
//	IN002 - Ambiguous source           Patterns: "exactly one of"
//	IN003 - Stream expired             Patterns: "stream not found"
//	IN004 - Stream consumed            Patterns: "already been consumed"
//	IN005 - Invalid connection         Patterns: "invalid connection"
//	IN006 - Invalid transfer           Patterns: "invalid transfer"
//	IN007 - File too large             Patterns: "too large"
//
// # Writes (WR001-WR099)
//
//	WR001 - Partial write: an insert chunk failed; earlier chunks stay committed
//	        Patterns: "insert failed after"
//
// # Transfers (XFER001-XFER099)
//
//	XFER001 - Timed out                Patterns: "context deadline exceeded", "timeout"
//	XFER002 - Busy                     Patterns: "too many concurrent transfers"
//	XFER003 - Cancelled                Patterns: "context canceled"
//
// # Rate limiting
//
//	RATE001 - Too many requests        Patterns: "rate limit"
//
// ERR000 is the fallback. Patterns are matched case-insensitively and the
// first match wins, so specific patterns come before general ones. When no
// pattern matches, the error's type decides the category.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgAuthFailed = UserMessage{
		Message: "The server rejected the credentials",
		Action:  "Check the username, password or token",
		Code:    "CONN001",
	}
	msgUnreachable = UserMessage{
		Message: "Unable to connect to the server",
		Action:  "Check host, port and protocol, then try again",
		Code:    "CONN002",
	}
	msgNotFound = UserMessage{
		Message: "Database or table not found",
		Action:  "Verify the database and table names",
		Code:    "SCH001",
	}
	msgBadInput = UserMessage{
		Message: "The transfer request is invalid",
		Action:  "Check the source and target settings",
		Code:    "IN006",
	}
	msgPartialWrite = UserMessage{
		Message: "Import stopped part way; rows from earlier batches were written",
		Action:  "Check the target table before retrying to avoid duplicates",
		Code:    "WR001",
	}
)

// The ordering matters: a partial write wraps the store error that caused
// it, and stream errors mention "not found".
var errorPatterns = []errorPattern{
	{pattern: "insert failed after", msg: msgPartialWrite},

	{pattern: "stream not found", msg: UserMessage{
		Message: "The uploaded file is no longer available",
		Action:  "Upload the file again",
		Code:    "IN003",
	}},
	{pattern: "already been consumed", msg: UserMessage{
		Message: "The uploaded file was already imported",
		Action:  "Upload the file again to import it a second time",
		Code:    "IN004",
	}},
	{pattern: "empty file", msg: UserMessage{
		Message: "The file is empty",
		Action:  "Upload a file with a header row and data",
		Code:    "IN001",
	}},
	{pattern: "exactly one of", msg: UserMessage{
		Message: "Provide either file content or an uploaded stream, not both",
		Action:  "Send the file inline or upload it first, then retry",
		Code:    "IN002",
	}},
	{pattern: "too large", msg: UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "IN007",
	}},
	{pattern: "invalid connection", msg: UserMessage{
		Message: "Connection settings are incomplete",
		Action:  "Fill in host, port, database and username",
		Code:    "IN005",
	}},
	{pattern: "invalid transfer", msg: msgBadInput},

	{pattern: "authentication failed", msg: msgAuthFailed},
	{pattern: "authentication_failed", msg: msgAuthFailed},
	{pattern: "pool is closed", msg: UserMessage{
		Message: "The service is shutting down",
		Action:  "Try again in a few moments",
		Code:    "CONN004",
	}},
	{pattern: "connection refused", msg: msgUnreachable},
	{pattern: "no such host", msg: msgUnreachable},
	{pattern: "connection reset", msg: UserMessage{
		Message: "The connection was interrupted",
		Action:  "Please try again",
		Code:    "CONN003",
	}},
	{pattern: "broken pipe", msg: UserMessage{
		Message: "The connection was interrupted",
		Action:  "Please try again",
		Code:    "CONN003",
	}},
	{pattern: "could not connect", msg: msgUnreachable},

	{pattern: "no valid columns", msg: UserMessage{
		Message: "None of the file's columns exist in the target table",
		Action:  "Check the header row against the table's columns",
		Code:    "SCH002",
	}},
	{pattern: "no_such_column", msg: msgUnknownColumn},
	{pattern: "unknown_identifier", msg: msgUnknownColumn},
	{pattern: "missing columns", msg: msgUnknownColumn},
	{pattern: "unknown_table", msg: msgNotFound},
	{pattern: "unknown_database", msg: msgNotFound},
	{pattern: "table not found", msg: msgNotFound},
	{pattern: "does not exist", msg: msgNotFound},

	{pattern: "too many concurrent transfers", msg: UserMessage{
		Message: "The system is busy with other transfers",
		Action:  "Please wait a moment and try again",
		Code:    "XFER002",
	}},
	{pattern: "context canceled", msg: UserMessage{
		Message: "The transfer was cancelled",
		Action:  "Start it again when ready",
		Code:    "XFER003",
	}},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},

	{pattern: "rate limit", msg: UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

var msgUnknownColumn = UserMessage{
	Message: "A requested column does not exist",
	Action:  "Refresh the column list and try again",
	Code:    "SCH003",
}

var msgTimeout = UserMessage{
	Message: "The transfer timed out",
	Action:  "Try a smaller table or file, or try again later",
	Code:    "XFER001",
}

// defaultMessage is returned when nothing matches (ERR000). Check the logs
// for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Known
// patterns win; otherwise the error's type picks the category, and ERR000
// is the last resort.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var (
		connErr    *ConnectivityError
		schemaErr  *SchemaError
		inputErr   *MalformedInputError
		partialErr *PartialWriteError
	)
	switch {
	case errors.As(err, &partialErr):
		return msgPartialWrite
	case errors.As(err, &connErr):
		return msgUnreachable
	case errors.As(err, &schemaErr):
		return msgNotFound
	case errors.As(err, &inputErr):
		return msgBadInput
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
