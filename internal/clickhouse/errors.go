package clickhouse

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

// Server exception codes the engine distinguishes.
const (
	codeNoSuchColumn       = 16
	codeUnknownIdentifier  = 47
	codeUnknownTable       = 60
	codeUnknownDatabase    = 81
	codeAuthenticationFail = 516
)

// ExceptionCode returns the server exception code carried by err, if any.
func ExceptionCode(err error) (int32, bool) {
	var exc *ch.Exception
	if errors.As(err, &exc) {
		return exc.Code, true
	}
	return 0, false
}

// IsUnknownObject reports whether err says a database, table or column does
// not exist.
func IsUnknownObject(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ExceptionCode(err); ok {
		switch code {
		case codeNoSuchColumn, codeUnknownIdentifier, codeUnknownTable, codeUnknownDatabase:
			return true
		}
		return false
	}
	// The HTTP transport reports exceptions as text.
	msg := strings.ToUpper(err.Error())
	for _, marker := range []string{"UNKNOWN_TABLE", "UNKNOWN_DATABASE", "UNKNOWN_IDENTIFIER", "NO_SUCH_COLUMN_IN_TABLE", "DOESN'T EXIST", "DOES NOT EXIST"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsConnectivity reports whether err means the destination could not be
// reached or refused the credentials.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ExceptionCode(err); ok {
		return code == codeAuthenticationFail
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTHENTICATION_FAILED") || strings.Contains(msg, "CONNECTION REFUSED")
}
