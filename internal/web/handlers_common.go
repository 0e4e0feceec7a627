package web

// This file contains request decoding shared across handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
	"github.com/JonMunkholm/chxfer/internal/core"
)

// tableRequest is the body of the schema discovery routes: connection
// fields at the top level plus the table and, for preview, the columns.
type tableRequest struct {
	Connection clickhouse.ConnectionConfig
	Table      string
	Columns    []string
}

// readBody reads at most the configured upload size. Inline file content
// travels in JSON bodies, so the same bound applies.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Transfer.MaxFileSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.MalformedInputError{
				Message: fmt.Sprintf("request too large: limit is %d bytes", tooLarge.Limit),
				Err:     err,
			}
		}
		return nil, &core.MalformedInputError{Message: "could not read request body", Err: err}
	}
	return body, nil
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &core.MalformedInputError{Message: "invalid request body: " + err.Error(), Err: err}
	}
	return nil
}

// decodeTableRequest decodes the body twice: ConnectionConfig has its own
// UnmarshalJSON, which would swallow the sibling fields if it were embedded.
func (s *Server) decodeTableRequest(w http.ResponseWriter, r *http.Request) (tableRequest, error) {
	var req tableRequest
	body, err := s.readBody(w, r)
	if err != nil {
		return req, err
	}
	if err := decodeJSON(body, &req.Connection); err != nil {
		return req, err
	}
	var extra struct {
		Table   string   `json:"table"`
		Columns []string `json:"columns"`
	}
	if err := decodeJSON(body, &extra); err != nil {
		return req, err
	}
	req.Table = extra.Table
	req.Columns = extra.Columns
	return req, nil
}

func (s *Server) decodeTransfer(w http.ResponseWriter, r *http.Request) (core.TransferConfig, error) {
	var tc core.TransferConfig
	body, err := s.readBody(w, r)
	if err != nil {
		return tc, err
	}
	err = decodeJSON(body, &tc)
	return tc, err
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
