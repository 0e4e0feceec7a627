package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/chxfer/internal/core"
)

// handleHealth reports liveness and current load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"clients": s.service.Pool().Len(),
		"streams": s.service.Streams().Len(),
	}
	if l := s.service.Limiter(); l != nil {
		resp["transfers"] = l.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCheckConnection always answers 200; the outcome is in the body.
func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTableRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.service.CheckConnection(r.Context(), req.Connection))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTableRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := s.service.Disconnect(req.Connection); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTableRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	tables, err := s.service.ListTables(r.Context(), req.Connection)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTableRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	cols, err := s.service.ListColumns(r.Context(), req.Connection, req.Table)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTableRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	schema, err := s.service.DescribeTable(r.Context(), req.Connection, req.Table)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTableRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	rows, err := s.service.Preview(r.Context(), req.Connection, req.Table, req.Columns)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// historyEntry is the wire form of one core.TransferRecord.
type historyEntry struct {
	ID            string    `json:"id"`
	Direction     string    `json:"direction"`
	Host          string    `json:"host"`
	Database      string    `json:"database"`
	Table         string    `json:"table"`
	FileName      string    `json:"fileName,omitempty"`
	Success       bool      `json:"success"`
	Rows          int64     `json:"rows"`
	CommittedRows int64     `json:"committedRows,omitempty"`
	Bytes         int64     `json:"bytes"`
	Error         string    `json:"error,omitempty"`
	Code          string    `json:"code,omitempty"`
	ClientIP      string    `json:"clientIp,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMS    int64     `json:"durationMs"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "transfer history is not enabled",
			Message: "Transfer history is not enabled",
			Action:  "Set HISTORY_DATABASE_URL and restart the server",
			Code:    "HIST001",
		})
		return
	}

	recs, err := s.history.Recent(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	out := make([]historyEntry, len(recs))
	for i, rec := range recs {
		out[i] = toHistoryEntry(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func toHistoryEntry(rec core.TransferRecord) historyEntry {
	return historyEntry{
		ID:            rec.ID,
		Direction:     string(rec.Direction),
		Host:          rec.Host,
		Database:      rec.Database,
		Table:         rec.Table,
		FileName:      rec.FileName,
		Success:       rec.Success,
		Rows:          rec.Rows,
		CommittedRows: rec.CommittedRows,
		Bytes:         rec.Bytes,
		Error:         rec.ErrorMessage,
		Code:          rec.ErrorCode,
		ClientIP:      rec.ClientIP,
		StartedAt:     rec.StartedAt,
		DurationMS:    rec.Duration.Milliseconds(),
	}
}
