package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/chxfer/internal/core"
)

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// handleTransfer routes by endpoint types. Same-type pairs are rejected
// with 400 before the engine runs.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	tc, err := s.decodeTransfer(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if _, err := tc.Direction(); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	s.runTransfer(w, r, tc, s.service.Transfer)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tc, ok := s.decodeDirected(w, r, core.DirectionExport)
	if !ok {
		return
	}
	s.runTransfer(w, r, tc, s.service.Export)
}

// handleImport accepts either a JSON TransferConfig or a multipart form
// with the file in a "file" part and the JSON config in a "body" field.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		tc, ok := s.decodeDirected(w, r, core.DirectionImport)
		if !ok {
			return
		}
		s.runTransfer(w, r, tc, s.service.Import)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Transfer.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondUploadError(w, r, err)
		return
	}

	var tc core.TransferConfig
	if err := decodeJSON([]byte(r.FormValue("body")), &tc); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if dir, err := tc.Direction(); err != nil || dir != core.DirectionImport {
		s.respondError(w, r, directionError(err, core.DirectionImport), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Inline content or a previously uploaded handle.
	case err != nil:
		s.respondUploadError(w, r, err)
		return
	default:
		if header.Size > s.cfg.Transfer.MaxFileSize {
			file.Close()
			s.respondError(w, r, tooLarge(s.cfg.Transfer.MaxFileSize), http.StatusRequestEntityTooLarge)
			return
		}
		if tc.Source.StreamID != "" {
			file.Close()
			s.respondError(w, r, &core.MalformedInputError{
				Message: "invalid transfer: a flatfile source needs exactly one of fileContent or streamId",
			}, http.StatusBadRequest)
			return
		}
		if tc.Source.FileName == "" {
			tc.Source.FileName = header.Filename
		}
		tc.Source.StreamID = s.service.StoreUpload(file, header.Header.Get("Content-Type"), header.Filename)
		defer s.service.Streams().Remove(tc.Source.StreamID)
	}

	s.runTransfer(w, r, tc, s.service.Import)
}

// handleStreamExport writes the delimited file as the response body rather
// than wrapping it in JSON. Failures that happen before the first byte is
// written are still reported as JSON.
func (s *Server) handleStreamExport(w http.ResponseWriter, r *http.Request) {
	tc, ok := s.decodeDirected(w, r, core.DirectionExport)
	if !ok {
		return
	}

	dw := &deferredWriter{
		w:           w,
		contentType: contentTypeFor(tc.Target.Delimiter),
		fileName:    exportFileName(tc),
	}
	res, err := s.service.ExportTo(r.Context(), tc, dw)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if !dw.started {
		if !res.Success {
			s.respondResult(w, r, res)
			return
		}
		// Nothing to stream, but the export succeeded.
		dw.start()
	}
	w.Header().Set("X-Row-Count", strconv.FormatInt(res.Count, 10))
	if !res.Success {
		s.log.Error("stream export failed after the response started",
			"table", tc.Source.Table,
			"code", res.Code,
			"error", res.Error,
		)
	}
}

// handleUpload holds a multipart "file" part in the stream registry and
// returns its handle for a later import.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Transfer.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondUploadError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}
	defer file.Close()

	// The request's temporary files go away when the handler returns, so
	// the payload is copied into memory.
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}
	if int64(len(data)) > maxSize {
		s.respondError(w, r, tooLarge(maxSize), http.StatusRequestEntityTooLarge)
		return
	}

	id := s.service.StoreUpload(bytes.NewReader(data), header.Header.Get("Content-Type"), header.Filename)
	writeJSON(w, http.StatusCreated, map[string]any{
		"streamId": id,
		"fileName": header.Filename,
		"bytes":    len(data),
	})
}

type transferFn func(ctx context.Context, tc core.TransferConfig) (core.TransferResult, error)

// runTransfer invokes fn and writes its result. A connection failure is
// returned by fn as an error; everything else is in the result.
func (s *Server) runTransfer(w http.ResponseWriter, r *http.Request, tc core.TransferConfig, fn transferFn) {
	res, err := fn(r.Context(), tc)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.respondResult(w, r, res)
}

// decodeDirected decodes a TransferConfig and checks it runs in want's
// direction, answering 400 otherwise.
func (s *Server) decodeDirected(w http.ResponseWriter, r *http.Request, want core.Direction) (core.TransferConfig, bool) {
	tc, err := s.decodeTransfer(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return tc, false
	}
	if dir, err := tc.Direction(); err != nil || dir != want {
		s.respondError(w, r, directionError(err, want), http.StatusBadRequest)
		return tc, false
	}
	return tc, true
}

func directionError(err error, want core.Direction) error {
	if err != nil {
		return err
	}
	if want == core.DirectionExport {
		return &core.MalformedInputError{Message: "invalid transfer: export needs a clickhouse source and a flatfile target"}
	}
	return &core.MalformedInputError{Message: "invalid transfer: import needs a flatfile source and a clickhouse target"}
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// respondUploadError answers 413 when the body hit the size limit and 400
// for any other malformed upload.
func (s *Server) respondUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLargeErr *http.MaxBytesError
	if errors.As(err, &tooLargeErr) {
		s.respondError(w, r, uploadError(err), http.StatusRequestEntityTooLarge)
		return
	}
	s.respondError(w, r, uploadError(err), http.StatusBadRequest)
}

func uploadError(err error) error {
	var tooLargeErr *http.MaxBytesError
	if errors.As(err, &tooLargeErr) {
		return tooLarge(tooLargeErr.Limit)
	}
	if errors.Is(err, http.ErrMissingFile) {
		return &core.MalformedInputError{Message: "invalid upload: no file provided", Err: err}
	}
	return &core.MalformedInputError{Message: "invalid upload: " + err.Error(), Err: err}
}

func tooLarge(limit int64) error {
	return &core.MalformedInputError{Message: fmt.Sprintf("file too large: limit is %d bytes", limit)}
}

func contentTypeFor(delimiter string) string {
	if delimiter == "\t" {
		return "text/tab-separated-values; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

func exportFileName(tc core.TransferConfig) string {
	ext := ".csv"
	if tc.Target.Delimiter == "\t" {
		ext = ".tsv"
	}
	name := strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' || r < ' ' {
			return '_'
		}
		return r
	}, tc.Source.Table)
	if name == "" {
		name = "export"
	}
	return name + ext
}

// deferredWriter sends the download headers on the first write, so a
// failure before any data leaves the response free for a JSON error.
type deferredWriter struct {
	w           http.ResponseWriter
	contentType string
	fileName    string
	started     bool
}

func (d *deferredWriter) start() {
	if d.started {
		return
	}
	d.started = true
	h := d.w.Header()
	h.Set("Content-Type", d.contentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.fileName}))
	h.Set("Trailer", "X-Row-Count")
	d.w.WriteHeader(http.StatusOK)
}

func (d *deferredWriter) Write(p []byte) (int, error) {
	d.start()
	return d.w.Write(p)
}
