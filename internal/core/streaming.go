package core

// streaming.go reads delimited text line by line without holding the whole
// file in memory. Input is normalized on the way in:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF) is dropped
//   - invalid UTF-8 is replaced with U+FFFD, so the JSON insert payload is
//     always valid
//   - bytes are counted for logging and history

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// countingReader tracks bytes read from the underlying source.
type countingReader struct {
	reader    io.Reader
	BytesRead int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// lineReader yields one line per call, split on a single "\n". A trailing
// newline at end of input does not produce an extra empty line.
type lineReader struct {
	counter *countingReader
	buf     *bufio.Reader
	started bool
	line    int
}

func newLineReader(r io.Reader) *lineReader {
	counter := &countingReader{reader: r}
	return &lineReader{
		counter: counter,
		buf:     bufio.NewReaderSize(counter, 64*1024),
	}
}

// Next returns the next line without its terminator. It returns io.EOF once
// the input is exhausted.
func (l *lineReader) Next() (string, error) {
	if !l.started {
		l.started = true
		if err := l.skipBOM(); err != nil {
			return "", err
		}
	}

	raw, err := l.buf.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if len(raw) == 0 && errors.Is(err, io.EOF) {
		return "", io.EOF
	}

	l.line++
	raw = bytes.TrimSuffix(raw, []byte{'\n'})
	return strings.ToValidUTF8(string(raw), "�"), nil
}

// Line is the 1-based number of the last line returned.
func (l *lineReader) Line() int { return l.line }

// BytesRead is the number of raw bytes consumed so far.
func (l *lineReader) BytesRead() int64 { return l.counter.BytesRead }

func (l *lineReader) skipBOM() error {
	head, err := l.buf.Peek(len(utf8BOM))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if bytes.Equal(head, utf8BOM) {
		_, _ = l.buf.Discard(len(utf8BOM))
	}
	return nil
}

// splitFields splits one line on delim. Quoting is not interpreted: the
// format is plain delimiter-separated text, matching what export writes.
func splitFields(line, delim string) []string {
	return strings.Split(line, delim)
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
