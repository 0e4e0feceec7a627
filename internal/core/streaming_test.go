package core

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAllLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	lr := newLineReader(r)
	var lines []string
	for {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		lines = append(lines, line)
	}
}

func TestLineReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty input", "", nil},
		{"single line no newline", "a,b", []string{"a,b"}},
		{"trailing newline", "a,b\n1,2\n", []string{"a,b", "1,2"}},
		{"blank lines kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"carriage returns kept", "a\r\nb\r\n", []string{"a\r", "b\r"}},
		{"bom stripped", "\xEF\xBB\xBFa,b\n1,2", []string{"a,b", "1,2"}},
		{"only bom", "\xEF\xBB\xBF", nil},
		{"partial bom kept", "\xEF\xBBa", []string{"�a"}},
		{"invalid utf8 replaced", "caf\xE9\n", []string{"caf�"}},
		{"valid multibyte", "naïve,日本\n", []string{"naïve,日本"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readAllLines(t, strings.NewReader(tt.input))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLineReader_LongLines(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	got := readAllLines(t, strings.NewReader(long+"\nshort\n"))
	if len(got) != 2 || got[0] != long || got[1] != "short" {
		t.Fatalf("long line not read intact: %d lines", len(got))
	}
}

func TestLineReader_CountsBytes(t *testing.T) {
	input := "\xEF\xBB\xBFa,b\n1,2\n"
	lr := newLineReader(strings.NewReader(input))
	for {
		if _, err := lr.Next(); err != nil {
			break
		}
	}
	if got := lr.BytesRead(); got != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", got, len(input))
	}
	if got := lr.Line(); got != 2 {
		t.Errorf("Line = %d, want 2", got)
	}
}
