package core

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/chxfer/internal/clickhouse/chtest"
)

// ============================================================================
// Field Formatting Benchmarks
// ============================================================================

// BenchmarkFormatValue covers the driver types export writes most often.
func BenchmarkFormatValue(b *testing.B) {
	values := []any{
		uint64(123456789),
		int32(-42),
		3.14159,
		"plain text",
		true,
		nil,
		time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, v := range values {
			FormatValue(v)
		}
	}
}

// ============================================================================
// Parsing Benchmarks
// ============================================================================

func BenchmarkParseRecord(b *testing.B) {
	line := "1001, Acme Corp ,2024-01-15,1234.56,,active"
	columns := []string{"id", "name", "created", "amount", "note", "status"}
	positions := []int{0, 1, 2, 3, 4, 5}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		parseRecord(line, ",", columns, positions)
	}
}

func BenchmarkIntersectColumns(b *testing.B) {
	headers := make([]string, 50)
	live := make([]ColumnInfo, 40)
	for i := range headers {
		headers[i] = fmt.Sprintf(" col_%d ", i)
	}
	for i := range live {
		live[i] = ColumnInfo{Name: fmt.Sprintf("col_%d", i*2), Type: "String"}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		intersectColumns(headers, live)
	}
}

// BenchmarkLineReader measures reading with BOM skipping and UTF-8
// sanitization over a 10k row file.
func BenchmarkLineReader(b *testing.B) {
	data := append([]byte("\xEF\xBB\xBF"), generateTestCSV(10000)...)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lines := newLineReader(bytes.NewReader(data))
		for {
			if _, err := lines.Next(); err == io.EOF {
				break
			} else if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// ============================================================================
// Transfer Benchmarks
// ============================================================================

func benchStore(rows int) *chtest.Store {
	store := chtest.NewStore()
	store.CreateTable("default", "events",
		chtest.Column{Name: "id", Type: "UInt64"},
		chtest.Column{Name: "name", Type: "String"},
		chtest.Column{Name: "amount", Type: "Float64"},
		chtest.Column{Name: "created", Type: "DateTime"},
	)
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		store.AddRows("default", "events", []any{uint64(i), fmt.Sprintf("name-%d", i), float64(i) * 1.5, created})
	}
	return store
}

func BenchmarkExportTo(b *testing.B) {
	svc := newTestService(b, benchStore(10000), Options{})
	tc := exportConfig("events", "id", "name", "amount", "created")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := svc.ExportTo(b.Context(), tc, io.Discard)
		if err != nil || !res.Success {
			b.Fatalf("export failed: %v %s", err, res.Error)
		}
	}
}

func BenchmarkImport(b *testing.B) {
	content := string(generateTestCSV(10000))

	b.SetBytes(int64(len(content)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		svc := newTestService(b, benchStore(0), Options{})
		b.StartTimer()

		res, err := svc.Import(b.Context(), importConfig(content, "events"))
		if err != nil || !res.Success {
			b.Fatalf("import failed: %v %s", err, res.Error)
		}
	}
}

// ============================================================================
// Test Data Generation
// ============================================================================

// generateTestCSV creates a CSV file whose columns match benchStore's table
// plus one the table does not have.
func generateTestCSV(rows int) []byte {
	var sb strings.Builder
	sb.WriteString("id,name,amount,created,unknown\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%d,name-%d,%d.50,2024-01-15 00:00:00,x\n", i, i, i)
	}
	return []byte(sb.String())
}
