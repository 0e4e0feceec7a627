package core

import (
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFormatValue(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"int", int32(-7), "-7"},
		{"uint", uint64(18446744073709551615), "18446744073709551615"},
		{"float", 3.25, "3.25"},
		{"float no exponent", 1e21, "1000000000000000000000"},
		{"float32", float32(0.5), "0.5"},
		{"midnight datetime", time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), "2024-05-06 00:00:00"},
		{"datetime", time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), "2024-05-06 07:08:09"},
		{"datetime64", time.Date(2024, 5, 6, 7, 8, 9, 120000000, time.UTC), "2024-05-06 07:08:09.12"},
		{"zero time", time.Time{}, ""},
		{"big int", big.NewInt(42), "42"},
		{"ip", net.ParseIP("10.0.0.1"), "10.0.0.1"},
		{"uuid", id, "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"int array", []int32{1, 2}, "[1,2]"},
		{"empty array", []string{}, "[]"},
		{"string array", []string{"x y", "z"}, "['x y','z']"},
		{"string array escapes", []string{"it's", `a\b`}, `['it\'s','a\\b']`},
		{"nullable array", []*string{nil, strPtr("a")}, "[NULL,'a']"},
		{"nested array", [][]int64{{1}, {2, 3}}, "[[1],[2,3]]"},
		{"map", map[string]uint8{"k": 1}, "{'k':1}"},
		{"map sorted", map[string]int{"b": 2, "a": 1}, "{'a':1,'b':2}"},
		{"uuid array", []uuid.UUID{id}, "['6ba7b810-9dad-11d1-80b4-00c04fd430c8']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.in); got != tt.want {
				t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatTyped(t *testing.T) {
	midnight := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	precise := time.Date(2024, 1, 1, 7, 8, 9, 120000000, time.UTC)

	tests := []struct {
		name string
		in   any
		typ  string
		want string
	}{
		{"date", midnight, "Date", "2024-01-01"},
		{"date32", midnight, "Date32", "2024-01-01"},
		{"nullable date", midnight, "Nullable(Date)", "2024-01-01"},
		{"datetime at midnight", midnight, "DateTime", "2024-01-01 00:00:00"},
		{"datetime with zone", midnight, "DateTime('UTC')", "2024-01-01 00:00:00"},
		{"datetime64 fixed digits", precise, "DateTime64(3)", "2024-01-01 07:08:09.120"},
		{"datetime64 at midnight", midnight, "DateTime64(6, 'UTC')", "2024-01-01 00:00:00.000000"},
		{"date array", []time.Time{midnight}, "Array(Date)", "['2024-01-01']"},
		{"low cardinality", "x", "LowCardinality(String)", "x"},
		{"tuple", []any{uint64(1), "a b"}, "Tuple(UInt64, String)", "(1,'a b')"},
		{"named tuple", []any{midnight, "z"}, "Tuple(d Date, s String)", "('2024-01-01','z')"},
		{"map of dates", map[string]time.Time{"k": midnight}, "Map(String, Date)", "{'k':'2024-01-01'}"},
		{"nullable map value", map[string]*int64{"k": nil}, "Map(String, Nullable(Int64))", "{'k':NULL}"},
		{"null", nil, "Nullable(String)", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTyped(tt.in, tt.typ); got != tt.want {
				t.Errorf("FormatTyped(%v, %q) = %q, want %q", tt.in, tt.typ, got, tt.want)
			}
		})
	}
}

func TestTypeArgs(t *testing.T) {
	args, ok := typeArgs("Map(String, Array(Tuple(a UInt8, b String)))", "Map")
	if !ok {
		t.Fatal("typeArgs() did not match Map")
	}
	want := []string{"String", "Array(Tuple(a UInt8, b String))"}
	if len(args) != len(want) || args[0] != want[0] || args[1] != want[1] {
		t.Errorf("typeArgs() = %q, want %q", args, want)
	}

	if _, ok := typeArgs("String", "Array"); ok {
		t.Error("typeArgs() matched a non-container type")
	}
}
