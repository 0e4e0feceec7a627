package core

// convert.go turns driver values into the text written to flat files.
//
// Values read from the store arrive as the driver's Go types (integers,
// floats, decimals, time.Time, UUIDs, strings, slices and maps). Export
// writes them the way the store prints them in its text formats so an
// exported file can be imported back without type coercion: arrays as
// [1,2], maps as {'k':1}, tuples as (1,'a'), with strings quoted only
// inside those containers.

import (
	"fmt"
	"math/big"
	"net"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
)

// FormatValue renders one field without knowing its column type. nil
// renders as the empty string and times print as DateTime.
func FormatValue(v any) string {
	return FormatTyped(v, "")
}

// FormatTyped renders one field of a column of the given store type, for
// example "Date", "DateTime64(3)" or "Array(Nullable(String))". The type
// decides how times print and how container elements are read.
func FormatTyped(v any, columnType string) string {
	return formatValue(v, unwrapType(columnType), false)
}

func formatValue(v any, typ string, nested bool) string {
	switch x := v.(type) {
	case nil:
		return nullText(nested)
	case string:
		return quoteIf(nested, x)
	case []byte:
		return quoteIf(nested, string(x))
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return quoteIf(nested, formatTime(x, typ))
	case *big.Int:
		if x == nil {
			return nullText(nested)
		}
		return x.String()
	case net.IP:
		return quoteIf(nested, x.String())
	case fmt.Stringer:
		// Decimals print as numbers; UUIDs and the like are text.
		s := x.String()
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return s
		}
		return quoteIf(nested, s)
	}
	return formatReflect(reflect.ValueOf(v), typ, nested)
}

// formatReflect handles integers and the container kinds the driver scans
// Array, Map and Tuple columns into.
func formatReflect(rv reflect.Value, typ string, nested bool) string {
	switch rv.Kind() {
	case reflect.Invalid:
		return nullText(nested)

	case reflect.String:
		return quoteIf(nested, rv.String())

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nullText(nested)
		}
		return formatValue(rv.Elem().Interface(), typ, nested)

	case reflect.Slice, reflect.Array:
		open, end := "[", "]"
		elem, _ := typeArg(typ, "Array")
		tupleTypes, isTuple := typeArgs(typ, "Tuple")
		if isTuple {
			open, end = "(", ")"
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			et := elem
			if isTuple && i < len(tupleTypes) {
				et = tupleTypes[i]
			}
			parts[i] = formatValue(rv.Index(i).Interface(), unwrapType(et), true)
		}
		return open + strings.Join(parts, ",") + end

	case reflect.Map:
		var keyType, valType string
		if args, ok := typeArgs(typ, "Map"); ok && len(args) == 2 {
			keyType, valType = unwrapType(args[0]), unwrapType(args[1])
		}
		type entry struct{ key, val string }
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries = append(entries, entry{
				key: formatValue(iter.Key().Interface(), keyType, true),
				val: formatValue(iter.Value().Interface(), valType, true),
			})
		}
		// Go maps have no order; sort for stable output.
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		parts := make([]string, len(entries))
		for i, e := range entries {
			parts[i] = e.key + ":" + e.val
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return fmt.Sprint(rv.Interface())
}

// formatTime prints Date and Date32 columns as a date, DateTime64(p) with
// exactly p fractional digits, and anything else as a DateTime carrying
// only the sub-second precision the value has.
func formatTime(t time.Time, typ string) string {
	if t.IsZero() {
		return ""
	}
	switch {
	case typ == "Date" || typ == "Date32":
		return t.Format(dateLayout)
	case strings.HasPrefix(typ, "DateTime64("):
		args, _ := typeArgs(typ, "DateTime64")
		if len(args) > 0 {
			if p, err := strconv.Atoi(args[0]); err == nil && p > 0 && p <= 9 {
				return t.Format(dateTimeLayout + "." + strings.Repeat("0", p))
			}
		}
	}
	if t.Nanosecond() == 0 {
		return t.Format(dateTimeLayout)
	}
	return t.Format(dateTimeLayout + ".999999999")
}

func nullText(nested bool) string {
	if nested {
		return "NULL"
	}
	return ""
}

// quoteIf single-quotes s with backslash escapes when it sits inside a
// container value.
func quoteIf(nested bool, s string) string {
	if !nested {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// unwrapType strips Nullable(...) and LowCardinality(...) wrappers.
func unwrapType(typ string) string {
	typ = strings.TrimSpace(typ)
	for {
		inner, ok := typeArg(typ, "Nullable")
		if !ok {
			inner, ok = typeArg(typ, "LowCardinality")
		}
		if !ok {
			return typ
		}
		typ = inner
	}
}

// typeArg returns the single argument of name(...).
func typeArg(typ, name string) (string, bool) {
	args, ok := typeArgs(typ, name)
	if !ok || len(args) != 1 {
		return "", false
	}
	return args[0], true
}

// typeArgs splits the top-level arguments of name(...). Named tuple
// elements ("id UInt64") keep only their type.
func typeArgs(typ, name string) ([]string, bool) {
	if !strings.HasPrefix(typ, name+"(") || !strings.HasSuffix(typ, ")") {
		return nil, false
	}
	inner := typ[len(name)+1 : len(typ)-1]

	var args []string
	depth, start := 0, 0
	inQuote := false
	for i := 0; i < len(inner); i++ {
		switch c := inner[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, inner[start:i])
			start = i + 1
		}
	}
	args = append(args, inner[start:])

	for i, a := range args {
		a = strings.TrimSpace(a)
		if name == "Tuple" {
			if sp := strings.IndexByte(a, ' '); sp > 0 && !strings.Contains(a[:sp], "(") {
				a = strings.TrimSpace(a[sp+1:])
			}
		}
		args[i] = a
	}
	return args, true
}
