package multimaya

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tuple renders as a Python tuple instead of a list.
type Tuple []interface{}

// maxLiteralDepth bounds nesting so self-referential pointers fail instead of recursing forever.
const maxLiteralDepth = 64

var (
	tupleType      = reflect.TypeOf(Tuple{})
	jsonNumberType = reflect.TypeOf(json.Number(""))
	integerPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
)

// EncodeLiteral renders v as Python source that evaluates to an equivalent value.
//
// Supported values: nil, bool, integers, floats (including NaN and infinities),
// complex numbers, strings (valid UTF-8), []byte, json.Number, Tuple, slices,
// arrays, maps keyed by strings, bools or numbers, and pointers or interfaces
// holding any of these. Everything else (structs, channels, functions, open
// handles) returns an *ArgumentError.
func EncodeLiteral(v interface{}) (string, error) {
	var sb strings.Builder
	if err := encodeLiteral(&sb, reflect.ValueOf(v), "value", 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func encodeLiteral(sb *strings.Builder, rv reflect.Value, path string, depth int) error {
	if depth > maxLiteralDepth {
		return &ArgumentError{Field: path, Reason: "value nested too deeply"}
	}
	if !rv.IsValid() {
		sb.WriteString("None")
		return nil
	}

	switch rv.Type() {
	case jsonNumberType:
		s := rv.String()
		if integerPattern.MatchString(s) {
			// Python ints are unbounded; keep the digits exactly.
			sb.WriteString(s)
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return &ArgumentError{Field: path, Reason: fmt.Sprintf("invalid number %q", s)}
		}
		writeFloat(sb, f, 64)
		return nil
	case tupleType:
		return encodeSequence(sb, rv, path, depth, "(", ")", true)
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sb.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		writeFloat(sb, rv.Float(), 32)
	case reflect.Float64:
		writeFloat(sb, rv.Float(), 64)
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		sb.WriteString("complex(")
		writeFloat(sb, real(c), 64)
		sb.WriteString(", ")
		writeFloat(sb, imag(c), 64)
		sb.WriteString(")")
	case reflect.String:
		s := rv.String()
		if !utf8.ValidString(s) {
			return &ArgumentError{Field: path, Reason: "string is not valid UTF-8; pass []byte instead"}
		}
		writeString(sb, s)
	case reflect.Slice:
		if rv.IsNil() {
			sb.WriteString("None")
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			writeBytes(sb, rv.Bytes())
			return nil
		}
		return encodeSequence(sb, rv, path, depth, "[", "]", false)
	case reflect.Array:
		return encodeSequence(sb, rv, path, depth, "[", "]", false)
	case reflect.Map:
		if rv.IsNil() {
			sb.WriteString("None")
			return nil
		}
		return encodeMap(sb, rv, path, depth)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			sb.WriteString("None")
			return nil
		}
		return encodeLiteral(sb, rv.Elem(), path, depth+1)
	default:
		return &ArgumentError{Field: path, Reason: fmt.Sprintf("type %s has no Python literal form", rv.Type())}
	}
	return nil
}

func encodeSequence(sb *strings.Builder, rv reflect.Value, path string, depth int, open, close string, tuple bool) error {
	n := rv.Len()
	sb.WriteString(open)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := encodeLiteral(sb, rv.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
			return err
		}
	}
	if tuple && n == 1 {
		sb.WriteString(",")
	}
	sb.WriteString(close)
	return nil
}

func encodeMap(sb *strings.Builder, rv reflect.Value, path string, depth int) error {
	type entry struct {
		key   string
		value reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		for k.Kind() == reflect.Interface && !k.IsNil() {
			k = k.Elem()
		}
		switch k.Kind() {
		case reflect.String, reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
		default:
			return &ArgumentError{Field: path, Reason: fmt.Sprintf("map key type %s has no Python literal form", k.Type())}
		}
		var ks strings.Builder
		if err := encodeLiteral(&ks, k, path+"{key}", depth+1); err != nil {
			return err
		}
		entries = append(entries, entry{key: ks.String(), value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	sb.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.key)
		sb.WriteString(": ")
		if err := encodeLiteral(sb, e.value, fmt.Sprintf("%s[%s]", path, e.key), depth+1); err != nil {
			return err
		}
	}
	sb.WriteString("}")
	return nil
}

func writeFloat(sb *strings.Builder, f float64, bits int) {
	switch {
	case math.IsNaN(f):
		sb.WriteString("float('nan')")
		return
	case math.IsInf(f, 1):
		sb.WriteString("float('inf')")
		return
	case math.IsInf(f, -1):
		sb.WriteString("float('-inf')")
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	sb.WriteString(s)
}

func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			switch {
			case unicode.IsPrint(r):
				sb.WriteRune(r)
			case r < 0x100:
				fmt.Fprintf(sb, `\x%02x`, r)
			case r <= 0xffff:
				fmt.Fprintf(sb, `\u%04x`, r)
			default:
				fmt.Fprintf(sb, `\U%08x`, r)
			}
		}
	}
	sb.WriteByte('\'')
}

func writeBytes(sb *strings.Builder, b []byte) {
	sb.WriteString("b'")
	for _, c := range b {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c == '\'':
			sb.WriteString(`\'`)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(sb, `\x%02x`, c)
		}
	}
	sb.WriteByte('\'')
}
