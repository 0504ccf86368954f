package multimaya

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestEncodeLiteral(t *testing.T) {
	var nilPtr *int
	seven := 7
	testCases := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, "None"},
		{"true", true, "True"},
		{"false", false, "False"},
		{"int", -42, "-42"},
		{"uint64", uint64(math.MaxUint64), "18446744073709551615"},
		{"float", 2.5, "2.5"},
		{"whole float", 3.0, "3.0"},
		{"exponent float", 1e21, "1e+21"},
		{"nan", math.NaN(), "float('nan')"},
		{"inf", math.Inf(1), "float('inf')"},
		{"neg inf", math.Inf(-1), "float('-inf')"},
		{"complex", complex(1, -2), "complex(1.0, -2.0)"},
		{"string", "it's", `'it\'s'`},
		{"string escapes", "a\\b\n\t\x00", `'a\\b\n\t\x00'`},
		{"unicode", "héllo ✓", "'héllo ✓'"},
		{"bytes", []byte("a'\x00\xff"), `b'a\'\x00\xff'`},
		{"json int", json.Number("12345678901234567890"), "12345678901234567890"},
		{"json small int", json.Number("17"), "17"},
		{"json float", json.Number("0.25"), "0.25"},
		{"list", []int{1, 2, 3}, "[1, 2, 3]"},
		{"empty list", []interface{}{}, "[]"},
		{"nil slice", []int(nil), "None"},
		{"array", [2]string{"a", "b"}, "['a', 'b']"},
		{"tuple", Tuple{1, "x"}, "(1, 'x')"},
		{"one tuple", Tuple{1}, "(1,)"},
		{"empty tuple", Tuple{}, "()"},
		{"map sorted", map[string]interface{}{"b": 2, "a": []interface{}{nil, true}}, "{'a': [None, True], 'b': 2}"},
		{"int keys", map[int]string{2: "two", 1: "one"}, "{1: 'one', 2: 'two'}"},
		{"nil pointer", nilPtr, "None"},
		{"pointer", &seven, "7"},
		{"nested", []interface{}{map[string]interface{}{"k": Tuple{1.5}}}, "[{'k': (1.5,)}]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeLiteral(tc.value)
			if err != nil {
				t.Fatalf("EncodeLiteral(%#v) error: %v", tc.value, err)
			}
			if got != tc.want {
				t.Errorf("EncodeLiteral(%#v) = %s, want %s", tc.value, got, tc.want)
			}
		})
	}
}

func TestEncodeLiteralDeterministic(t *testing.T) {
	m := map[string]interface{}{}
	for _, k := range []string{"zeta", "alpha", "mid", "beta", "omega"} {
		m[k] = k
	}
	first, err := EncodeLiteral(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := EncodeLiteral(m)
		if again != first {
			t.Fatalf("map rendering is not stable: %s vs %s", first, again)
		}
	}
}

func TestEncodeLiteralRejects(t *testing.T) {
	testCases := []struct {
		name  string
		value interface{}
		field string
	}{
		{"struct", struct{ A int }{1}, "value"},
		{"channel", make(chan int), "value"},
		{"func", func() {}, "value"},
		{"nested func", []interface{}{1, func() {}}, "value[1]"},
		{"map value", map[string]interface{}{"fn": func() {}}, "value['fn']"},
		{"struct key", map[struct{}]int{{}: 1}, "value"},
		{"bad utf8", "\xff", "value"},
		{"bad number", json.Number("1x"), "value"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeLiteral(tc.value)
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected *ArgumentError, got %v", err)
			}
			if !errors.Is(err, ErrArgument) {
				t.Error("error should match ErrArgument")
			}
			if argErr.Field != tc.field {
				t.Errorf("Field = %q, want %q", argErr.Field, tc.field)
			}
		})
	}
}

func TestEncodeLiteralDepthLimit(t *testing.T) {
	var v interface{} = 1
	for i := 0; i < maxLiteralDepth+2; i++ {
		v = []interface{}{v}
	}
	_, err := EncodeLiteral(v)
	if err == nil || !strings.Contains(err.Error(), "nested too deeply") {
		t.Errorf("expected depth error, got %v", err)
	}
}
