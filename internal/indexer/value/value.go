// Package value converts typed field values to and from the term text stored
// in the index. Encoded numeric and date terms compare byte-wise in the same
// order as the values they encode, so range queries can walk the sorted term
// dictionary directly.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the declared type of a field value.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind name (as used in schemas and config) back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "":
		return KindString, nil
	case "bool", "boolean":
		return KindBool, nil
	case "int", "integer":
		return KindInt, nil
	case "long":
		return KindLong, nil
	case "float":
		return KindFloat, nil
	case "double":
		return KindDouble, nil
	case "datetime", "date":
		return KindDateTime, nil
	}
	return KindString, fmt.Errorf("unknown value kind %q", s)
}

// Numeric reports whether terms of this kind use the fixed-width sortable
// encoding.
func (k Kind) Numeric() bool {
	switch k {
	case KindInt, KindLong, KindFloat, KindDouble, KindDateTime:
		return true
	}
	return false
}

const (
	boolTrue  = "yes"
	boolFalse = "no"
)

// Value is a single typed field value. Only the member matching Kind is
// meaningful.
type Value struct {
	Kind  Kind      `json:"k"`
	Str   string    `json:"s,omitempty"`
	Bool  bool      `json:"b,omitempty"`
	Int   int64     `json:"i,omitempty"`
	Float float64   `json:"f,omitempty"`
	Time  time.Time `json:"t,omitempty"`
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Int(i int32) Value { return Value{Kind: KindInt, Int: int64(i)} }

func Long(i int64) Value { return Value{Kind: KindLong, Int: i} }

func Float(f float32) Value { return Value{Kind: KindFloat, Float: float64(f)} }

func Double(f float64) Value { return Value{Kind: KindDouble, Float: f} }

// DateTime values are truncated to microseconds and normalised to UTC.
func DateTime(t time.Time) Value {
	return Value{Kind: KindDateTime, Time: t.UTC().Truncate(time.Microsecond)}
}

// Encode returns the sortable term text for v.
func (v Value) Encode() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return boolTrue
		}
		return boolFalse
	case KindInt:
		return fmt.Sprintf("%08x", uint32(int32(v.Int))^(1<<31))
	case KindLong:
		return encodeLong(v.Int)
	case KindFloat:
		bits := math.Float32bits(float32(v.Float))
		if bits&(1<<31) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 31
		}
		return fmt.Sprintf("%08x", bits)
	case KindDouble:
		bits := math.Float64bits(v.Float)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return fmt.Sprintf("%016x", bits)
	case KindDateTime:
		return encodeLong(v.Time.UnixMicro())
	default:
		return v.Str
	}
}

func encodeLong(i int64) string {
	return fmt.Sprintf("%016x", uint64(i)^(1<<63))
}

// Decode parses term text produced by Encode for the given kind.
func Decode(kind Kind, term string) (Value, error) {
	switch kind {
	case KindString:
		return String(term), nil
	case KindBool:
		switch term {
		case boolTrue:
			return Bool(true), nil
		case boolFalse:
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("decoding bool term %q: not %q or %q", term, boolTrue, boolFalse)
	case KindInt, KindFloat:
		bits, err := parseHex(term, 8)
		if err != nil {
			return Value{}, fmt.Errorf("decoding %s term: %w", kind, err)
		}
		u := uint32(bits)
		if kind == KindInt {
			return Int(int32(u ^ (1 << 31))), nil
		}
		if u&(1<<31) != 0 {
			u &^= 1 << 31
		} else {
			u = ^u
		}
		return Float(math.Float32frombits(u)), nil
	case KindLong, KindDouble, KindDateTime:
		bits, err := parseHex(term, 16)
		if err != nil {
			return Value{}, fmt.Errorf("decoding %s term: %w", kind, err)
		}
		switch kind {
		case KindLong:
			return Long(int64(bits ^ (1 << 63))), nil
		case KindDateTime:
			return DateTime(time.UnixMicro(int64(bits ^ (1 << 63)))), nil
		}
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return Double(math.Float64frombits(bits)), nil
	}
	return Value{}, fmt.Errorf("decoding term %q: unknown kind %d", term, kind)
}

func parseHex(term string, width int) (uint64, error) {
	if len(term) != width {
		return 0, fmt.Errorf("expected %d hex digits, got %q", width, term)
	}
	return strconv.ParseUint(term, 16, 64)
}

// Parse converts human-entered text into a value of the given kind. It is
// used by query parsers and JSON request decoding, not by the term codec.
func Parse(kind Kind, text string) (Value, error) {
	text = strings.TrimSpace(text)
	switch kind {
	case KindString:
		return String(text), nil
	case KindBool:
		switch strings.ToLower(text) {
		case "true", "yes", "1":
			return Bool(true), nil
		case "false", "no", "0":
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("parsing bool %q", text)
	case KindInt:
		i, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parsing int %q: %w", text, err)
		}
		return Int(int32(i)), nil
	case KindLong:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing long %q: %w", text, err)
		}
		return Long(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parsing float %q: %w", text, err)
		}
		return Float(float32(f)), nil
	case KindDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing double %q: %w", text, err)
		}
		return Double(f), nil
	case KindDateTime:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, text); err == nil {
				return DateTime(t), nil
			}
		}
		return Value{}, fmt.Errorf("parsing datetime %q", text)
	}
	return Value{}, fmt.Errorf("parsing %q: unknown kind %d", text, kind)
}

// String renders v for humans and debug output.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt, KindLong:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindDateTime:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return v.Str
	}
}

// Equal compares kind and encoded form.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Encode() == o.Encode()
}
