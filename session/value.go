package session

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindTime
	KindStrings
	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid: "invalid",
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindBytes:   "bytes",
	KindTime:    "time",
	KindStrings: "strings",
}

func (k Kind) String() string {
	if k >= kindCount {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Value is a typed session attribute. Reading it as the wrong type yields ErrTypeMismatch
// rather than a zero value.
//
// Values are immutable: constructors and accessors copy slices.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	raw  []byte
	list []string
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Int(n int64) Value { return Value{kind: KindInt, num: n} }

func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(b)}
}

var (
	minTime = time.Unix(0, math.MinInt64)
	maxTime = time.Unix(0, math.MaxInt64)
)

// Time stores t with nanosecond precision in UTC; location and monotonic reading are dropped.
// Only instants between 1677-09-21 and 2262-04-11 fit; for others Time returns an invalid
// Value, which setters reject with ErrInvalidValue.
func Time(t time.Time) Value {
	if t.Before(minTime) || t.After(maxTime) {
		return Value{}
	}
	return Value{kind: KindTime, num: t.UnixNano()}
}

func Strings(list []string) Value {
	return Value{kind: KindStrings, list: cloneStrings(list)}
}

func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v was built by one of the constructors.
func (v Value) IsValid() bool { return v.kind > KindInvalid && v.kind < kindCount }

func (v Value) mismatch(want Kind) error {
	return fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, v.kind, want)
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.str, nil
}

func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.num, nil
}

func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, v.mismatch(KindFloat)
	}
	return v.flt, nil
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.num == 1, nil
}

func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, v.mismatch(KindBytes)
	}
	return bytes.Clone(v.raw), nil
}

func (v Value) AsTime() (time.Time, error) {
	if v.kind != KindTime {
		return time.Time{}, v.mismatch(KindTime)
	}
	return time.Unix(0, v.num).UTC(), nil
}

func (v Value) AsStrings() ([]string, error) {
	if v.kind != KindStrings {
		return nil, v.mismatch(KindStrings)
	}
	return cloneStrings(v.list), nil
}

// Interface returns the held value as a plain Go value, or nil for an invalid Value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.num == 1
	case KindBytes:
		return bytes.Clone(v.raw)
	case KindTime:
		return time.Unix(0, v.num).UTC()
	case KindStrings:
		return cloneStrings(v.list)
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt, KindBool, KindTime:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindStrings:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	if !v.IsValid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Interface())
}

// Scalar lists the Go types a Value can be converted to and from.
type Scalar interface {
	string | int64 | int | float64 | bool | []byte | time.Time | []string
}

// ValueOf wraps x in the matching Value variant.
func ValueOf[T Scalar](x T) Value {
	switch t := any(x).(type) {
	case string:
		return String(t)
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case float64:
		return Float(t)
	case bool:
		return Bool(t)
	case []byte:
		return Bytes(t)
	case time.Time:
		return Time(t)
	case []string:
		return Strings(t)
	default:
		return Value{}
	}
}

// As reads v as T, returning ErrTypeMismatch when v holds another kind.
func As[T Scalar](v Value) (T, error) {
	var (
		out T
		err error
	)
	switch p := any(&out).(type) {
	case *string:
		*p, err = v.AsString()
	case *int64:
		*p, err = v.AsInt()
	case *int:
		var n int64
		n, err = v.AsInt()
		*p = int(n)
	case *float64:
		*p, err = v.AsFloat()
	case *bool:
		*p, err = v.AsBool()
	case *[]byte:
		*p, err = v.AsBytes()
	case *time.Time:
		*p, err = v.AsTime()
	case *[]string:
		*p, err = v.AsStrings()
	}
	return out, err
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
