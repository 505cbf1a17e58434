// Package types defines the column types of exported tables and how their
// values are rendered to text.
//
// The set of kinds is closed. Every exported file carries the type name of
// each column in its second header row, so a Type's Name must round trip
// through Parse.
package types

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies one of the supported column kinds.
type Kind int

// Column kinds.
const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBigInt
	KindDecimal
	KindBool
	KindBytes
	KindTimestamp
	KindNullable
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBigInt:
		return "bigint"
	case KindDecimal:
		return "bigdecimal"
	case KindBool:
		return "boolean"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "datetime"
	case KindNullable:
		return "nullable"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DefaultArraySeparator joins array items.
const DefaultArraySeparator = "|"

// TimestampLayout is the ISO-8601 layout used for datetime values.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Type is a column type. The zero value is the string type.
type Type struct {
	kind Kind
	elem *Type
	sep  string
}

// Built-in scalar types.
var (
	String    = Type{kind: KindString}
	Int       = Type{kind: KindInt}
	Float     = Type{kind: KindFloat}
	BigInt    = Type{kind: KindBigInt}
	Decimal   = Type{kind: KindDecimal}
	Bool      = Type{kind: KindBool}
	Bytes     = Type{kind: KindBytes}
	Timestamp = Type{kind: KindTimestamp}
)

// Nullable wraps t so that a missing value renders as "null".
func Nullable(t Type) Type {
	return Type{kind: KindNullable, elem: &t}
}

// Array wraps t into a list type joined by DefaultArraySeparator.
func Array(t Type) Type {
	return ArrayWithSeparator(t, DefaultArraySeparator)
}

// ArrayWithSeparator wraps t into a list type joined by sep.
func ArrayWithSeparator(t Type, sep string) Type {
	return Type{kind: KindArray, elem: &t, sep: sep}
}

// Kind returns the kind of t.
func (t Type) Kind() Kind {
	return t.kind
}

// Elem returns the wrapped type of a nullable or array type.
func (t Type) Elem() (Type, bool) {
	if t.elem == nil {
		return Type{}, false
	}
	return *t.elem, true
}

// Separator returns the item separator of an array type.
func (t Type) Separator() string {
	return t.sep
}

// Name is the identifier written to the type row of exported files.
func (t Type) Name() string {
	switch t.kind {
	case KindNullable, KindArray:
		return fmt.Sprintf("%s<%s>", t.kind, t.elem.Name())
	default:
		return t.kind.String()
	}
}

func (t Type) String() string {
	return t.Name()
}

// Serialize renders v as text. It fails rather than coercing values that are
// outside the type's domain.
func (t Type) Serialize(v interface{}) (string, error) {
	v, isNil := indirect(v)
	if t.kind == KindNullable {
		if isNil {
			return "null", nil
		}
		return t.elem.Serialize(v)
	}
	if isNil {
		return "", fmt.Errorf("%s: %w", t.Name(), ErrNilValue)
	}

	var (
		s   string
		err error
	)
	switch t.kind {
	case KindString:
		s, err = serializeString(v)
	case KindInt:
		s, err = serializeInt(v)
	case KindFloat:
		s, err = serializeFloat(v)
	case KindBigInt:
		s, err = serializeBigInt(v)
	case KindDecimal:
		s, err = serializeDecimal(v)
	case KindBool:
		s, err = serializeBool(v)
	case KindBytes:
		s, err = serializeBytes(v)
	case KindTimestamp:
		s, err = serializeTimestamp(v)
	case KindArray:
		return t.serializeArray(v)
	default:
		return "", fmt.Errorf("unknown type kind %d", int(t.kind))
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.Name(), err)
	}
	return s, nil
}

// indirect dereferences pointers to non-struct values and reports whether v
// holds no value.
func indirect(v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return v, false
	}
	if rv.IsNil() {
		return nil, true
	}
	if rv.Elem().Kind() == reflect.Struct {
		return v, false
	}
	return rv.Elem().Interface(), false
}

func unsupported(v interface{}) error {
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func serializeString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", unsupported(v)
	}
	return s, nil
}

// formatInteger renders Go integer kinds. ok is false for anything else.
func formatInteger(v interface{}) (string, bool) {
	switch x := v.(type) {
	case int:
		return strconv.FormatInt(int64(x), 10), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	}
	return "", false
}

func serializeInt(v interface{}) (string, error) {
	if s, ok := formatInteger(v); ok {
		return s, nil
	}
	var f float64
	switch x := v.(type) {
	case float32:
		f = float64(x)
	case float64:
		f = x
	default:
		return "", unsupported(v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "", fmt.Errorf("%w: %v", ErrNotInteger, f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// formatFloat uses plain notation for magnitudes in [1e-6, 1e21) and
// exponent notation outside of it.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func serializeFloat(v interface{}) (string, error) {
	switch x := v.(type) {
	case float32:
		return formatFloat(float64(x)), nil
	case float64:
		return formatFloat(x), nil
	}
	if s, ok := formatInteger(v); ok {
		return s, nil
	}
	return "", unsupported(v)
}

func serializeBigInt(v interface{}) (string, error) {
	switch x := v.(type) {
	case *big.Int:
		return x.String(), nil
	case big.Int:
		return x.String(), nil
	}
	if s, ok := formatInteger(v); ok {
		return s, nil
	}
	return "", unsupported(v)
}

func serializeDecimal(v interface{}) (string, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case *decimal.Decimal:
		return x.String(), nil
	case *big.Float:
		return x.Text('f', -1), nil
	case *big.Int:
		return x.String(), nil
	}
	if s, ok := formatInteger(v); ok {
		return s, nil
	}
	return "", unsupported(v)
}

func serializeBool(v interface{}) (string, error) {
	b, ok := v.(bool)
	if !ok {
		return "", unsupported(v)
	}
	return strconv.FormatBool(b), nil
}

func serializeBytes(v interface{}) (string, error) {
	b, ok := v.([]byte)
	if !ok {
		return "", unsupported(v)
	}
	return "0x" + hex.EncodeToString(b), nil
}

func serializeTimestamp(v interface{}) (string, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(TimestampLayout), nil
	case *time.Time:
		return x.UTC().Format(TimestampLayout), nil
	}
	return "", unsupported(v)
}

func (t Type) serializeArray(v interface{}) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", fmt.Errorf("%s: %w", t.Name(), unsupported(v))
	}
	items := make([]string, rv.Len())
	for i := range items {
		s, err := t.elem.Serialize(rv.Index(i).Interface())
		if err != nil {
			return "", fmt.Errorf("%s[%d]: %w", t.Name(), i, err)
		}
		items[i] = s
	}
	return strings.Join(items, t.sep), nil
}
