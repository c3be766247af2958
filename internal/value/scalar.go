// Package value holds the scalar values carried by rows, mutations and batches.
package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
	"unicode/utf8"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Scalar is one of null, bool, int, float or string. The zero value is null.
type Scalar struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func Null() Scalar              { return Scalar{} }
func Bool(b bool) Scalar        { return Scalar{kind: KindBool, b: b} }
func Int(i int64) Scalar        { return Scalar{kind: KindInt, i: i} }
func Float(f float64) Scalar    { return Scalar{kind: KindFloat, f: f} }
func String(s string) Scalar    { return Scalar{kind: KindString, s: s} }
func (v Scalar) Kind() Kind     { return v.kind }
func (v Scalar) IsNull() bool   { return v.kind == KindNull }
func (v Scalar) Bool() bool     { return v.b }
func (v Scalar) Int() int64     { return v.i }
func (v Scalar) Float() float64 { return v.f }
func (v Scalar) Str() string    { return v.s }

// Interface returns nil, bool, int64, float64 or string.
func (v Scalar) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

func (v Scalar) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// Coerce converts an untyped driver value into a Scalar. The second result
// reports a conversion that changed the value's type in a way callers should
// warn about (timestamps, oversized integers, binary data, unknown types).
func Coerce(v any) (Scalar, bool) {
	switch x := v.(type) {
	case nil:
		return Null(), false
	case Scalar:
		return x, false
	case bool:
		return Bool(x), false
	case int:
		return Int(int64(x)), false
	case int8:
		return Int(int64(x)), false
	case int16:
		return Int(int64(x)), false
	case int32:
		return Int(int64(x)), false
	case int64:
		return Int(x), false
	case uint:
		return coerceUint(uint64(x))
	case uint8:
		return Int(int64(x)), false
	case uint16:
		return Int(int64(x)), false
	case uint32:
		return Int(int64(x)), false
	case uint64:
		return coerceUint(x)
	case float32:
		return Float(float64(x)), false
	case float64:
		return Float(x), false
	case string:
		return String(x), false
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), false
		}
		if f, err := x.Float64(); err == nil {
			return Float(f), false
		}
		return String(x.String()), true
	case []byte:
		if utf8.Valid(x) {
			return String(string(x)), false
		}
		return String(base64.StdEncoding.EncodeToString(x)), true
	case time.Time:
		return String(x.UTC().Format(time.RFC3339Nano)), true
	case *big.Int:
		if x == nil {
			return Null(), false
		}
		if x.IsInt64() {
			return Int(x.Int64()), true
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return Float(f), true
	case fmt.Stringer:
		return String(x.String()), true
	default:
		return String(fmt.Sprint(x)), true
	}
}

func coerceUint(u uint64) (Scalar, bool) {
	if u > math.MaxInt64 {
		return Float(float64(u)), true
	}
	return Int(int64(u)), false
}

func (v Scalar) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot encode non-finite float %v", v.f)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			// keep the float kind on a round trip
			s += ".0"
		}
		return []byte(s), nil
	default:
		return json.Marshal(v.Interface())
	}
}

func (v *Scalar) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil, bool, string:
		*v, _ = Coerce(x)
	case json.Number:
		if i, err := x.Int64(); err == nil && !bytes.ContainsAny(data, ".eE") {
			*v = Int(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %s: %w", x, err)
		}
		*v = Float(f)
	default:
		return fmt.Errorf("unsupported scalar %s", string(data))
	}
	return nil
}
