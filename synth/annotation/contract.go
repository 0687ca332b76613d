package annotation

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf16"
)

// stringHash is the 31-polynomial string hash over UTF-16 code units.
func stringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

func longHash(v uint64) int32 {
	return int32(v ^ (v >> 32))
}

func floatBits(f float32) uint32 {
	if f != f {
		return 0x7fc00000
	}
	return math.Float32bits(f)
}

func doubleBits(f float64) uint64 {
	if f != f {
		return 0x7ff8000000000000
	}
	return math.Float64bits(f)
}

// hashOf computes the member hash of annotation t with attribute values vals: the sum
// of (127 * name hash) ^ value hash, wrapping at 32 bits.
func hashOf(attrs []attribute, vals []reflect.Value) int32 {
	var h int32
	for i, a := range attrs {
		h += (127 * stringHash(a.name)) ^ valueHash(vals[i])
	}
	return h
}

func valueHash(v reflect.Value) int32 {
	switch v.Kind() {
	case reflect.String:
		return stringHash(v.String())
	case reflect.Bool:
		if v.Bool() {
			return 1231
		}
		return 1237
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return int32(v.Int())
	case reflect.Uint8, reflect.Uint16:
		return int32(v.Uint())
	case reflect.Int, reflect.Int64:
		return longHash(uint64(v.Int()))
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		return longHash(v.Uint())
	case reflect.Float32:
		return int32(floatBits(float32(v.Float())))
	case reflect.Float64:
		return longHash(doubleBits(v.Float()))
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return 0
		}
		h := int32(1)
		for i := 0; i < v.Len(); i++ {
			h = 31*h + valueHash(v.Index(i))
		}
		return h
	case reflect.Struct:
		attrs := attributesOf(v.Type())
		return hashOf(attrs, fieldValues(v, attrs))
	}
	return 0
}

// valueEqual compares attribute values structurally. Floats compare by bits, so NaN
// equals NaN and 0.0 differs from -0.0.
func valueEqual(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	switch a.Kind() {
	case reflect.Float32:
		return floatBits(float32(a.Float())) == floatBits(float32(b.Float()))
	case reflect.Float64:
		return doubleBits(a.Float()) == doubleBits(b.Float())
	case reflect.Slice, reflect.Array:
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !valueEqual(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			if a.Type().Field(i).IsExported() && !valueEqual(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	}
	return a.Equal(b)
}

// format renders @pkg.Type(attr=val, ...).
func format(t reflect.Type, attrs []attribute, vals []reflect.Value) string {
	var b strings.Builder
	b.WriteByte('@')
	b.WriteString(t.String())
	b.WriteByte('(')
	for i, a := range attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.name)
		b.WriteByte('=')
		writeValue(&b, vals[i])
	}
	b.WriteByte(')')
	return b.String()
}

func writeValue(b *strings.Builder, v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		b.WriteString(strconv.Quote(v.String()))
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 32))
		b.WriteByte('f')
	case reflect.Float64:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, v.Index(i))
		}
		b.WriteByte(']')
	case reflect.Struct:
		attrs := attributesOf(v.Type())
		b.WriteString(format(v.Type(), attrs, fieldValues(v, attrs)))
	default:
		b.WriteString(v.String())
	}
}

func fieldValues(v reflect.Value, attrs []attribute) []reflect.Value {
	out := make([]reflect.Value, len(attrs))
	for i, a := range attrs {
		out[i] = v.FieldByIndex(a.index)
	}
	return out
}
