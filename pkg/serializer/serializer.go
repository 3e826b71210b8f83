package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"reflect"
	"sort"
	"sync"
	"unsafe"
)

var emptyStructType = reflect.TypeOf(struct{}{})

// fieldCache maps a struct type to the indices of its serialized fields.
// Unexported fields and fields tagged `serialize:"-"` are skipped.
var fieldCache sync.Map

func serializedFields(typ reflect.Type) []int {
	if cached, ok := fieldCache.Load(typ); ok {
		return cached.([]int)
	}
	fields := make([]int, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() || f.Tag.Get("serialize") == "-" {
			continue
		}
		fields = append(fields, i)
	}
	fieldCache.Store(typ, fields)
	return fields
}

// Serialize accepts an arbitrary value or pointer and returns its []byte representation.
func Serialize(v any) []byte {
	val := reflect.ValueOf(v)

	if val.Kind() == reflect.Ptr && !val.IsNil() {
		val = val.Elem()
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4096))
	serializeValue(val, buf)

	return buf.Bytes()
}

func Deserialize(data []byte, target any) error {
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("deserialize target must be a non-nil pointer")
	}

	buf := bytes.NewBuffer(data)
	if err := deserializeValue(val.Elem(), buf); err != nil {
		return err
	}

	if buf.Len() > 0 {
		return fmt.Errorf("extra %d bytes left after deserialization", buf.Len())
	}

	return nil
}

func serializeValue(v reflect.Value, buf *bytes.Buffer) {
	typ := v.Type()

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			buf.WriteByte(0)
			return
		}
		buf.WriteByte(1)
		serializeValue(v.Elem(), buf)

	case reflect.Struct:
		for _, i := range serializedFields(typ) {
			serializeValue(v.Field(i), buf)
		}

	case reflect.Map:
		serializeMap(v, buf)

	case reflect.Array, reflect.Slice:
		serializeSlice(v, buf)

	case reflect.String:
		s := v.String()
		buf.Write(EncodeGeneralNatural(uint64(len(s))))
		buf.WriteString(s)

	case reflect.Bool:
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case reflect.Float32, reflect.Float64:
		l := int(typ.Size())
		if l == 4 {
			buf.Write(EncodeLittleEndian(4, uint64(math.Float32bits(float32(v.Float())))))
		} else {
			buf.Write(EncodeLittleEndian(8, math.Float64bits(v.Float())))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		l := int(typ.Size())
		buf.Write(EncodeLittleEndian(l, SignedToUnsigned(l, v.Int())))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.Write(EncodeLittleEndian(int(typ.Size()), v.Uint()))

	default:
		panic(fmt.Sprintf("unsupported kind: %s", v.Kind()))
	}
}

func deserializeValue(v reflect.Value, buf *bytes.Buffer) error {
	vType := v.Type()

	switch v.Kind() {
	case reflect.Ptr:
		b, err := buf.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read pointer tag: %w", err)
		}
		if b == 0 {
			return nil
		}
		if v.IsNil() {
			v.Set(reflect.New(vType.Elem()))
		}
		return deserializeValue(v.Elem(), buf)

	case reflect.Struct:
		for _, i := range serializedFields(vType) {
			if err := deserializeValue(v.Field(i), buf); err != nil {
				return fmt.Errorf("failed to deserialize field %s: %w", vType.Field(i).Name, err)
			}
		}
		return nil

	case reflect.Map:
		return deserializeMap(v, buf)

	case reflect.Array, reflect.Slice:
		return deserializeSlice(v, buf)

	case reflect.String:
		length, err := readLength(buf)
		if err != nil {
			return fmt.Errorf("failed to decode string length: %w", err)
		}
		data := buf.Next(length)
		if len(data) != length {
			return fmt.Errorf("string truncated: want %d bytes, have %d", length, len(data))
		}
		v.SetString(string(data))
		return nil

	case reflect.Bool:
		b, err := buf.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read bool: %w", err)
		}
		if b > 1 {
			return fmt.Errorf("invalid bool octet %d", b)
		}
		v.SetBool(b == 1)
		return nil

	case reflect.Float32, reflect.Float64:
		l := int(vType.Size())
		x, err := readFixed(buf, l)
		if err != nil {
			return fmt.Errorf("failed to read float bytes: %w", err)
		}
		if l == 4 {
			v.SetFloat(float64(math.Float32frombits(uint32(x))))
		} else {
			v.SetFloat(math.Float64frombits(x))
		}
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		l := int(vType.Size())
		x, err := readFixed(buf, l)
		if err != nil {
			return fmt.Errorf("failed to read integer bytes: %w", err)
		}
		v.SetInt(UnsignedToSigned(l, x))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		x, err := readFixed(buf, int(vType.Size()))
		if err != nil {
			return fmt.Errorf("failed to read unsigned integer bytes: %w", err)
		}
		v.SetUint(x)
		return nil

	default:
		return fmt.Errorf("unsupported kind for deserialization: %s", v.Kind())
	}
}

func readFixed(buf *bytes.Buffer, l int) (uint64, error) {
	var octets [8]byte
	if n, _ := buf.Read(octets[:l]); n != l {
		return 0, fmt.Errorf("want %d octets, have %d", l, n)
	}
	return DecodeLittleEndian(octets[:l]), nil
}

func readLength(buf *bytes.Buffer) (int, error) {
	length, n, ok := DecodeGeneralNatural(buf.Bytes())
	if !ok {
		return 0, fmt.Errorf("malformed natural")
	}
	buf.Next(n)
	if length > uint64(buf.Len()) {
		return 0, fmt.Errorf("length %d exceeds input", length)
	}
	return int(length), nil
}

// serializeMap writes the length, then each entry in key order. Maps whose
// value type is struct{} are sets and only their keys are written.
func serializeMap(v reflect.Value, buf *bytes.Buffer) {
	keys := v.MapKeys()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch a.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return a.Uint() < b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() < b.Float()
		case reflect.String:
			return a.String() < b.String()
		default:
			return fmt.Sprintf("%v", a.Interface()) < fmt.Sprintf("%v", b.Interface())
		}
	})

	buf.Write(EncodeGeneralNatural(uint64(len(keys))))

	isSet := v.Type().Elem() == emptyStructType
	for _, key := range keys {
		serializeValue(key, buf)
		if !isSet {
			serializeValue(v.MapIndex(key), buf)
		}
	}
}

func deserializeMap(v reflect.Value, buf *bytes.Buffer) error {
	length, err := readLength(buf)
	if err != nil {
		return fmt.Errorf("failed to decode map length: %w", err)
	}

	typ := v.Type()
	if v.IsNil() {
		v.Set(reflect.MakeMapWithSize(typ, length))
	}
	isSet := typ.Elem() == emptyStructType

	for i := 0; i < length; i++ {
		key := reflect.New(typ.Key()).Elem()
		if err := deserializeValue(key, buf); err != nil {
			return fmt.Errorf("failed to deserialize map key: %w", err)
		}
		elem := reflect.New(typ.Elem()).Elem()
		if !isSet {
			if err := deserializeValue(elem, buf); err != nil {
				return fmt.Errorf("failed to deserialize map value: %w", err)
			}
		}
		v.SetMapIndex(key, elem)
	}
	return nil
}

// serializeSlice writes a length prefix for slices (never for arrays), then
// the elements. Byte sequences are written in bulk.
func serializeSlice(v reflect.Value, buf *bytes.Buffer) {
	vLen := v.Len()
	vType := v.Type()

	if v.Kind() == reflect.Slice {
		buf.Write(EncodeGeneralNatural(uint64(vLen)))
	}

	if vType.Elem().Kind() == reflect.Uint8 {
		switch {
		case v.Kind() == reflect.Slice:
			buf.Write(v.Bytes())
		case v.CanAddr():
			buf.Write(unsafe.Slice((*byte)(unsafe.Pointer(v.UnsafeAddr())), vLen))
		default:
			slice := reflect.MakeSlice(reflect.SliceOf(vType.Elem()), vLen, vLen)
			reflect.Copy(slice, v)
			buf.Write(slice.Bytes())
		}
		return
	}

	for i := 0; i < vLen; i++ {
		serializeValue(v.Index(i), buf)
	}
}

func deserializeSlice(v reflect.Value, buf *bytes.Buffer) error {
	vType := v.Type()
	length := v.Len()

	if v.Kind() == reflect.Slice {
		n, err := readLength(buf)
		if err != nil {
			return fmt.Errorf("failed to decode slice length: %w", err)
		}
		length = n
		if length == 0 {
			v.Set(reflect.Zero(vType))
			return nil
		}
		v.Set(reflect.MakeSlice(vType, length, length))
	}

	if vType.Elem().Kind() == reflect.Uint8 && (v.Kind() == reflect.Slice || v.CanAddr()) {
		var data []byte
		if v.Kind() == reflect.Slice {
			data = v.Bytes()
		} else {
			data = unsafe.Slice((*byte)(unsafe.Pointer(v.UnsafeAddr())), length)
		}
		if n, _ := buf.Read(data); n != length {
			return fmt.Errorf("byte data truncated: want %d, have %d", length, n)
		}
		return nil
	}

	for i := 0; i < length; i++ {
		if err := deserializeValue(v.Index(i), buf); err != nil {
			return fmt.Errorf("failed to deserialize element %d: %w", i, err)
		}
	}
	return nil
}

// EncodeGeneralNatural encodes x in the compact natural format:
//  1. x == 0: a single 0x00 octet.
//  2. a header octet carrying the high bits and the count of trailing octets.
//  3. otherwise 0xFF followed by x as 8 little-endian octets.
func EncodeGeneralNatural(x uint64) []byte {
	if x == 0 {
		return []byte{0x00}
	}

	l := uint((bits.Len64(x) - 1) / 7)
	if l >= 8 {
		out := make([]byte, 9)
		out[0] = 0xFF
		binary.LittleEndian.PutUint64(out[1:], x)
		return out
	}

	header := (1 << 8) - (1 << (8 - l)) + (x >> (8 * l))
	out := []byte{byte(header)}
	if l > 0 {
		out = append(out, EncodeLittleEndian(int(l), x&((uint64(1)<<(8*l))-1))...)
	}
	return out
}

func EncodeLittleEndian(octets int, x uint64) []byte {
	out := make([]byte, octets)
	for i := range out {
		out[i] = byte(x)
		x >>= 8
	}
	return out
}

func DecodeGeneralNatural(p []byte) (x uint64, n int, ok bool) {
	if len(p) == 0 {
		return 0, 0, false
	}

	header := p[0]
	switch header {
	case 0x00:
		return 0, 1, true
	case 0xFF:
		if len(p) < 9 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(p[1:9]), 9, true
	}

	l := bits.LeadingZeros8(^header)
	base := byte(int(1<<8) - (1 << (8 - l)))
	if len(p) < 1+l {
		return 0, 0, false
	}
	high := uint64(header - base)
	return (high << (8 * l)) | DecodeLittleEndian(p[1:1+l]), 1 + l, true
}

func DecodeLittleEndian(b []byte) uint64 {
	var x uint64
	for i, v := range b {
		x |= uint64(v) << (8 * i)
	}
	return x
}

// UnsignedToSigned reinterprets the low 8*octets bits of x as two's complement.
func UnsignedToSigned(octets int, x uint64) int64 {
	if octets == 8 {
		return int64(x)
	}
	shift := uint(64 - 8*octets)
	return int64(x<<shift) >> shift
}

// SignedToUnsigned truncates a to its 8*octets-bit two's complement form.
func SignedToUnsigned(octets int, a int64) uint64 {
	if octets == 8 {
		return uint64(a)
	}
	return uint64(a) & (uint64(1)<<(8*uint(octets)) - 1)
}
