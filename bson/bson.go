// Package bson decodes the self-describing binary document format MongoDB
// stores as WiredTiger values: a length-prefixed stream of typed, named
// fields. Documents keep field order; nested documents and arrays recurse
// through the same decoder. The type-tag set is closed to the family the
// target release writes; any other tag fails that one document only.
package bson

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Type is a BSON element type tag.
type Type byte

const (
	TypeDouble     Type = 0x01
	TypeString     Type = 0x02
	TypeDocument   Type = 0x03
	TypeArray      Type = 0x04
	TypeBinary     Type = 0x05
	TypeUndefined  Type = 0x06
	TypeObjectID   Type = 0x07
	TypeBool       Type = 0x08
	TypeDateTime   Type = 0x09
	TypeNull       Type = 0x0a
	TypeRegex      Type = 0x0b
	TypeInt32      Type = 0x10
	TypeTimestamp  Type = 0x11
	TypeInt64      Type = 0x12
	TypeDecimal128 Type = 0x13
	TypeMinKey     Type = 0xff
	TypeMaxKey     Type = 0x7f
)

// Elem is one decoded field.
type Elem struct {
	Name  string
	Value any
}

// Document is an ordered field list. Values are Go scalars (float64,
// string, int32, int64, bool, nil), time.Time, or the wrapper types below;
// nested documents are Document, arrays are []any.
type Document []Elem

// Lookup returns the first field with the given name.
func (d Document) Lookup(name string) (any, bool) {
	for _, e := range d {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Map flattens the document into an unordered map.
func (d Document) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		if _, dup := m[e.Name]; !dup {
			m[e.Name] = e.Value
		}
	}
	return m
}

// ObjectID is a 12-byte document id.
type ObjectID [12]byte

func (o ObjectID) String() string { return fmt.Sprintf("%x", o[:]) }

// Binary is a subtyped byte string.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Regex is a regular-expression value.
type Regex struct {
	Pattern string
	Options string
}

// Timestamp is the internal replication timestamp type.
type Timestamp struct {
	T uint32
	I uint32
}

// Decimal128 is a 128-bit decimal carried as its raw halves.
type Decimal128 struct {
	High uint64
	Low  uint64
}

// MinKey and MaxKey are the ordering sentinels.
type MinKey struct{}
type MaxKey struct{}

// UnknownTypeError reports a field whose type tag is outside the supported
// family. It poisons only the document containing it.
type UnknownTypeError struct {
	Tag   byte
	Field string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown field type %#x for %q", e.Tag, e.Field)
}

// Decode parses one document occupying exactly buf.
func Decode(buf []byte) (Document, error) {
	doc, n, err := readDocument(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("document length %d does not cover value of %d bytes", n, len(buf))
	}
	return doc, nil
}

func readDocument(buf []byte) (Document, int, error) {
	if len(buf) < 5 {
		return nil, 0, fmt.Errorf("document shorter than its length prefix")
	}
	total := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	if total < 5 || total > len(buf) {
		return nil, 0, fmt.Errorf("document length %d out of range (%d bytes available)", total, len(buf))
	}
	if buf[total-1] != 0 {
		return nil, 0, fmt.Errorf("document missing terminator")
	}

	var doc Document
	off := 4
	for off < total-1 {
		tag := buf[off]
		off++
		name, n, err := readCString(buf[off:total])
		if err != nil {
			return nil, 0, err
		}
		off += n
		val, n, err := readValue(Type(tag), name, buf[off:total-1])
		if err != nil {
			return nil, 0, err
		}
		off += n
		doc = append(doc, Elem{Name: name, Value: val})
	}
	if off != total-1 {
		return nil, 0, fmt.Errorf("element stream overran document bounds")
	}
	return doc, total, nil
}

func readValue(tag Type, name string, buf []byte) (any, int, error) {
	switch tag {
	case TypeDouble:
		if len(buf) < 8 {
			return nil, 0, truncated(name)
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), 8, nil

	case TypeString:
		s, n, err := readString(buf)
		if err != nil {
			return nil, 0, fmt.Errorf("field %q: %w", name, err)
		}
		return s, n, nil

	case TypeDocument:
		sub, n, err := readDocument(buf)
		if err != nil {
			return nil, 0, err
		}
		return sub, n, nil

	case TypeArray:
		sub, n, err := readDocument(buf)
		if err != nil {
			return nil, 0, err
		}
		arr := make([]any, len(sub))
		for i, e := range sub {
			arr[i] = e.Value
		}
		return arr, n, nil

	case TypeBinary:
		if len(buf) < 5 {
			return nil, 0, truncated(name)
		}
		size := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
		if size < 0 || 5+size > len(buf) {
			return nil, 0, truncated(name)
		}
		data := make([]byte, size)
		copy(data, buf[5:5+size])
		return Binary{Subtype: buf[4], Data: data}, 5 + size, nil

	case TypeUndefined, TypeNull:
		return nil, 0, nil

	case TypeObjectID:
		if len(buf) < 12 {
			return nil, 0, truncated(name)
		}
		var o ObjectID
		copy(o[:], buf[:12])
		return o, 12, nil

	case TypeBool:
		if len(buf) < 1 {
			return nil, 0, truncated(name)
		}
		switch buf[0] {
		case 0:
			return false, 1, nil
		case 1:
			return true, 1, nil
		}
		return nil, 0, fmt.Errorf("field %q: boolean byte %#x", name, buf[0])

	case TypeDateTime:
		if len(buf) < 8 {
			return nil, 0, truncated(name)
		}
		ms := int64(binary.LittleEndian.Uint64(buf))
		return time.UnixMilli(ms).UTC(), 8, nil

	case TypeRegex:
		pat, n1, err := readCString(buf)
		if err != nil {
			return nil, 0, fmt.Errorf("field %q: %w", name, err)
		}
		opt, n2, err := readCString(buf[n1:])
		if err != nil {
			return nil, 0, fmt.Errorf("field %q: %w", name, err)
		}
		return Regex{Pattern: pat, Options: opt}, n1 + n2, nil

	case TypeInt32:
		if len(buf) < 4 {
			return nil, 0, truncated(name)
		}
		return int32(binary.LittleEndian.Uint32(buf)), 4, nil

	case TypeTimestamp:
		if len(buf) < 8 {
			return nil, 0, truncated(name)
		}
		return Timestamp{
			I: binary.LittleEndian.Uint32(buf[0:4]),
			T: binary.LittleEndian.Uint32(buf[4:8]),
		}, 8, nil

	case TypeInt64:
		if len(buf) < 8 {
			return nil, 0, truncated(name)
		}
		return int64(binary.LittleEndian.Uint64(buf)), 8, nil

	case TypeDecimal128:
		if len(buf) < 16 {
			return nil, 0, truncated(name)
		}
		return Decimal128{
			Low:  binary.LittleEndian.Uint64(buf[0:8]),
			High: binary.LittleEndian.Uint64(buf[8:16]),
		}, 16, nil

	case TypeMinKey:
		return MinKey{}, 0, nil
	case TypeMaxKey:
		return MaxKey{}, 0, nil
	}
	return nil, 0, &UnknownTypeError{Tag: byte(tag), Field: name}
}

func readCString(buf []byte) (string, int, error) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("unterminated cstring")
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("string shorter than its length prefix")
	}
	size := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	if size < 1 || 4+size > len(buf) {
		return "", 0, fmt.Errorf("string length %d out of range", size)
	}
	if buf[4+size-1] != 0 {
		return "", 0, fmt.Errorf("string missing terminator")
	}
	return string(buf[4 : 4+size-1]), 4 + size, nil
}

func truncated(name string) error {
	return fmt.Errorf("field %q truncated", name)
}
