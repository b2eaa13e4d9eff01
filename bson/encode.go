package bson

import (
	"fmt"
	"math"
	"sort"
	"time"

	"encoding/binary"
)

// Marshal encodes the document. It is the encode side of Decode, used by
// the test fixture builder and round-trip tests.
func (d Document) Marshal() ([]byte, error) {
	return appendDocument(nil, d)
}

func appendDocument(buf []byte, d Document) ([]byte, error) {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	var err error
	for _, e := range d {
		buf, err = appendElem(buf, e.Name, e.Value)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, 0)
	binary.LittleEndian.PutUint32(buf[start:start+4], uint32(len(buf)-start))
	return buf, nil
}

func appendElem(buf []byte, name string, value any) ([]byte, error) {
	tagAt := len(buf)
	buf = append(buf, 0)
	buf = append(buf, name...)
	buf = append(buf, 0)

	var err error
	switch v := value.(type) {
	case float64:
		buf[tagAt] = byte(TypeDouble)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	case string:
		buf[tagAt] = byte(TypeString)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)+1))
		buf = append(buf, v...)
		buf = append(buf, 0)
	case Document:
		buf[tagAt] = byte(TypeDocument)
		if buf, err = appendDocument(buf, v); err != nil {
			return nil, err
		}
	case []any:
		buf[tagAt] = byte(TypeArray)
		arr := make(Document, len(v))
		for i, item := range v {
			arr[i] = Elem{Name: fmt.Sprintf("%d", i), Value: item}
		}
		if buf, err = appendDocument(buf, arr); err != nil {
			return nil, err
		}
	case Binary:
		buf[tagAt] = byte(TypeBinary)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Data)))
		buf = append(buf, v.Subtype)
		buf = append(buf, v.Data...)
	case ObjectID:
		buf[tagAt] = byte(TypeObjectID)
		buf = append(buf, v[:]...)
	case bool:
		buf[tagAt] = byte(TypeBool)
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case time.Time:
		buf[tagAt] = byte(TypeDateTime)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.UnixMilli()))
	case nil:
		buf[tagAt] = byte(TypeNull)
	case Regex:
		buf[tagAt] = byte(TypeRegex)
		buf = append(buf, v.Pattern...)
		buf = append(buf, 0)
		buf = append(buf, v.Options...)
		buf = append(buf, 0)
	case int32:
		buf[tagAt] = byte(TypeInt32)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	case int:
		buf[tagAt] = byte(TypeInt64)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(v)))
	case int64:
		buf[tagAt] = byte(TypeInt64)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	case Timestamp:
		buf[tagAt] = byte(TypeTimestamp)
		buf = binary.LittleEndian.AppendUint32(buf, v.I)
		buf = binary.LittleEndian.AppendUint32(buf, v.T)
	case Decimal128:
		buf[tagAt] = byte(TypeDecimal128)
		buf = binary.LittleEndian.AppendUint64(buf, v.Low)
		buf = binary.LittleEndian.AppendUint64(buf, v.High)
	case MinKey:
		buf[tagAt] = byte(TypeMinKey)
	case MaxKey:
		buf[tagAt] = byte(TypeMaxKey)
	default:
		return nil, fmt.Errorf("bson: cannot encode %T", value)
	}
	return buf, nil
}

// D builds a document from alternating name/value arguments; it keeps
// fixture code readable.
func D(pairs ...any) Document {
	if len(pairs)%2 != 0 {
		panic("bson.D: odd argument count")
	}
	doc := make(Document, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		doc = append(doc, Elem{Name: pairs[i].(string), Value: pairs[i+1]})
	}
	return doc
}

// SortedNames returns the field names in lexical order; handy for stable
// test output.
func (d Document) SortedNames() []string {
	names := make([]string, len(d))
	for i, e := range d {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}
