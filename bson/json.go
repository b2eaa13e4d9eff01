package bson

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// MarshalJSON renders the document as extended-JSON-style output with field
// order preserved. Types JSON cannot express natively use the conventional
// $-wrappers.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONDoc(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSONDoc(buf *bytes.Buffer, d Document) error {
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if err := writeJSONValue(buf, e.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case Document:
		return writeJSONDoc(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case ObjectID:
		fmt.Fprintf(buf, `{"$oid":"%x"}`, val[:])
		return nil
	case time.Time:
		fmt.Fprintf(buf, `{"$date":%q}`, val.UTC().Format(time.RFC3339Nano))
		return nil
	case Binary:
		fmt.Fprintf(buf, `{"$binary":{"base64":%q,"subType":"%02x"}}`,
			base64.StdEncoding.EncodeToString(val.Data), val.Subtype)
		return nil
	case Regex:
		pat, _ := json.Marshal(val.Pattern)
		opt, _ := json.Marshal(val.Options)
		fmt.Fprintf(buf, `{"$regularExpression":{"pattern":%s,"options":%s}}`, pat, opt)
		return nil
	case Timestamp:
		fmt.Fprintf(buf, `{"$timestamp":{"t":%d,"i":%d}}`, val.T, val.I)
		return nil
	case Decimal128:
		fmt.Fprintf(buf, `{"$decimal128":"%016x%016x"}`, val.High, val.Low)
		return nil
	case MinKey:
		buf.WriteString(`{"$minKey":1}`)
		return nil
	case MaxKey:
		buf.WriteString(`{"$maxKey":1}`)
		return nil
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
}
