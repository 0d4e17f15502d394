package operation

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Kind enumerates the shapes a Document can take.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// maxDepth bounds nesting when decoding untrusted trace files.
const maxDepth = 512

// Document is the portable form of an operation payload: null, a boolean, a
// number, a string, a list of documents or an ordered map of named documents.
// Map fields keep their insertion order through encoding and decoding.
//
// The zero Document is null.
type Document struct {
	kind   Kind
	b      bool
	num    json.Number
	str    string
	items  []Document
	fields []Field
}

// Field is one named entry of a map Document.
type Field struct {
	Key   string
	Value Document
}

func Null() Document { return Document{} }

func Bool(v bool) Document { return Document{kind: KindBool, b: v} }

func Int(v int64) Document {
	return Document{kind: KindNumber, num: json.Number(strconv.FormatInt(v, 10))}
}

func Float(v float64) Document {
	return Document{kind: KindNumber, num: json.Number(strconv.FormatFloat(v, 'g', -1, 64))}
}

func String(v string) Document { return Document{kind: KindString, str: v} }

func List(items ...Document) Document {
	return Document{kind: KindList, items: append([]Document(nil), items...)}
}

func Map(fields ...Field) Document {
	return Document{kind: KindMap, fields: append([]Field(nil), fields...)}
}

// F is shorthand for building a Field.
func F(key string, value Document) Field { return Field{Key: key, Value: value} }

func (d Document) Kind() Kind   { return d.kind }
func (d Document) IsNull() bool { return d.kind == KindNull }

// BoolValue returns the boolean of a bool Document and false otherwise.
func (d Document) BoolValue() bool { return d.kind == KindBool && d.b }

// Number returns the literal of a number Document, or "" for other kinds.
func (d Document) Number() json.Number {
	if d.kind != KindNumber {
		return ""
	}
	return d.num
}

// Text returns the value of a string Document, or "" for other kinds.
func (d Document) Text() string {
	if d.kind != KindString {
		return ""
	}
	return d.str
}

// Items returns a copy of the elements of a list Document.
func (d Document) Items() []Document {
	if d.kind != KindList {
		return nil
	}
	return append([]Document(nil), d.items...)
}

// Fields returns a copy of the entries of a map Document in order.
func (d Document) Fields() []Field {
	if d.kind != KindMap {
		return nil
	}
	return append([]Field(nil), d.fields...)
}

// Get looks up the first field named key in a map Document.
func (d Document) Get(key string) (Document, bool) {
	if d.kind != KindMap {
		return Document{}, false
	}
	for _, f := range d.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Document{}, false
}

// Len reports the number of items or fields, and 0 for scalars.
func (d Document) Len() int {
	switch d.kind {
	case KindList:
		return len(d.items)
	case KindMap:
		return len(d.fields)
	default:
		return 0
	}
}

// Equal reports structural equality, including field order.
func (d Document) Equal(o Document) bool {
	if d.kind != o.kind {
		return false
	}
	switch d.kind {
	case KindNull:
		return true
	case KindBool:
		return d.b == o.b
	case KindNumber:
		return d.num == o.num
	case KindString:
		return d.str == o.str
	case KindList:
		if len(d.items) != len(o.items) {
			return false
		}
		for i := range d.items {
			if !d.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(d.fields) != len(o.fields) {
			return false
		}
		for i := range d.fields {
			if d.fields[i].Key != o.fields[i].Key || !d.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts the Document into plain Go values: nil, bool,
// json.Number, string, []any and map[string]any. Field order is lost.
func (d Document) Interface() any {
	switch d.kind {
	case KindBool:
		return d.b
	case KindNumber:
		return d.num
	case KindString:
		return d.str
	case KindList:
		out := make([]any, len(d.items))
		for i, it := range d.items {
			out[i] = it.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(d.fields))
		for _, f := range d.fields {
			if _, dup := out[f.Key]; !dup {
				out[f.Key] = f.Value.Interface()
			}
		}
		return out
	default:
		return nil
	}
}

// String renders the Document as compact JSON.
func (d Document) String() string {
	var buf bytes.Buffer
	if err := d.encode(&buf); err != nil {
		return "<invalid document: " + err.Error() + ">"
	}
	return buf.String()
}

func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Document) encode(buf *bytes.Buffer) error {
	switch d.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(d.b))
	case KindNumber:
		if _, err := strconv.ParseFloat(string(d.num), 64); err != nil {
			return errors.Errorf("invalid number literal %q", d.num)
		}
		buf.WriteString(string(d.num))
	case KindString:
		writeString(buf, d.str)
	case KindList:
		buf.WriteByte('[')
		for i, it := range d.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, f := range d.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, f.Key)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.Errorf("unknown document kind %d", d.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	// Marshalling a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// ParseDocument decodes a single JSON value, keeping object field order and
// number literals exactly as written.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc, err := decodeValue(dec, 0)
	if err != nil {
		return Document{}, errors.Wrap(err, "parse document")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Document{}, errors.New("parse document: trailing data after value")
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder, depth int) (Document, error) {
	if depth > maxDepth {
		return Document{}, errors.Errorf("nesting deeper than %d", maxDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return Document{}, io.ErrUnexpectedEOF
		}
		return Document{}, err
	}
	switch v := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case json.Number:
		return Document{kind: KindNumber, num: v}, nil
	case string:
		return String(v), nil
	case json.Delim:
		switch v {
		case '[':
			doc := Document{kind: KindList}
			for dec.More() {
				item, err := decodeValue(dec, depth+1)
				if err != nil {
					return Document{}, err
				}
				doc.items = append(doc.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Document{}, err
			}
			return doc, nil
		case '{':
			doc := Document{kind: KindMap}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Document{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Document{}, errors.Errorf("unexpected object key %v", kt)
				}
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return Document{}, err
				}
				doc.fields = append(doc.fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Document{}, err
			}
			return doc, nil
		}
	}
	return Document{}, errors.Errorf("unexpected token %v", tok)
}
