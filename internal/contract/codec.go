package contract

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Codec converts between stored bytes and the value type a contract works
// with. It is applied to arguments, properties, results and asset data.
// Empty input decodes to the zero value and the zero value encodes to nil.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// Object is the value type of object encoded contracts.
type Object = map[string]any

// ObjectCodec decodes JSON objects into maps. Keys are encoded sorted.
type ObjectCodec struct{}

func (ObjectCodec) Encode(v Object) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (ObjectCodec) Decode(b []byte) (Object, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v Object
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return v, nil
}

// Document is a JSON document kept in its encoded form. Contracts that use
// it unmarshal into their own types.
type Document []byte

// DocumentCodec validates documents and canonicalises them: object keys are
// sorted and insignificant whitespace is dropped.
type DocumentCodec struct{}

func (DocumentCodec) Encode(v Document) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return canonicalDocument(v)
}

func (DocumentCodec) Decode(b []byte) (Document, error) {
	if len(b) == 0 {
		return nil, nil
	}
	c, err := canonicalDocument(b)
	if err != nil {
		return nil, err
	}
	return Document(c), nil
}

func canonicalDocument(b []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return json.Marshal(v)
}

// StringCodec passes bytes through as a string.
type StringCodec struct{}

func (StringCodec) Encode(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	return []byte(v), nil
}

func (StringCodec) Decode(b []byte) (string, error) { return string(b), nil }
