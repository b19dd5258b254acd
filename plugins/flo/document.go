package flo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrFieldMissing = errors.New("field missing")

// Document is a raw vendor API response. The Flo API returns deeply nested
// objects whose shape varies by device generation, so responses are kept as
// semi-structured maps and projected through typed accessors.
type Document map[string]any

func (d Document) lookup(path ...string) (any, error) {
	if d == nil {
		return nil, missingErr(path)
	}
	var current any = map[string]any(d)
	for i, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, missingErr(path[:i+1])
		}
		current, ok = obj[key]
		if !ok {
			return nil, missingErr(path[:i+1])
		}
	}
	return current, nil
}

// Has reports whether the field exists, regardless of its value.
func (d Document) Has(path ...string) bool {
	_, err := d.lookup(path...)
	return err == nil
}

func (d Document) Str(path ...string) (string, error) {
	value, err := d.lookup(path...)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", missingErr(path)
	}
	return s, nil
}

func (d Document) Float(path ...string) (float64, error) {
	value, err := d.lookup(path...)
	if err != nil {
		return 0, err
	}
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case json.Number:
		return typed.Float64()
	case string:
		if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
			return parsed, nil
		}
	}
	return 0, missingErr(path)
}

func (d Document) Int(path ...string) (int, error) {
	value, err := d.Float(path...)
	if err != nil {
		return 0, err
	}
	return int(value), nil
}

func (d Document) Bool(path ...string) (bool, error) {
	value, err := d.lookup(path...)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, missingErr(path)
	}
	return b, nil
}

func (d Document) Doc(path ...string) (Document, error) {
	value, err := d.lookup(path...)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, missingErr(path)
	}
	return Document(obj), nil
}

// Docs projects a list of objects, skipping non-object elements.
func (d Document) Docs(path ...string) ([]Document, error) {
	value, err := d.lookup(path...)
	if err != nil {
		return nil, err
	}
	list, ok := value.([]any)
	if !ok {
		return nil, missingErr(path)
	}
	docs := make([]Document, 0, len(list))
	for _, element := range list {
		if obj, ok := element.(map[string]any); ok {
			docs = append(docs, Document(obj))
		}
	}
	return docs, nil
}

func missingErr(path []string) error {
	return fmt.Errorf("%w: %s", ErrFieldMissing, strings.Join(path, "."))
}
