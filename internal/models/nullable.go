package models

import (
	"bytes"
	"encoding/json"
)

// Nullable tells apart a field that was omitted from one explicitly set to
// null. Only usable as a struct field decoded by encoding/json.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// Null reports an explicit null.
func (n Nullable[T]) Null() bool {
	return n.Set && n.Value == nil
}

func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}
