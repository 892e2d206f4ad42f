package models

import (
	"bytes"
	"encoding/json"
)

// Nullable is a tri-state string: absent, explicit null, or a value.
type Nullable struct {
	Set   bool
	Null  bool
	Value string
}

// Some returns a Nullable carrying v.
func Some(v string) Nullable { return Nullable{Set: true, Value: v} }

// Null returns a Nullable that clears the field.
func Null() Nullable { return Nullable{Set: true, Null: true} }

func (n *Nullable) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Null = true
		n.Value = ""
		return nil
	}
	n.Null = false
	return json.Unmarshal(data, &n.Value)
}

func (n Nullable) MarshalJSON() ([]byte, error) {
	if !n.Set || n.Null {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}
