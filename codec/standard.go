package codec

import (
	"bytes"
	"encoding/json"
	"io"
)

// Standard implements Codec with encoding/json.
type Standard struct{}

// NewStandard creates a new standard JSON codec
func NewStandard() *Standard {
	return &Standard{}
}

// Marshal encodes v without HTML escaping, so URLs with query strings stay readable.
func (Standard) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode appends a newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (Standard) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (Standard) Decode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func (Standard) Library() Library { return LibraryStandard }
