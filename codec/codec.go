// Package codec wraps the JSON library used for request and response bodies.
package codec

import (
	"fmt"
	"io"
)

// Library names a JSON implementation.
type Library string

const (
	LibraryStandard Library = "standard" // encoding/json
	LibrarySonic    Library = "sonic"    // bytedance/sonic
)

// Codec encodes and decodes JSON bodies.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	// Decode reads one JSON document from r into v.
	Decode(r io.Reader, v interface{}) error
	Library() Library
}

// New returns the codec for lib. An empty name selects the standard library.
func New(lib Library) (Codec, error) {
	switch lib {
	case LibraryStandard, "":
		return NewStandard(), nil
	case LibrarySonic:
		return NewSonic(), nil
	}
	return nil, fmt.Errorf("unknown json library %q", lib)
}
