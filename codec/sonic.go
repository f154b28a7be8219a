package codec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Sonic implements Codec with bytedance/sonic.
type Sonic struct {
	api sonic.API
}

// NewSonic creates a Sonic codec that matches the standard codec's output:
// no HTML escaping, map keys sorted.
func NewSonic() *Sonic {
	api := sonic.Config{
		EscapeHTML:       false,
		SortMapKeys:      true,
		ValidateString:   true,
		CompactMarshaler: true,
	}.Froze()
	return &Sonic{api: api}
}

func (s *Sonic) Marshal(v interface{}) ([]byte, error) {
	return s.api.Marshal(v)
}

func (s *Sonic) Unmarshal(data []byte, v interface{}) error {
	return s.api.Unmarshal(data, v)
}

func (s *Sonic) Decode(r io.Reader, v interface{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.api.Unmarshal(data, v)
}

func (s *Sonic) Library() Library { return LibrarySonic }
