// Package jsoncodec is the JSON codec shared by the packet tag encoders, the
// io transport and the archive.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func NewEncoder(w io.Writer) sonic.Encoder {
	return defaultConfig.NewEncoder(w)
}

func NewDecoder(r io.Reader) sonic.Decoder {
	return defaultConfig.NewDecoder(r)
}

func Encode(w io.Writer, v any) error {
	return NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return NewDecoder(r).Decode(v)
}
