// Package serialization abstracts how cached values and state snapshots are
// turned into bytes. Callers pick a codec at construction time; the cache and
// state engines only see Encoder/Decoder.
package serialization

import (
	"bytes"
	"io"
)

const (
	// JSONType selects the JSON codec.
	JSONType = "json"

	// GobType selects the gob codec.
	GobType = "gob"
)

// Decoder decodes one value from an underlying reader.
type Decoder interface {
	Decode(v any) error
}

// Encoder encodes one value onto an underlying writer.
type Encoder interface {
	Encode(v any) error
}

// EncoderFunc builds an Encoder over w.
type EncoderFunc func(w io.Writer) Encoder

// DecoderFunc builds a Decoder over r.
type DecoderFunc func(r io.Reader) Decoder

// Marshal runs one value through enc and returns the produced bytes.
func Marshal(enc EncoderFunc, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v using dec.
func Unmarshal(dec DecoderFunc, data []byte, v any) error {
	return dec(bytes.NewReader(data)).Decode(v)
}
