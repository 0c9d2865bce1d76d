package utils

import (
	"github.com/klauspost/compress/s2"
)

// Compress returns the s2-compressed form of data.
func Compress(data []byte) []byte {
	return s2.Encode(nil, data)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}
