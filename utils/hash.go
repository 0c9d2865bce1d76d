package utils

import (
	"github.com/cespare/xxhash/v2"
)

// Checksum returns a fast non-cryptographic digest of data. Suitable for
// diagnostic comparison only.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}
