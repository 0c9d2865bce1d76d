package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("orderbook snapshot ", 200))

	compressed := Compress(original)
	assert.Less(t, len(compressed), len(original))

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(original, restored))
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not s2 data"))
	assert.Error(t, err)
}

func TestChecksumDistinguishesInputs(t *testing.T) {
	a := Checksum([]byte("state-v1"))
	b := Checksum([]byte("state-v2"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Checksum([]byte("state-v1")))
}

func TestGetExpirationTime(t *testing.T) {
	assert.Equal(t, time.Minute, GetExpirationTime(time.Minute))
	assert.Equal(t, time.Second, GetExpirationTime(time.Minute, time.Second))
}
