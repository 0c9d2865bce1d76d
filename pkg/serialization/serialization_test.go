package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	Symbol string
	Qty    int
	Limit  float64
}

func TestJSONRoundTrip(t *testing.T) {
	in := order{Symbol: "AAPL", Qty: 100, Limit: 187.5}

	data, err := Marshal(JSONEncoder, in)
	require.NoError(t, err)

	var out order
	require.NoError(t, Unmarshal(JSONDecoder, data, &out))
	assert.Equal(t, in, out)
}

func TestGobRoundTrip(t *testing.T) {
	in := order{Symbol: "MSFT", Qty: 50, Limit: 410.0}

	data, err := Marshal(GobEncoder, in)
	require.NoError(t, err)

	var out order
	require.NoError(t, Unmarshal(GobDecoder, data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	var out order
	assert.Error(t, Unmarshal(JSONDecoder, []byte("{truncated"), &out))
	assert.Error(t, Unmarshal(GobDecoder, []byte{0xff, 0x00}, &out))
}
