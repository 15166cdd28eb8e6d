package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	in := map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}}

	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":{"y":false,"z":true}}`, string(out))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]string{"note": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"note":"a<b>&c"}`, string(out))
}

func TestHash_Deterministic(t *testing.T) {
	a := map[string]any{"actor": "usr-1", "action": "ISSUED"}
	b := map[string]any{"action": "ISSUED", "actor": "usr-1"}

	h1, err := Hash(a)
	require.NoError(t, err)
	h2, err := Hash(b)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "hash must not depend on map insertion order")
	assert.Len(t, h1, 64)
}

func TestHashBytes(t *testing.T) {
	// sha256("") is a well-known constant.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))

	assert.NotEqual(t, HashBytes([]byte("a")), HashBytes([]byte("b")))
}
