package canon

import (
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)

	a := HashWithDomain(DomainMintRequest, data)
	b := HashWithDomain(DomainTransaction, data)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b, "different domains must not collide")
	assert.Equal(t, a, HashWithDomain(DomainMintRequest, data))
}

func TestIDIgnoresKeyOrder(t *testing.T) {
	a, err := ID(DomainMintRequest, map[string]any{"x": 1, "y": "2"})
	require.NoError(t, err)
	b, err := ID(DomainMintRequest, map[string]any{"y": "2", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBase58Hash(t *testing.T) {
	h, err := Base58Hash(map[string]any{"credentialSubject": []any{map[string]any{"field0": 1}}})
	require.NoError(t, err)

	decoded := base58.Decode(h)
	assert.Len(t, decoded, 32, "sha256 digest")
	assert.Equal(t, h, MustBase58Hash(map[string]any{"credentialSubject": []any{map[string]any{"field0": 1}}}))

	other := MustBase58Hash(map[string]any{"credentialSubject": []any{map[string]any{"field0": 2}}})
	assert.NotEqual(t, h, other)
}

func TestMustBase58HashPanicsOnUnsupported(t *testing.T) {
	assert.Panics(t, func() {
		MustBase58Hash(map[string]any{"v": func() {}})
	})
}
