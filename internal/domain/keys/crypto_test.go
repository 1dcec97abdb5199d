package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() derivationParams {
	return derivationParams{
		SessionID:       "s1",
		PhotoID:         "p1",
		ProfessionalID:  "doc",
		IssuedAt:        1_700_000_000,
		ValidityMinutes: 5,
	}
}

func TestWrapperSealOpen(t *testing.T) {
	w, err := NewWrapper("wrap-secret")
	require.NoError(t, err)

	enc, params, err := w.Seal(testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, enc)
	assert.NotEmpty(t, params)

	material, p, err := w.Open(enc, params)
	require.NoError(t, err)
	assert.Len(t, material, KeySize)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, "p1", p.PhotoID)
	assert.Equal(t, "doc", p.ProfessionalID)
	assert.Len(t, p.Salt, saltSize)
}

func TestWrapperSealProducesDistinctMaterial(t *testing.T) {
	w, err := NewWrapper("wrap-secret")
	require.NoError(t, err)

	encA, paramsA, err := w.Seal(testParams())
	require.NoError(t, err)
	encB, paramsB, err := w.Seal(testParams())
	require.NoError(t, err)

	assert.NotEqual(t, encA, encB)
	assert.NotEqual(t, paramsA, paramsB, "salt must differ per key")

	a, _, err := w.Open(encA, paramsA)
	require.NoError(t, err)
	b, _, err := w.Open(encB, paramsB)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestWrapperRejectsSwappedParams(t *testing.T) {
	w, err := NewWrapper("wrap-secret")
	require.NoError(t, err)

	encA, _, err := w.Seal(testParams())
	require.NoError(t, err)

	other := testParams()
	other.PhotoID = "p2"
	_, paramsB, err := w.Seal(other)
	require.NoError(t, err)

	_, _, err = w.Open(encA, paramsB)
	assert.Error(t, err)
}

func TestWrapperRejectsOtherSecret(t *testing.T) {
	w1, err := NewWrapper("secret-one")
	require.NoError(t, err)
	w2, err := NewWrapper("secret-two")
	require.NoError(t, err)

	enc, params, err := w1.Seal(testParams())
	require.NoError(t, err)

	_, _, err = w2.Open(enc, params)
	assert.Error(t, err)
}

func TestWrapperRejectsGarbage(t *testing.T) {
	w, err := NewWrapper("wrap-secret")
	require.NoError(t, err)

	_, params, err := w.Seal(testParams())
	require.NoError(t, err)

	_, _, err = w.Open("not-base64!!", params)
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = w.Open("AAAA", params)
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, err = NewWrapper("  ")
	assert.Error(t, err)
}
