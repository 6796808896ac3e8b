package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float64{0.25, -1.5, 3.75, 0}
	got, err := DecodeVector(EncodeVector(vec), len(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestDecodeVectorRejectsWrongLength(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3}, 4)
	assert.Error(t, err)

	_, err = DecodeVector(EncodeVector([]float64{1, 2}), 3)
	assert.Error(t, err)
}

func TestEncodeVectorEmpty(t *testing.T) {
	assert.Empty(t, EncodeVector(nil))
	got, err := DecodeVector(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
