package codepage_test

import (
	"testing"

	"github.com/ninnikukawaii/fatimage/codepage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	encoded, err := codepage.Encode("README")
	require.NoError(t, err)

	decoded, err := codepage.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "README", decoded)
}
