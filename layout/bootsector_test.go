package layout_test

import (
	"testing"

	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/stretchr/testify/assert"
)

func TestDetermineVariant(t *testing.T) {
	assert.Equal(t, layout.FAT12, layout.DetermineVariant(4084))
	assert.Equal(t, layout.FAT16, layout.DetermineVariant(4085))
	assert.Equal(t, layout.FAT16, layout.DetermineVariant(65524))
	assert.Equal(t, layout.FAT32, layout.DetermineVariant(65525))
}

func TestVariantMarkers(t *testing.T) {
	assert.Equal(t, 12, layout.FAT12.EntryBits())
	assert.Equal(t, 16, layout.FAT16.EntryBits())
	assert.Equal(t, 28, layout.FAT32.EntryBits())

	assert.Equal(t, uint32(0x0FF8), layout.FAT12.EndOfChainMarker())
	assert.Equal(t, uint32(0xFFF8), layout.FAT16.EndOfChainMarker())
	assert.Equal(t, uint32(0x0FFFFFF8), layout.FAT32.EndOfChainMarker())

	assert.Equal(t, uint32(0x0FF7), layout.FAT12.BadClusterMarker())
	assert.Equal(t, uint32(0xFFF7), layout.FAT16.BadClusterMarker())
	assert.Equal(t, uint32(0x0FFFFFF7), layout.FAT32.BadClusterMarker())
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "FAT12", layout.FAT12.String())
	assert.Equal(t, "FAT16", layout.FAT16.String())
	assert.Equal(t, "FAT32", layout.FAT32.String())
}
