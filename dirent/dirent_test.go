package dirent_test

import (
	"testing"
	"time"
	"unicode/utf16"

	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateShortAndDecodeRoundTrip(t *testing.T) {
	name, err := dirent.Pack83Name("readme", "txt")
	require.NoError(t, err)

	now := time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
	raw, err := dirent.CreateShort(name, layout.ClusterID(12), false, 4096, now)
	require.NoError(t, err)
	require.Len(t, raw, dirent.Size)

	decoded, err := dirent.DecodeRaw(raw)
	require.NoError(t, err)

	entry := dirent.NewEntry(decoded, "")
	assert.Equal(t, layout.ClusterID(12), entry.FirstCluster)
	assert.False(t, entry.IsDirectory)
	assert.Equal(t, uint32(4096), entry.FileSize)

	shortName, err := dirent.ShortName(decoded)
	require.NoError(t, err)
	assert.Equal(t, "README.TXT", shortName)

	assert.Equal(t, now, dirent.TimeFromParts(decoded.CreatedDate, decoded.CreatedTime))
}

func TestAssembleLongName(t *testing.T) {
	units := utf16.Encode([]rune("longfilename.txt"))
	units = append(units, 0x0000)
	for len(units)%13 != 0 {
		units = append(units, 0xFFFF)
	}

	var fragments []dirent.LongNameFragment
	for start := len(units) - 13; start >= 0; start -= 13 {
		chunk := units[start : start+13]
		order := uint8(start/13 + 1)
		if start+13 == len(units) {
			order |= 0x40
		}
		f := dirent.LongNameFragment{Order: order}
		copy(f.NamePart1[:], chunk[0:5])
		copy(f.NamePart2[:], chunk[5:11])
		copy(f.NamePart3[:], chunk[11:13])
		fragments = append(fragments, f)
	}

	assert.Equal(t, "longfilename.txt", dirent.AssembleLongName(fragments))
}

func TestShortNameChecksumStable(t *testing.T) {
	name, err := dirent.Pack83Name("readme", "txt")
	require.NoError(t, err)
	a := dirent.ShortNameChecksum(name)
	b := dirent.ShortNameChecksum(name)
	assert.Equal(t, a, b)
}

func TestIsLongNameFragment(t *testing.T) {
	raw := make([]byte, dirent.Size)
	raw[11] = dirent.AttrLongName
	assert.True(t, dirent.IsLongNameFragment(raw))

	raw[11] = dirent.AttrDirectory
	assert.False(t, dirent.IsLongNameFragment(raw))
}
