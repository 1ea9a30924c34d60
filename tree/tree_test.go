package tree_test

import (
	"testing"
	"time"

	"github.com/ninnikukawaii/fatimage/chainwalker"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDirCluster lays out a handful of 32-byte directory records in a
// single fake cluster's worth of bytes.
func buildDirCluster(t *testing.T, bytesPerCluster int, entries ...[]byte) []byte {
	buf := make([]byte, bytesPerCluster)
	offset := 0
	for _, e := range entries {
		require.Equal(t, dirent.Size, len(e))
		copy(buf[offset:], e)
		offset += dirent.Size
	}
	return buf
}

func TestBuildMaterializesFilesAndDirectories(t *testing.T) {
	bs := &layout.BootSector{
		Variant:          layout.FAT16,
		DataClusterCount: 10,
		BytesPerCluster:  dirent.Size * 4,
		RootCluster:      2,
	}

	name, err := dirent.Pack83Name("readme", "txt")
	require.NoError(t, err)
	fileEntry, err := dirent.CreateShort(name, layout.ClusterID(5), false, 10, fixedTime())
	require.NoError(t, err)

	subdirName, err := dirent.Pack83Name("subdir", "")
	require.NoError(t, err)
	dirEntry, err := dirent.CreateShort(subdirName, layout.ClusterID(6), true, 0, fixedTime())
	require.NoError(t, err)

	rootData := buildDirCluster(t, int(bs.BytesPerCluster), fileEntry, dirEntry)
	subData := buildDirCluster(t, int(bs.BytesPerCluster))

	clusters := map[layout.ClusterID][]byte{
		2: rootData,
		6: subData,
	}
	entries := map[layout.ClusterID]uint32{
		2: bs.Variant.EndOfChainMarker(),
		5: bs.Variant.EndOfChainMarker(),
		6: bs.Variant.EndOfChainMarker(),
	}

	readEntry := chainwalker.ReadEntry(func(c layout.ClusterID) (uint32, error) { return entries[c], nil })
	readData := tree.ReadCluster(func(c layout.ClusterID) ([]byte, error) { return clusters[c], nil })

	w := tree.NewWalker(readEntry, readData, bs)
	root, err := w.Build()
	require.NoError(t, err)

	require.Len(t, root.Children, 2)
	names := []string{root.Children[0].Name, root.Children[1].Name}
	assert.Contains(t, names, "README.TXT")
	assert.Contains(t, names, "SUBDIR")

	assert.Contains(t, w.Occupied, layout.ClusterID(5))
	assert.Contains(t, w.Occupied, layout.ClusterID(6))
}

func fixedTime() time.Time {
	return time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
}
