package dirwriter_test

import (
	"testing"
	"time"

	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/dirwriter"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newFixture(t *testing.T) (*clusterio.Stream, *layout.BootSector) {
	bs := &layout.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           1,
		SectorsPerFAT:     1,
		FirstDataSector:   2,
		BytesPerCluster:   512,
		DataClusterCount:  10,
		DirentsPerCluster: 16,
		Variant:           layout.FAT16,
	}
	buf := make([]byte, 512*14)
	rw := bytesextra.NewReadWriteSeeker(buf)

	dir := t.TempDir()
	j, _, err := journal.Open("image.vhd", dir+"/j.log")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return clusterio.New(rw, bs, j), bs
}

func sampleRecord(t *testing.T) []byte {
	name, err := dirent.Pack83Name("FILE", "TXT")
	require.NoError(t, err)
	record, err := dirent.CreateShort(name, 5, false, 0, time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	return record
}

func TestAppendEntryFindsFirstFreeSlot(t *testing.T) {
	clusters, bs := newFixture(t)
	require.NoError(t, clusters.Write(2, make([]byte, bs.BytesPerCluster)))

	dir := &tree.Node{Clusters: []layout.ClusterID{2}}
	record := sampleRecord(t)

	c, offset, err := dirwriter.AppendEntry(clusters, bs, nil, dir, record)
	require.NoError(t, err)
	require.Equal(t, layout.ClusterID(2), c)
	require.Equal(t, 0, offset)

	data, err := clusters.Read(2)
	require.NoError(t, err)
	require.Equal(t, record, data[:dirent.Size])
}

func TestAppendEntryExtendsWhenClusterFull(t *testing.T) {
	clusters, bs := newFixture(t)
	full := make([]byte, bs.BytesPerCluster)
	for i := 0; i < len(full); i += dirent.Size {
		full[i] = 'X'
	}
	require.NoError(t, clusters.Write(2, full))
	require.NoError(t, clusters.Write(3, make([]byte, bs.BytesPerCluster)))

	dir := &tree.Node{Clusters: []layout.ClusterID{2}}
	extendCalled := false
	extend := func(last layout.ClusterID) (layout.ClusterID, error) {
		extendCalled = true
		require.Equal(t, layout.ClusterID(2), last)
		return 3, nil
	}

	c, offset, err := dirwriter.AppendEntry(clusters, bs, extend, dir, sampleRecord(t))
	require.NoError(t, err)
	require.True(t, extendCalled)
	require.Equal(t, layout.ClusterID(3), c)
	require.Equal(t, 0, offset)
	require.Equal(t, []layout.ClusterID{2, 3}, dir.Clusters)
}

func TestRemoveEntryTombstonesShortEntryAndFragments(t *testing.T) {
	clusters, bs := newFixture(t)
	data := make([]byte, bs.BytesPerCluster)
	// Two LFN fragment slots followed by the short entry at offset 64.
	data[0] = 0x42
	data[32] = 0x41
	copy(data[64:96], sampleRecord(t))
	require.NoError(t, clusters.Write(2, data))

	node := &tree.Node{ParentCluster: 2, EntryOffset: 64}
	require.NoError(t, dirwriter.RemoveEntry(clusters, node, 2))

	got, err := clusters.Read(2)
	require.NoError(t, err)
	for offset := 0; offset <= 64; offset += 32 {
		require.Equal(t, byte(dirent.EntryFree), got[offset])
		for _, b := range got[offset+1 : offset+32] {
			require.Zero(t, b)
		}
	}
}
