package allocator_test

import (
	"path/filepath"
	"testing"

	"github.com/ninnikukawaii/fatimage/allocator"
	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/fattables"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newFixture(t *testing.T, dataClusterCount int64) (*fattables.Tables, *clusterio.Stream, *layout.BootSector) {
	bs := &layout.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           1,
		SectorsPerFAT:     1,
		FirstDataSector:   2,
		BytesPerCluster:   512,
		DataClusterCount:  dataClusterCount,
		Variant:           layout.FAT16,
	}
	buf := make([]byte, 512*int(dataClusterCount+4))
	rw := bytesextra.NewReadWriteSeeker(buf)

	dir := t.TempDir()
	j, _, err := journal.Open("image.vhd", filepath.Join(dir, "j.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return fattables.New(rw, bs, j), clusterio.New(rw, bs, j), bs
}

func TestAllocateChainLinksClusters(t *testing.T) {
	tables, clusters, bs := newFixture(t, 10)
	alloc, err := allocator.Survey(tables, clusters, bs, nil)
	require.NoError(t, err)

	chain, err := alloc.AllocateChain(3)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	v0, err := tables.Read(int64(chain[0]))
	require.NoError(t, err)
	require.Equal(t, uint32(chain[1]), v0)

	v2, err := tables.Read(int64(chain[2]))
	require.NoError(t, err)
	require.Equal(t, bs.Variant.EndOfChainMarker(), v2)
}

func TestAllocateChainFailsWhenFullAndRollsBack(t *testing.T) {
	tables, clusters, bs := newFixture(t, 2)
	alloc, err := allocator.Survey(tables, clusters, bs, nil)
	require.NoError(t, err)

	_, err = alloc.AllocateChain(3)
	require.Error(t, err)

	// Every cluster should have been rolled back to free.
	free, err := alloc.FindFree()
	require.NoError(t, err)
	require.True(t, free == 2 || free == 3)
}

func TestExtendAppendsCluster(t *testing.T) {
	tables, clusters, bs := newFixture(t, 10)
	alloc, err := allocator.Survey(tables, clusters, bs, nil)
	require.NoError(t, err)

	chain, err := alloc.AllocateChain(1)
	require.NoError(t, err)

	next, err := alloc.Extend(chain[0])
	require.NoError(t, err)

	v, err := tables.Read(int64(chain[0]))
	require.NoError(t, err)
	require.Equal(t, uint32(next), v)
}
