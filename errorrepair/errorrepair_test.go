package errorrepair_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ninnikukawaii/fatimage/chainwalker"
	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/errorrepair"
	"github.com/ninnikukawaii/fatimage/fattables"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func setup(t *testing.T) (*fattables.Tables, *clusterio.Stream, *layout.BootSector) {
	bs := &layout.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           1,
		SectorsPerFAT:     1,
		FirstDataSector:   2,
		BytesPerCluster:   512,
		DataClusterCount:  10,
		Variant:           layout.FAT16,
	}
	buf := make([]byte, 512*12)
	rw := bytesextra.NewReadWriteSeeker(buf)

	dir := t.TempDir()
	j, _, err := journal.Open("image.vhd", filepath.Join(dir, "j.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return fattables.New(rw, bs, j), clusterio.New(rw, bs, j), bs
}

func TestRemoveFreesClustersAndErasesEntry(t *testing.T) {
	tables, clusters, bs := setup(t)

	name, err := dirent.Pack83Name("broken", "bin")
	require.NoError(t, err)
	entry, err := dirent.CreateShort(name, layout.ClusterID(5), false, 0, fixedTime())
	require.NoError(t, err)

	parentData := make([]byte, bs.BytesPerCluster)
	copy(parentData, entry)
	require.NoError(t, clusters.Write(2, parentData))

	require.NoError(t, tables.Write(5, 6))
	require.NoError(t, tables.Write(6, 6)) // self-loop

	node := &tree.Node{
		FirstCluster:  5,
		Clusters:      []layout.ClusterID{5, 6},
		Parent:        &tree.Node{},
		ParentCluster: 2,
		EntryOffset:   0,
	}

	r := errorrepair.New(tables, clusters, bs, nil, nil)
	require.NoError(t, r.Repair([]tree.Defect{{
		Node:  node,
		Error: chainwalker.ChainError{Kind: chainwalker.SelfLoop, Cluster: 6, Next: 6},
	}}, errorrepair.Remove))

	v5, err := tables.Read(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0), v5)

	got, err := clusters.Read(2)
	require.NoError(t, err)
	require.Equal(t, byte(dirent.EntryFree), got[0])
}

func TestQuarantineTruncatesChain(t *testing.T) {
	tables, clusters, bs := setup(t)

	require.NoError(t, tables.Write(5, 6))
	require.NoError(t, tables.Write(6, 6))

	node := &tree.Node{
		FirstCluster:  5,
		Clusters:      []layout.ClusterID{5, 6},
		Parent:        &tree.Node{},
		ParentCluster: 2,
		EntryOffset:   0,
	}

	r := errorrepair.New(tables, clusters, bs, nil, nil)
	require.NoError(t, r.Repair([]tree.Defect{{
		Node:  node,
		Error: chainwalker.ChainError{Kind: chainwalker.SelfLoop, Cluster: 6, Next: 6},
	}}, errorrepair.Quarantine))

	v6, err := tables.Read(6)
	require.NoError(t, err)
	require.Equal(t, bs.Variant.EndOfChainMarker(), v6)
}

func fixedTime() time.Time {
	return time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
}
