// Package dirwriter appends and removes 32-byte directory records, extending
// a directory's cluster chain by one when it runs out of room, per spec.md
// §4.8. It never decides allocation policy itself; Extend is supplied by the
// caller (the allocator package in practice) so this package stays ignorant
// of how a new cluster gets found.
package dirwriter

import (
	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
)

// Extend allocates and links one new cluster onto the chain currently ending
// at last, returning the new cluster's number.
type Extend func(last layout.ClusterID) (layout.ClusterID, error)

// AppendEntry writes record into the first free or tombstoned slot in dir's
// existing clusters, scanning in cluster order. If none has room, dir is
// extended by one cluster first and the record lands at its first slot.
// Returns the cluster and byte offset the record was written at.
func AppendEntry(clusters *clusterio.Stream, bs *layout.BootSector, extend Extend, dir *tree.Node, record []byte) (layout.ClusterID, int, error) {
	for _, c := range dir.Clusters {
		data, err := clusters.Read(c)
		if err != nil {
			return 0, 0, err
		}
		for offset := 0; offset+dirent.Size <= len(data); offset += dirent.Size {
			if data[offset] == dirent.EntryFree || data[offset] == dirent.EntryEndOfDirectory {
				if err := clusters.WriteAt(c, offset, record); err != nil {
					return 0, 0, err
				}
				return c, offset, nil
			}
		}
	}

	last := dir.Clusters[len(dir.Clusters)-1]
	newCluster, err := extend(last)
	if err != nil {
		return 0, 0, err
	}
	dir.Clusters = append(dir.Clusters, newCluster)

	if err := clusters.WriteAt(newCluster, 0, record); err != nil {
		return 0, 0, err
	}
	return newCluster, 0, nil
}

// RemoveEntry tombstones node's short entry and the longNameFragments
// records immediately preceding it in the same cluster (invariant §3.5:
// long-name continuations sit contiguously before the short entry they
// belong to). Each erased 32-byte slot gets a 0xE5 first byte and the rest
// zeroed, matching §4.8's span-erase exactly.
func RemoveEntry(clusters *clusterio.Stream, node *tree.Node, longNameFragments int) error {
	start := node.EntryOffset - longNameFragments*dirent.Size
	if start < 0 {
		start = 0
	}
	span := node.EntryOffset + dirent.Size - start

	tomb := make([]byte, span)
	for i := 0; i < span; i += dirent.Size {
		tomb[i] = dirent.EntryFree
	}
	return clusters.WriteAt(node.ParentCluster, start, tomb)
}
