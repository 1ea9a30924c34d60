// Package chainwalker follows a FAT cluster chain from its first cluster to
// its end, classifying the three structural defects spec.md §7 requires be
// detected and silently repaired rather than surfaced as a Go error:
// self-referencing loops, intersections with another file's chain, and
// entries pointing at a bad or reserved cluster.
package chainwalker

import (
	"github.com/ninnikukawaii/fatimage/layout"
)

// ErrorKind classifies a structural defect found while walking a chain.
type ErrorKind int

const (
	SelfLoop ErrorKind = iota
	ClusterIntersection
	BadCluster
	UnclosedTransaction
)

func (k ErrorKind) String() string {
	switch k {
	case SelfLoop:
		return "self loop"
	case ClusterIntersection:
		return "cluster intersection"
	case BadCluster:
		return "bad cluster"
	case UnclosedTransaction:
		return "unclosed transaction"
	default:
		return "unknown"
	}
}

// ChainError describes the defect found at the end of an otherwise-valid
// prefix of a chain: Cluster is the last good link, Next is the entry value
// that broke the chain.
type ChainError struct {
	Kind ErrorKind
	Cluster layout.ClusterID
	Next    layout.ClusterID
}

// ReadEntry returns the raw FAT entry recorded for cluster c in the
// authoritative (copy 0) table.
type ReadEntry func(c layout.ClusterID) (uint32, error)

// Occupied reports whether cluster c has already been claimed by a chain
// walked earlier in this pass, which is how a cross-file intersection (as
// opposed to a chain looping back on itself) is detected.
type Occupied func(c layout.ClusterID) bool

// Walk follows the chain starting at first until it reaches end-of-chain or
// a structural defect. The returned slice always contains at least first
// (or, for FAT12/16's pseudo-chain root, every fixed root cluster) even when
// a ChainError is also returned: the defect is detected on the link leaving
// the last element of the slice, not before it.
func Walk(read ReadEntry, bs *layout.BootSector, first layout.ClusterID, occupied Occupied) ([]layout.ClusterID, *ChainError) {
	if first < 2 {
		return rootPseudoChain(bs, first), nil
	}

	chain := []layout.ClusterID{first}
	cluster := first

	for {
		entry, err := read(cluster)
		if err != nil {
			// A read failure this deep means the image itself is unreadable;
			// treat the chain as ending here rather than panicking the walk.
			return chain, nil
		}
		next := layout.ClusterID(entry)

		if entry >= bs.Variant.EndOfChainMarker() {
			return chain, nil
		}
		if next == cluster {
			return chain, &ChainError{Kind: SelfLoop, Cluster: cluster, Next: next}
		}
		if occupied != nil && occupied(next) {
			return chain, &ChainError{Kind: ClusterIntersection, Cluster: cluster, Next: next}
		}
		if entry == bs.Variant.BadClusterMarker() || IsReserved(bs, entry) {
			return chain, &ChainError{Kind: BadCluster, Cluster: cluster, Next: next}
		}

		cluster = next
		chain = append(chain, cluster)
	}
}

// rootPseudoChain returns the fixed sequence of virtual cluster numbers that
// make up a FAT12/FAT16 root directory, which occupies a fixed run of
// sectors rather than a real chain.
func rootPseudoChain(bs *layout.BootSector, first layout.ClusterID) []layout.ClusterID {
	length := bs.RootChainLength()
	chain := make([]layout.ClusterID, 0, length)
	for i := uint(0); i < length; i++ {
		chain = append(chain, first+layout.ClusterID(i))
	}
	return chain
}

// IsReserved reports whether entry is one of the variant's reserved values
// that no valid chain link should ever point to. The threshold is taken
// verbatim from the source this format was distilled from (entry >
// data_clusters_count - 1), not approximated, so it flags the same
// boundary values the original does even though that means DCC and DCC+1
// are caught here rather than one cluster later.
func IsReserved(bs *layout.BootSector, entry uint32) bool {
	return entry > uint32(bs.DataClusterCount-1) && entry < bs.Variant.BadClusterMarker()
}
