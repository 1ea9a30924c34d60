// Package allocator finds free clusters and links them into chains,
// backing a free-space bitmap survey the way the teacher's bitmap
// allocator does for block devices, and committing every FAT update through
// fattables.Tables so a crash mid-allocation is journaled like any other
// write (spec.md §5, §7).
package allocator

import (
	"github.com/boljen/go-bitmap"

	"github.com/ninnikukawaii/fatimage/clusterio"
	ferrors "github.com/ninnikukawaii/fatimage/errors"
	"github.com/ninnikukawaii/fatimage/fattables"
	"github.com/ninnikukawaii/fatimage/layout"
)

// Allocator tracks which data clusters are free and hands out new chains.
type Allocator struct {
	tables   *fattables.Tables
	clusters *clusterio.Stream
	bs       *layout.BootSector
	free     bitmap.Bitmap
}

// Survey builds an Allocator by reading every FAT entry once to seed its
// free-space bitmap; occupied additionally marks clusters already claimed
// by the materialized tree (directories whose chain a defect truncated
// still own clusters the FAT survey alone wouldn't flag as used until the
// repair pass runs).
func Survey(tables *fattables.Tables, clusters *clusterio.Stream, bs *layout.BootSector, occupied map[layout.ClusterID]bool) (*Allocator, error) {
	a := &Allocator{
		tables:   tables,
		clusters: clusters,
		bs:       bs,
		free:     bitmap.New(int(bs.DataClusterCount) + 2),
	}

	for n := int64(2); n < bs.DataClusterCount+2; n++ {
		entry, err := tables.Read(n)
		if err != nil {
			return nil, err
		}
		inUse := entry != 0 || occupied[layout.ClusterID(n)]
		a.free.Set(int(n), inUse)
	}
	return a, nil
}

// FindFree returns the lowest-numbered free cluster without allocating it.
func (a *Allocator) FindFree() (layout.ClusterID, error) {
	for n := 2; n < int(a.bs.DataClusterCount)+2; n++ {
		if !a.free.Get(n) {
			return layout.ClusterID(n), nil
		}
	}
	return 0, ferrors.ErrOutOfSpace
}

// AllocateChain allocates count clusters (not necessarily contiguous),
// links them into a chain terminated with the variant's end-of-chain
// marker, and zeroes their contents. On failure partway through, every
// cluster already claimed in this call is freed again before returning.
func (a *Allocator) AllocateChain(count int) ([]layout.ClusterID, error) {
	if count <= 0 {
		return nil, ferrors.ErrInvalidArgument.WithMessage("cluster count must be positive")
	}

	var claimed []layout.ClusterID
	rollback := func() {
		for _, c := range claimed {
			a.free.Set(int(c), false)
			_ = a.tables.Write(int64(c), 0)
		}
	}

	zero := make([]byte, a.bs.BytesPerCluster)
	eoc := a.bs.Variant.EndOfChainMarker()

	for i := 0; i < count; i++ {
		c, err := a.FindFree()
		if err != nil {
			rollback()
			return nil, err
		}
		a.free.Set(int(c), true)
		claimed = append(claimed, c)

		if err := a.tables.Write(int64(c), eoc); err != nil {
			rollback()
			return nil, err
		}
		if err := a.clusters.Write(c, zero); err != nil {
			rollback()
			return nil, err
		}
		if i > 0 {
			if err := a.tables.Write(int64(claimed[i-1]), uint32(c)); err != nil {
				rollback()
				return nil, err
			}
		}
	}

	return claimed, nil
}

// Extend appends one cluster to the chain currently ending at last,
// returning the new cluster.
func (a *Allocator) Extend(last layout.ClusterID) (layout.ClusterID, error) {
	added, err := a.AllocateChain(1)
	if err != nil {
		return 0, err
	}
	newCluster := added[0]
	if err := a.tables.Write(int64(last), uint32(newCluster)); err != nil {
		a.free.Set(int(newCluster), false)
		_ = a.tables.Write(int64(newCluster), 0)
		return 0, err
	}
	return newCluster, nil
}

// Free releases every cluster in chain back to the free-space survey.
func (a *Allocator) Free(chain []layout.ClusterID) error {
	for _, c := range chain {
		if err := a.tables.Write(int64(c), 0); err != nil {
			return err
		}
		a.free.Set(int(c), false)
	}
	return nil
}

// FreeClusterCount returns how many clusters the survey currently considers
// free, for FSInfo-style reporting.
func (a *Allocator) FreeClusterCount() int64 {
	var n int64
	for i := 2; i < int(a.bs.DataClusterCount)+2; i++ {
		if !a.free.Get(i) {
			n++
		}
	}
	return n
}
