// Package fragmentation measures and reduces cluster fragmentation across
// an image's files, per spec.md §5: the fraction of clusters that don't
// immediately follow their predecessor in cluster-number order, and a
// swap-based pass that nudges every file's clusters toward a contiguous
// run without ever moving more than one cluster at a time.
package fragmentation

import (
	"github.com/ninnikukawaii/fatimage/chainwalker"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/swap"
	"github.com/ninnikukawaii/fatimage/tree"
)

// attemptsPerCluster bounds how many candidate positions Defragment tries
// before giving up on relocating one cluster, so a pathologically bad-
// cluster-studded volume can't turn defragmentation into an infinite loop.
const attemptsPerCluster = 5

// Ratio returns the percentage of occupied clusters that are not
// immediately preceded by (previous cluster number + 1), i.e. the fraction
// of links that are "out of order". A freshly defragmented volume scores 0;
// an empty volume scores 0 by convention rather than dividing by zero.
func Ratio(occupied map[layout.ClusterID]*tree.OccupiedClusterInfo) float64 {
	if len(occupied) == 0 {
		return 0
	}

	var misplaced int
	for cluster, info := range occupied {
		if info.Previous == nil {
			continue
		}
		if cluster != *info.Previous+1 {
			misplaced++
		}
	}

	return float64(misplaced) * 100 / float64(len(occupied))
}

// Defragmenter reorders every file's clusters toward contiguity using
// single-cluster swaps, so a crash mid-pass leaves the volume in a
// perfectly valid, merely partially-defragmented state.
type Defragmenter struct {
	swapper   *swap.Swapper
	bs        *layout.BootSector
	occupied  map[layout.ClusterID]*tree.OccupiedClusterInfo
	readEntry chainwalker.ReadEntry
	isBad     func(layout.ClusterID) (bool, error)
}

// New builds a Defragmenter. readEntry re-derives a file's current cluster
// chain after each swap, since a swap changes which cluster number holds
// which link. isBad reports whether a candidate cluster is marked bad or
// reserved in the FAT and so must be skipped as a relocation target.
func New(swapper *swap.Swapper, bs *layout.BootSector, occupied map[layout.ClusterID]*tree.OccupiedClusterInfo, readEntry chainwalker.ReadEntry, isBad func(layout.ClusterID) (bool, error)) *Defragmenter {
	return &Defragmenter{swapper: swapper, bs: bs, occupied: occupied, readEntry: readEntry, isBad: isBad}
}

// Defragment walks every file in root (ordered by first cluster, like the
// original implementation, so earlier files don't get bumped out of the
// slots later files are trying to claim) and nudges each cluster after the
// first toward directly following its predecessor.
func (d *Defragmenter) Defragment(files []*tree.Node) error {
	for _, file := range files {
		if err := d.orderFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (d *Defragmenter) orderFile(file *tree.Node) error {
	chain, _ := chainwalker.Walk(d.readEntry, d.bs, file.FirstCluster, nil)

	for _, cluster := range chain {
		info := d.occupied[cluster]
		if info == nil || info.Previous == nil {
			continue
		}

		target := *info.Previous + 1
		attempts := attemptsPerCluster

		for cluster != target && attempts > 0 {
			if int64(target) > d.bs.DataClusterCount+1 {
				return nil
			}

			bad, err := d.isBad(target)
			if err != nil {
				return err
			}
			if bad {
				target++
				attempts--
				continue
			}

			if err := d.swapper.Swap(cluster, target); err != nil {
				break
			}
			break
		}
	}
	return nil
}
