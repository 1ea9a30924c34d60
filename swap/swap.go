// Package swap exchanges the contents of two clusters in place, relinking
// whichever chains own them so every file that was reachable before the
// swap stays reachable afterward (spec.md §5's defragmentation primitive).
// The exchange — both FAT entries and both data clusters — happens inside a
// single WriteBoth journal transaction so a crash mid-swap is detected as
// one unit, never a half-moved cluster.
package swap

import (
	"github.com/ninnikukawaii/fatimage/clusterio"
	ferrors "github.com/ninnikukawaii/fatimage/errors"
	"github.com/ninnikukawaii/fatimage/fattables"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
)

// UpdateFirstCluster rewrites node's directory entry so its first-cluster
// field points at newFirst, used when a swap moves the head of a chain.
type UpdateFirstCluster func(node *tree.Node, newFirst layout.ClusterID) error

// Swapper exchanges two clusters at a time, keeping a tree.Walker's
// occupied-cluster bookkeeping consistent as it does.
type Swapper struct {
	tables   *fattables.Tables
	clusters *clusterio.Stream
	bs       *layout.BootSector
	occupied map[layout.ClusterID]*tree.OccupiedClusterInfo
	update   UpdateFirstCluster
}

// New builds a Swapper over occupied, the live occupied-cluster map a
// tree.Walker produced; Swap mutates it in place as chains are relinked.
func New(tables *fattables.Tables, clusters *clusterio.Stream, bs *layout.BootSector, occupied map[layout.ClusterID]*tree.OccupiedClusterInfo, update UpdateFirstCluster) *Swapper {
	return &Swapper{tables: tables, clusters: clusters, bs: bs, occupied: occupied, update: update}
}

// Swap exchanges the data and FAT linkage of first and second.
func (s *Swapper) Swap(first, second layout.ClusterID) error {
	if first == second {
		return ferrors.ErrInvalidSwap
	}

	firstEntry, err := s.tables.Read(int64(first))
	if err != nil {
		return err
	}
	secondEntry, err := s.tables.Read(int64(second))
	if err != nil {
		return err
	}
	if firstEntry == s.bs.Variant.BadClusterMarker() || secondEntry == s.bs.Variant.BadClusterMarker() {
		return ferrors.ErrInvalidSwap
	}

	firstInfo := s.occupied[first]
	secondInfo := s.occupied[second]

	newFirstValue := secondEntry
	newSecondValue := firstEntry

	// Adjacent clusters (one is the other's direct successor) need special
	// handling: the continuation value each position ends up holding must
	// describe the post-swap layout, not the pre-swap FAT contents.
	if firstInfo != nil && firstInfo.Next != nil && *firstInfo.Next == second {
		newSecondValue = uint32(first)
	}
	if secondInfo != nil && secondInfo.Next != nil && *secondInfo.Next == first {
		newFirstValue = uint32(second)
	}

	if err := s.relinkPredecessor(firstInfo, first, second); err != nil {
		return err
	}
	if err := s.relinkPredecessor(secondInfo, second, first); err != nil {
		return err
	}
	s.relinkSuccessor(firstInfo, first, second)
	s.relinkSuccessor(secondInfo, second, first)

	// In an adjacent pair the successor trades places with its predecessor,
	// so the predecessor's Next must name the successor's new position.
	if firstInfo != nil && firstInfo.Next != nil && *firstInfo.Next == second {
		next := first
		firstInfo.Next = &next
	}
	if secondInfo != nil && secondInfo.Next != nil && *secondInfo.Next == first {
		next := second
		secondInfo.Next = &next
	}

	if firstInfo != nil && firstInfo.Previous == nil && s.update != nil {
		if err := s.update(firstInfo.Owner, second); err != nil {
			return err
		}
	}
	if secondInfo != nil && secondInfo.Previous == nil && s.update != nil {
		if err := s.update(secondInfo.Owner, first); err != nil {
			return err
		}
	}

	delete(s.occupied, first)
	delete(s.occupied, second)
	if firstInfo != nil {
		firstInfo.Cluster = second
		s.occupied[second] = firstInfo
	}
	if secondInfo != nil {
		secondInfo.Cluster = first
		s.occupied[first] = secondInfo
	}

	firstData, err := s.clusters.Read(first)
	if err != nil {
		return err
	}
	secondData, err := s.clusters.Read(second)
	if err != nil {
		return err
	}

	return s.writeBoth(first, newFirstValue, secondData, second, newSecondValue, firstData)
}

// relinkPredecessor points info's predecessor's FAT entry at to instead of
// from, since the cluster it used to point to has moved.
func (s *Swapper) relinkPredecessor(info *tree.OccupiedClusterInfo, from, to layout.ClusterID) error {
	if info == nil || info.Previous == nil {
		return nil
	}
	if *info.Previous == to {
		// The predecessor is the other side of this swap: Swap sets both FAT
		// values and the predecessor's Next itself.
		return nil
	}
	if err := s.tables.Write(int64(*info.Previous), uint32(to)); err != nil {
		return err
	}
	if prevInfo := s.occupied[*info.Previous]; prevInfo != nil {
		next := to
		prevInfo.Next = &next
	}
	return nil
}

// relinkSuccessor updates info's successor's back-pointer bookkeeping to
// reflect that its predecessor now lives at "to" instead of "from".
func (s *Swapper) relinkSuccessor(info *tree.OccupiedClusterInfo, from, to layout.ClusterID) {
	if info == nil || info.Next == nil {
		return
	}
	if nextInfo := s.occupied[*info.Next]; nextInfo != nil {
		prev := to
		nextInfo.Previous = &prev
	}
}

// writeBoth commits the entire swap — both FAT entries and both clusters'
// data — inside a single WriteBoth transaction.
func (s *Swapper) writeBoth(first layout.ClusterID, firstValue uint32, firstData []byte, second layout.ClusterID, secondValue uint32, secondData []byte) error {
	jrnl := s.tables.Jrnl()
	if err := jrnl.OpenTransaction(journal.WriteBoth); err != nil {
		return err
	}
	if err := jrnl.Report(journal.Event{ClusterNumber: int64(first), Value: ptr(int64(firstValue))}); err != nil {
		return err
	}
	if err := jrnl.Report(journal.Event{ClusterNumber: int64(second), Value: ptr(int64(secondValue))}); err != nil {
		return err
	}
	if err := s.tables.WriteRaw(int64(first), firstValue); err != nil {
		return err
	}
	if err := s.tables.WriteRaw(int64(second), secondValue); err != nil {
		return err
	}
	if err := s.clusters.WriteRaw(first, secondData); err != nil {
		return err
	}
	if err := s.clusters.WriteRaw(second, firstData); err != nil {
		return err
	}
	return jrnl.CloseTransaction()
}

func ptr(v int64) *int64 { return &v }
