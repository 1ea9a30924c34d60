// Package errorrepair applies spec.md §7's two recovery strategies to the
// structural defects tree.Walker records: REMOVE deletes the affected file
// or directory outright, QUARANTINE truncates its chain at the last good
// cluster and relocates its directory entry into a lazily-created FOUND
// directory, preserving whatever data survived.
package errorrepair

import (
	"github.com/ninnikukawaii/fatimage/chainwalker"
	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/fattables"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
)

// Strategy selects how a defective file or directory is handled.
type Strategy int

const (
	Remove Strategy = iota
	Quarantine
)

// EnsureFoundDirectory returns the node for the volume's FOUND directory,
// creating it (and allocating its first cluster) on first use.
type EnsureFoundDirectory func() (*tree.Node, error)

// MoveEntry relocates node's directory entry into newParent, appending a
// fresh record there and erasing the old one. The new record's cluster and
// offset are recorded on node itself; only an error is returned.
type MoveEntry func(node *tree.Node, newParent *tree.Node) error

// Repairer applies a chosen strategy to every defect a tree.Walker found.
type Repairer struct {
	tables    *fattables.Tables
	clusters  *clusterio.Stream
	bs        *layout.BootSector
	ensureFound EnsureFoundDirectory
	moveEntry   MoveEntry
}

// New builds a Repairer over the given volume's FAT and cluster access.
func New(tables *fattables.Tables, clusters *clusterio.Stream, bs *layout.BootSector, ensureFound EnsureFoundDirectory, moveEntry MoveEntry) *Repairer {
	return &Repairer{tables: tables, clusters: clusters, bs: bs, ensureFound: ensureFound, moveEntry: moveEntry}
}

// Repair applies strategy to every defect, skipping the root directory and
// any defect whose owner was already repaired as part of an earlier one
// (cluster intersections report a defect against both owners).
func (r *Repairer) Repair(defects []tree.Defect, strategy Strategy) error {
	handled := make(map[*tree.Node]bool)

	for _, d := range defects {
		node := d.Node
		if node == nil || node.Parent == nil || handled[node] {
			continue
		}
		handled[node] = true

		var err error
		switch strategy {
		case Remove:
			err = r.remove(node)
		default:
			err = r.quarantine(node, d.Error)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// remove frees every cluster a defective node owns and erases its
// directory entry, discarding the file entirely.
func (r *Repairer) remove(node *tree.Node) error {
	for _, c := range node.Clusters {
		if err := r.tables.Write(int64(c), 0); err != nil {
			return err
		}
	}
	return r.eraseEntry(node)
}

// quarantine truncates node's chain at the last cluster before the defect
// (marking it end-of-chain so the surviving data stays reachable) and
// relocates its directory entry into the volume's FOUND directory.
//
// UNCLOSED_TRANSACTION is handled differently from the other defect kinds:
// the journal is the only thing that's broken, so chainwalker.Walk follows
// node.Clusters straight past the offending cluster to the file's real end.
// Truncation here means finding chainErr.Cluster inside node.Clusters,
// marking end-of-chain there, and freeing everything that follows, rather
// than trusting the chain's already-EOC-terminated tail.
func (r *Repairer) quarantine(node *tree.Node, chainErr chainwalker.ChainError) error {
	if len(node.Clusters) == 0 {
		return r.eraseEntry(node)
	}

	if chainErr.Kind == chainwalker.UnclosedTransaction {
		if err := r.truncateAt(node, chainErr.Cluster); err != nil {
			return err
		}
	} else {
		last := node.Clusters[len(node.Clusters)-1]
		if err := r.tables.Write(int64(last), r.bs.Variant.EndOfChainMarker()); err != nil {
			return err
		}
	}

	if r.ensureFound == nil || r.moveEntry == nil {
		return r.eraseEntry(node)
	}
	found, err := r.ensureFound()
	if err != nil {
		return err
	}
	if node.Parent == found {
		return nil
	}
	return r.moveEntry(node, found)
}

// truncateAt locates offending inside node.Clusters, rewrites its FAT entry
// as end-of-chain, and frees every cluster that follows it in the chain.
// offending not being found in node.Clusters means the chain was already
// rewalked past it by the time this runs; truncating at the real end is
// then a no-op, same as the non-unclosed-transaction path.
func (r *Repairer) truncateAt(node *tree.Node, offending layout.ClusterID) error {
	index := -1
	for i, c := range node.Clusters {
		if c == offending {
			index = i
			break
		}
	}
	if index == -1 {
		return nil
	}

	if err := r.tables.Write(int64(offending), r.bs.Variant.EndOfChainMarker()); err != nil {
		return err
	}
	for _, c := range node.Clusters[index+1:] {
		if err := r.tables.Write(int64(c), 0); err != nil {
			return err
		}
	}
	return nil
}

// eraseEntry overwrites node's 32-byte short directory entry with the
// "deleted" marker byte, without touching its long-name fragments (which a
// subsequent directory listing skips once the short entry they precede is
// gone — matching the teacher's own lazy-cleanup posture on delete).
func (r *Repairer) eraseEntry(node *tree.Node) error {
	marker := []byte{dirent.EntryFree}
	return r.clusters.WriteAt(node.ParentCluster, node.EntryOffset, marker)
}
