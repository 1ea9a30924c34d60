// Package tree materializes a FAT volume's directory tree: it walks every
// directory's cluster chain, reassembles long names from their LFN
// fragments, and records which cluster belongs to which file so later
// passes (errorrepair, allocator, swap) can tell an owned cluster from a
// free one. Structural chain defects encountered along the way are
// accumulated rather than aborting the walk, per spec.md §7.
package tree

import (
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/ninnikukawaii/fatimage/chainwalker"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/layout"
)

// Node is one file or directory in the materialized tree.
type Node struct {
	Name          string
	IsDirectory   bool
	Attributes    uint8
	FirstCluster  layout.ClusterID
	Size          uint32
	Clusters      []layout.ClusterID
	Children      []*Node
	Parent        *Node
	ParentCluster layout.ClusterID
	// EntryOffset is the byte offset, within ParentCluster, of this node's
	// short directory entry — where its first-cluster and size fields live
	// for in-place edits (swap, truncate, relocate).
	EntryOffset int
}

// OccupiedClusterInfo mirrors the bookkeeping the original implementation
// keeps per cluster: its neighbors in its owner's chain, and that owner.
type OccupiedClusterInfo struct {
	Cluster  layout.ClusterID
	Previous *layout.ClusterID
	Next     *layout.ClusterID
	Owner    *Node
}

// Defect pairs a structural chain error with the node it was found on.
type Defect struct {
	Node  *Node
	Error chainwalker.ChainError
}

// ReadCluster returns the raw bytes of a directory cluster.
type ReadCluster func(c layout.ClusterID) ([]byte, error)

// Walker materializes the tree rooted at a volume's root directory.
type Walker struct {
	readEntry chainwalker.ReadEntry
	readData  ReadCluster
	bs        *layout.BootSector

	Occupied map[layout.ClusterID]*OccupiedClusterInfo
	Defects  []Defect
}

// NewWalker prepares a materializer for the given volume. readEntry reads
// FAT copy 0, readData reads a directory's raw cluster bytes.
func NewWalker(readEntry chainwalker.ReadEntry, readData ReadCluster, bs *layout.BootSector) *Walker {
	return &Walker{
		readEntry: readEntry,
		readData:  readData,
		bs:        bs,
		Occupied:  make(map[layout.ClusterID]*OccupiedClusterInfo),
	}
}

func (w *Walker) isOccupied(c layout.ClusterID) bool {
	_, ok := w.Occupied[c]
	return ok
}

// Build walks the root directory and everything beneath it, returning the
// root Node. Any structural defects found are both recorded in w.Defects
// and returned, combined, as a *multierror.Error so a caller that wants to
// fail loudly during development still can.
func (w *Walker) Build() (*Node, error) {
	root := &Node{Name: "", IsDirectory: true, FirstCluster: w.bs.RootCluster}

	if err := w.expand(root); err != nil {
		return root, err
	}

	var errs *multierror.Error
	for _, d := range w.Defects {
		errs = multierror.Append(errs, errFromDefect(d))
	}
	return root, errs.ErrorOrNil()
}

func (w *Walker) expand(dirNode *Node) error {
	chain, chainErr := chainwalker.Walk(w.readEntry, w.bs, dirNode.FirstCluster, w.isOccupied)
	dirNode.Clusters = chain
	w.claim(dirNode, chain)
	if chainErr != nil {
		w.Defects = append(w.Defects, Defect{Node: dirNode, Error: *chainErr})
	}

	var longNameFragments []dirent.LongNameFragment

	for _, cluster := range chain {
		data, err := w.readData(cluster)
		if err != nil {
			return err
		}

		for offset := 0; offset+dirent.Size <= len(data); offset += dirent.Size {
			record := data[offset : offset+dirent.Size]
			if record[0] == dirent.EntryEndOfDirectory {
				break
			}
			if record[0] == dirent.EntryFree {
				longNameFragments = nil
				continue
			}
			if dirent.IsLongNameFragment(record) {
				fragment, err := dirent.DecodeLongNameFragment(record)
				if err != nil {
					return err
				}
				longNameFragments = append(longNameFragments, fragment)
				continue
			}

			raw, err := dirent.DecodeRaw(record)
			if err != nil {
				return err
			}

			var name string
			if len(longNameFragments) > 0 {
				name = dirent.AssembleLongName(longNameFragments)
			}
			longNameFragments = nil

			entry := dirent.NewEntry(raw, name)
			if entry.IsVolumeLabel {
				continue
			}

			shortName, err := dirent.ShortName(raw)
			if err != nil {
				return err
			}
			if shortName == "." || shortName == ".." {
				continue
			}
			if entry.LongName != "" {
				shortName = entry.LongName
			}

			child := &Node{
				Name:          shortName,
				IsDirectory:   entry.IsDirectory,
				Attributes:    raw.Attributes,
				FirstCluster:  entry.FirstCluster,
				Size:          raw.FileSize,
				Parent:        dirNode,
				ParentCluster: cluster,
				EntryOffset:   offset,
			}
			dirNode.Children = append(dirNode.Children, child)

			if child.IsDirectory {
				if err := w.expand(child); err != nil {
					return err
				}
			} else {
				w.claimFile(child)
			}
		}
	}

	return nil
}

// claimFile walks a regular file's chain and records its occupied clusters,
// the way expand does inline for directories.
func (w *Walker) claimFile(file *Node) {
	chain, chainErr := chainwalker.Walk(w.readEntry, w.bs, file.FirstCluster, w.isOccupied)
	file.Clusters = chain
	w.claim(file, chain)
	if chainErr != nil {
		w.Defects = append(w.Defects, Defect{Node: file, Error: *chainErr})
	}
}

func (w *Walker) claim(owner *Node, chain []layout.ClusterID) {
	for i, c := range chain {
		info := &OccupiedClusterInfo{Cluster: c, Owner: owner}
		if i > 0 {
			prev := chain[i-1]
			info.Previous = &prev
		}
		if i+1 < len(chain) {
			next := chain[i+1]
			info.Next = &next
		}
		w.Occupied[c] = info
	}
}

func errFromDefect(d Defect) error {
	return &defectError{d: d}
}

type defectError struct{ d Defect }

func (e *defectError) Error() string {
	return e.d.Error.Kind.String() + " at cluster " + strconv.FormatInt(int64(e.d.Error.Cluster), 10)
}
