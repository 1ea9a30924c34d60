// Package fatimage ties every component together into the engine API
// spec.md §6 describes: Open, a Session carrying the volume's FAT tables,
// cluster stream, journal, and materialized directory tree, and the
// mutating/inspecting operations a caller drives through it. No package
// beneath Session is reachable from outside except through it — mutations
// go through the session, never free-standing functions (spec.md §9).
package fatimage

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ninnikukawaii/fatimage/allocator"
	"github.com/ninnikukawaii/fatimage/chainwalker"
	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/dirwriter"
	ferrors "github.com/ninnikukawaii/fatimage/errors"
	"github.com/ninnikukawaii/fatimage/errorrepair"
	"github.com/ninnikukawaii/fatimage/fatcodec"
	"github.com/ninnikukawaii/fatimage/fattables"
	"github.com/ninnikukawaii/fatimage/fragmentation"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/swap"
	"github.com/ninnikukawaii/fatimage/tree"
)

// Re-exported so callers never need to import errorrepair directly just to
// pick a corruption strategy.
const (
	Remove     = errorrepair.Remove
	Quarantine = errorrepair.Quarantine
)

// OpenOptions configures how a volume is opened and how it responds to
// structural corruption found during the initial scan.
type OpenOptions struct {
	// OnCorruption selects Remove or Quarantine for every structural defect
	// found during open. Nil means Quarantine, the spec's default.
	OnCorruption *errorrepair.Strategy

	// DefaultFATCopy is used to resolve disagreements between FAT copies
	// without invoking Disambiguate. Nil means "ask Disambiguate".
	DefaultFATCopy *int

	// Disambiguate is consulted only when DefaultFATCopy is nil and the
	// FAT copies actually disagree.
	Disambiguate fattables.Disambiguate

	// JournalPath overrides the journal file location; empty uses
	// journal.DefaultFilename.
	JournalPath string
}

// VolumeInfo summarizes a volume's layout and current free space.
type VolumeInfo struct {
	Variant           layout.FATVariant
	BytesPerSector    uint
	SectorsPerCluster uint
	BytesPerCluster   uint
	DataClusterCount  int64
	FreeClusters      int64
	RootCluster       layout.ClusterID
}

// Session owns one open volume's image handle, journal handle, and every
// piece of derived state built from them. There is at most one Session per
// image at a time; nothing here is safe to share across goroutines.
type Session struct {
	imagePath string
	image     *os.File
	bs        *layout.BootSector
	tables    *fattables.Tables
	clusters  *clusterio.Stream
	jrnl      *journal.Journal

	walker   *tree.Walker
	root     *tree.Node
	alloc    *allocator.Allocator
	repairer *errorrepair.Repairer
	swapper  *swap.Swapper
	defrag   *fragmentation.Defragmenter
}

// Open mounts the FAT image at imagePath: it replays any prior journal,
// decodes the boot sector, reconciles FAT copies, materializes the
// directory tree, repairs structural defects (including clusters an
// unclosed journal transaction left suspect), and surveys free space.
func Open(imagePath string, opts OpenOptions) (*Session, error) {
	image, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, ferrors.ErrIOFailed.WrapError(err)
	}

	jrnl, unclosed, err := journal.Open(imagePath, opts.JournalPath)
	if err != nil {
		image.Close()
		return nil, err
	}

	bs, err := layout.NewBootSectorFromReader(image)
	if err != nil {
		jrnl.Close()
		image.Close()
		return nil, err
	}

	tables := fattables.New(image, bs, jrnl)
	defaultCopy := -1
	if opts.DefaultFATCopy != nil {
		defaultCopy = *opts.DefaultFATCopy
	}
	if err := tables.Reconcile(defaultCopy, opts.Disambiguate); err != nil {
		jrnl.Close()
		image.Close()
		return nil, err
	}

	clusters := clusterio.New(image, bs, jrnl)
	readEntry := func(c layout.ClusterID) (uint32, error) { return tables.Read(int64(c)) }
	readCluster := func(c layout.ClusterID) ([]byte, error) { return clusters.Read(c) }

	walker := tree.NewWalker(readEntry, readCluster, bs)
	root, _ := walker.Build()

	for _, frame := range unclosed {
		for _, ev := range frame.Events {
			cluster := layout.ClusterID(ev.ClusterNumber)
			info, ok := walker.Occupied[cluster]
			if !ok || info.Owner == nil {
				continue
			}
			walker.Defects = append(walker.Defects, tree.Defect{
				Node:  info.Owner,
				Error: chainwalker.ChainError{Kind: chainwalker.UnclosedTransaction, Cluster: cluster},
			})
		}
	}

	occupiedBool := make(map[layout.ClusterID]bool, len(walker.Occupied))
	for c := range walker.Occupied {
		occupiedBool[c] = true
	}
	alloc, err := allocator.Survey(tables, clusters, bs, occupiedBool)
	if err != nil {
		jrnl.Close()
		image.Close()
		return nil, err
	}

	s := &Session{
		imagePath: imagePath,
		image:     image,
		bs:        bs,
		tables:    tables,
		clusters:  clusters,
		jrnl:      jrnl,
		walker:    walker,
		root:      root,
		alloc:     alloc,
	}

	swapper := swap.New(tables, clusters, bs, walker.Occupied, s.updateFirstCluster)
	repairer := errorrepair.New(tables, clusters, bs, s.ensureFoundDirectory, s.moveEntry)
	s.swapper = swapper
	s.repairer = repairer
	s.defrag = fragmentation.New(swapper, bs, walker.Occupied, readEntry, s.isBadCluster)

	if len(walker.Defects) > 0 {
		strategy := errorrepair.Quarantine
		if opts.OnCorruption != nil {
			strategy = *opts.OnCorruption
		}
		if err := repairer.Repair(walker.Defects, strategy); err != nil {
			jrnl.Close()
			image.Close()
			return nil, err
		}
	}

	return s, nil
}

// Info reports the volume's layout constants and current free-cluster count.
func (s *Session) Info() VolumeInfo {
	return VolumeInfo{
		Variant:           s.bs.Variant,
		BytesPerSector:    s.bs.BytesPerSector,
		SectorsPerCluster: s.bs.SectorsPerCluster,
		BytesPerCluster:   s.bs.BytesPerCluster,
		DataClusterCount:  s.bs.DataClusterCount,
		FreeClusters:      s.alloc.FreeClusterCount(),
		RootCluster:       s.bs.RootCluster,
	}
}

// Tree returns the root of the materialized directory tree.
func (s *Session) Tree() *tree.Node {
	return s.root
}

// ReadFile returns the full contents of the file at path (slash-separated,
// relative to root), truncated to its recorded size.
func (s *Session) ReadFile(path string) ([]byte, error) {
	node, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	if node.IsDirectory {
		return nil, ferrors.ErrIsADirectory
	}

	chain, _ := chainwalker.Walk(func(c layout.ClusterID) (uint32, error) {
		return s.tables.Read(int64(c))
	}, s.bs, node.FirstCluster, nil)

	out := make([]byte, 0, len(chain)*int(s.bs.BytesPerCluster))
	for _, c := range chain {
		data, err := s.clusters.Read(c)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}

	if uint32(len(out)) > node.Size {
		out = out[:node.Size]
	}
	return out, nil
}

// CreateFile allocates a cluster chain for contents, writes it, and appends
// a short directory entry for name under the directory at parentPath.
func (s *Session) CreateFile(parentPath, name string, contents []byte) (*tree.Node, error) {
	return s.createEntry(parentPath, name, contents, false)
}

// CreateDirectory allocates a single empty cluster and appends a short
// directory entry for name under the directory at parentPath.
func (s *Session) CreateDirectory(parentPath, name string) (*tree.Node, error) {
	return s.createEntry(parentPath, name, nil, true)
}

func (s *Session) createEntry(parentPath, name string, contents []byte, isDirectory bool) (*tree.Node, error) {
	parent, err := s.lookup(parentPath)
	if err != nil {
		return nil, err
	}
	if !parent.IsDirectory {
		return nil, ferrors.ErrNotADirectory
	}
	for _, child := range parent.Children {
		if strings.EqualFold(child.Name, name) {
			return nil, ferrors.ErrInvalidName.WithMessage(name + " already exists")
		}
	}

	count := (len(contents) + int(s.bs.BytesPerCluster) - 1) / int(s.bs.BytesPerCluster)
	if count < 1 {
		count = 1
	}
	chain, err := s.alloc.AllocateChain(count)
	if err != nil {
		return nil, err
	}

	for i, c := range chain {
		start := i * int(s.bs.BytesPerCluster)
		end := start + int(s.bs.BytesPerCluster)
		if start >= len(contents) {
			continue
		}
		block := make([]byte, s.bs.BytesPerCluster)
		if end > len(contents) {
			end = len(contents)
		}
		copy(block, contents[start:end])
		if err := s.clusters.Write(c, block); err != nil {
			s.alloc.Free(chain)
			return nil, err
		}
	}

	base, ext := splitName(name)
	packed, err := dirent.Pack83Name(base, ext)
	if err != nil {
		s.alloc.Free(chain)
		return nil, err
	}
	record, err := dirent.CreateShort(packed, chain[0], isDirectory, uint32(len(contents)), time.Now())
	if err != nil {
		s.alloc.Free(chain)
		return nil, err
	}

	cluster, offset, err := dirwriter.AppendEntry(s.clusters, s.bs, s.alloc.Extend, parent, record)
	if err != nil {
		s.alloc.Free(chain)
		return nil, err
	}

	child := &tree.Node{
		Name:          strings.ToUpper(name),
		IsDirectory:   isDirectory,
		FirstCluster:  chain[0],
		Size:          uint32(len(contents)),
		Clusters:      chain,
		Parent:        parent,
		ParentCluster: cluster,
		EntryOffset:   offset,
	}
	parent.Children = append(parent.Children, child)
	s.claim(child, chain)
	return child, nil
}

// Swap exchanges two clusters' data and FAT linkage, per spec.md §4.12.
func (s *Session) Swap(a, b layout.ClusterID) error {
	return s.swapper.Swap(a, b)
}

// ComputeFragmentationRatio returns the percentage of occupied clusters that
// don't immediately follow their predecessor's cluster number.
func (s *Session) ComputeFragmentationRatio() float64 {
	return fragmentation.Ratio(s.walker.Occupied)
}

// Defragment nudges every file's clusters toward contiguity via single-
// cluster swaps, files visited in ascending first-cluster order.
func (s *Session) Defragment() error {
	return s.defrag.Defragment(s.filesByFirstCluster())
}

// InjectSingleTableValue writes value directly into one FAT copy, bypassing
// the broadcast every ordinary write performs, so a later open can exercise
// the multi-copy disambiguation path. Collaborator-only; never used by
// ordinary mutation paths.
func (s *Session) InjectSingleTableValue(cluster layout.ClusterID, table int, value uint32) error {
	return fatcodec.WriteEntry(s.image, s.bs, int64(cluster), table, value)
}

// InjectBadCluster marks cluster as bad in every FAT copy.
func (s *Session) InjectBadCluster(cluster layout.ClusterID) error {
	return s.tables.Write(int64(cluster), s.bs.Variant.BadClusterMarker())
}

// InjectSelfLoop makes cluster's FAT entry point at itself.
func (s *Session) InjectSelfLoop(cluster layout.ClusterID) error {
	return s.tables.Write(int64(cluster), uint32(cluster))
}

// InjectIntersection makes cluster's FAT entry point at target, which some
// other chain already occupies, producing a cluster intersection on the
// next open's traversal.
func (s *Session) InjectIntersection(cluster, target layout.ClusterID) error {
	return s.tables.Write(int64(cluster), uint32(target))
}

// Close releases the journal and image file handles.
func (s *Session) Close() error {
	jrnlErr := s.jrnl.Close()
	imgErr := s.image.Close()
	if jrnlErr != nil {
		return ferrors.ErrIOFailed.WrapError(jrnlErr)
	}
	if imgErr != nil {
		return ferrors.ErrIOFailed.WrapError(imgErr)
	}
	return nil
}

func (s *Session) lookup(path string) (*tree.Node, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return s.root, nil
	}

	current := s.root
	for _, part := range strings.Split(path, "/") {
		var next *tree.Node
		for _, child := range current.Children {
			if strings.EqualFold(child.Name, part) {
				next = child
				break
			}
		}
		if next == nil {
			return nil, ferrors.ErrNotFound
		}
		current = next
	}
	return current, nil
}

func (s *Session) claim(owner *tree.Node, chain []layout.ClusterID) {
	for i, c := range chain {
		info := &tree.OccupiedClusterInfo{Cluster: c, Owner: owner}
		if i > 0 {
			prev := chain[i-1]
			info.Previous = &prev
		}
		if i+1 < len(chain) {
			next := chain[i+1]
			info.Next = &next
		}
		s.walker.Occupied[c] = info
	}
}

func (s *Session) isBadCluster(c layout.ClusterID) (bool, error) {
	value, err := s.tables.Read(int64(c))
	if err != nil {
		return false, err
	}
	return value == s.bs.Variant.BadClusterMarker() || chainwalker.IsReserved(s.bs, value), nil
}

func (s *Session) filesByFirstCluster() []*tree.Node {
	var out []*tree.Node
	var walk func(n *tree.Node)
	walk = func(n *tree.Node) {
		for _, child := range n.Children {
			out = append(out, child)
			if child.IsDirectory {
				walk(child)
			}
		}
	}
	walk(s.root)

	sort.Slice(out, func(i, j int) bool { return out[i].FirstCluster < out[j].FirstCluster })
	return out
}

// updateFirstCluster patches node's short entry in place with a new first-
// cluster value, used when Swap moves the head of a chain.
func (s *Session) updateFirstCluster(node *tree.Node, newFirst layout.ClusterID) error {
	if node == nil {
		return nil
	}
	if node == s.root {
		return ferrors.ErrInvalidRootEdit
	}

	node.FirstCluster = newFirst

	data, err := s.clusters.Read(node.ParentCluster)
	if err != nil {
		return err
	}
	raw, err := dirent.DecodeRaw(data[node.EntryOffset : node.EntryOffset+dirent.Size])
	if err != nil {
		return err
	}
	raw.FirstClusterHigh = uint16(uint32(newFirst) >> 16)
	raw.FirstClusterLow = uint16(uint32(newFirst) & 0xFFFF)

	encoded, err := dirent.EncodeRaw(raw)
	if err != nil {
		return err
	}
	return s.clusters.WriteAt(node.ParentCluster, node.EntryOffset, encoded)
}

// moveEntry relocates node's short directory entry out of its current
// parent and appends a copy under newParent, updating node's bookkeeping to
// match. Long-name fragments preceding the old entry are left behind rather
// than relocated or erased (documented simplification, see DESIGN.md).
func (s *Session) moveEntry(node, newParent *tree.Node) error {
	data, err := s.clusters.Read(node.ParentCluster)
	if err != nil {
		return err
	}
	record := append([]byte(nil), data[node.EntryOffset:node.EntryOffset+dirent.Size]...)

	newCluster, offset, err := dirwriter.AppendEntry(s.clusters, s.bs, s.alloc.Extend, newParent, record)
	if err != nil {
		return err
	}
	if err := dirwriter.RemoveEntry(s.clusters, node, 0); err != nil {
		return err
	}

	oldParent := node.Parent
	if oldParent != nil {
		for i, child := range oldParent.Children {
			if child == node {
				oldParent.Children = append(oldParent.Children[:i], oldParent.Children[i+1:]...)
				break
			}
		}
	}

	node.Parent = newParent
	node.ParentCluster = newCluster
	node.EntryOffset = offset
	newParent.Children = append(newParent.Children, node)
	return nil
}

// ensureFoundDirectory returns the volume's FOUND quarantine directory,
// creating it under root (with a numeric suffix on a name collision) on
// first use.
func (s *Session) ensureFoundDirectory() (*tree.Node, error) {
	for _, child := range s.root.Children {
		if child.IsDirectory && child.Name == "FOUND" {
			return child, nil
		}
	}

	name := "FOUND"
	taken := func(n string) bool {
		for _, child := range s.root.Children {
			if child.Name == n {
				return true
			}
		}
		return false
	}
	for suffix := 1; taken(name); suffix++ {
		name = fmt.Sprintf("FOUND%d", suffix)
	}

	return s.CreateDirectory("", name)
}

// splitName divides a name into its 8.3 base and extension at the last dot.
func splitName(name string) (string, string) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
