// Package testutil builds small, valid FAT12/FAT16 images in memory for
// tests, the way the teacher's testing/images.go turns a byte slice into a
// working stream via bytesextra rather than shipping prebuilt binary
// fixtures. Unlike the teacher, which loads a precompressed image byte-for-
// byte, fatimage's fixtures are synthesized field-by-field so a test can ask
// for exactly the cluster count and file layout it needs.
package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/ninnikukawaii/fatimage/clusterio"
	"github.com/ninnikukawaii/fatimage/dirent"
	"github.com/ninnikukawaii/fatimage/dirwriter"
	"github.com/ninnikukawaii/fatimage/fatcodec"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
	"github.com/ninnikukawaii/fatimage/tree"
)

// FileSpec describes one entry to place in the image's root directory.
type FileSpec struct {
	Name        string
	Contents    []byte
	IsDirectory bool
}

// Options configures the synthesized volume. Zero values pick small
// defaults suitable for unit tests, not a realistic disk size.
type Options struct {
	// NumFATs is the number of FAT copies. Defaults to 2.
	NumFATs uint
	// RootEntries is the FAT12/16 root directory's fixed entry capacity.
	// Defaults to 16.
	RootEntries uint
	// ExtraFreeClusters pads the data region with additional free clusters
	// beyond what Files need, for allocation tests. Defaults to 4.
	ExtraFreeClusters int64
	// Files are written into the root directory in order.
	Files []FileSpec
}

const bytesPerSector = 512
const sectorsPerCluster = 1
const sectorsPerFAT = 1

// Build synthesizes a FAT image satisfying opts and writes it to a file
// under dir, returning the image's path. The variant (FAT12 or FAT16) is
// whatever layout.DetermineVariant infers from the resulting data cluster
// count.
func Build(t *testing.T, dir string, opts Options) string {
	t.Helper()

	numFATs := opts.NumFATs
	if numFATs == 0 {
		numFATs = 2
	}
	rootEntries := opts.RootEntries
	if rootEntries == 0 {
		rootEntries = 16
	}
	extraFree := opts.ExtraFreeClusters
	if extraFree == 0 {
		extraFree = 4
	}

	bytesPerCluster := uint(bytesPerSector * sectorsPerCluster)

	var dataClusterCount int64
	for _, f := range opts.Files {
		n := int64(len(f.Contents)+int(bytesPerCluster)-1) / int64(bytesPerCluster)
		if n < 1 {
			n = 1
		}
		dataClusterCount += n
	}
	dataClusterCount += extraFree

	rootDirSectors := (rootEntries*32 + bytesPerSector - 1) / bytesPerSector
	reservedSectors := uint(1)
	firstDataSector := reservedSectors + numFATs*sectorsPerFAT + rootDirSectors
	totalSectors := firstDataSector + uint(dataClusterCount)*sectorsPerCluster

	buf := make([]byte, uint(totalSectors)*bytesPerSector)
	writeCommonBPB(buf, reservedSectors, numFATs, rootEntries, totalSectors)

	wrap := bytesextra.NewReadWriteSeeker(buf)
	bs, err := layout.NewBootSectorFromReader(wrap)
	require.NoError(t, err)
	require.Equal(t, dataClusterCount, bs.DataClusterCount, "builder's layout math disagrees with the decoder")

	scratchJournal := filepath.Join(dir, "build.journal")
	jrnl, _, err := journal.Open("build", scratchJournal)
	require.NoError(t, err)

	clusters := clusterio.New(wrap, bs, jrnl)

	rootClusters := make([]layout.ClusterID, bs.RootChainLength())
	for i := range rootClusters {
		rootClusters[i] = bs.RootCluster + layout.ClusterID(i)
	}
	rootDir := &tree.Node{IsDirectory: true, Clusters: rootClusters}

	next := layout.ClusterID(2)
	for _, f := range opts.Files {
		count := int64(len(f.Contents)+int(bytesPerCluster)-1) / int64(bytesPerCluster)
		if count < 1 {
			count = 1
		}

		chain := make([]layout.ClusterID, count)
		for i := range chain {
			chain[i] = next
			next++
		}

		for i, c := range chain {
			start := i * int(bytesPerCluster)
			end := start + int(bytesPerCluster)
			block := make([]byte, bytesPerCluster)
			if start < len(f.Contents) {
				if end > len(f.Contents) {
					end = len(f.Contents)
				}
				copy(block, f.Contents[start:end])
			}
			require.NoError(t, clusters.Write(c, block))
		}

		for i, c := range chain {
			var value uint32
			if i+1 < len(chain) {
				value = uint32(chain[i+1])
			} else {
				value = bs.Variant.EndOfChainMarker()
			}
			for fatIndex := 0; fatIndex < int(numFATs); fatIndex++ {
				require.NoError(t, fatcodec.WriteEntry(wrap, bs, int64(c), fatIndex, value))
			}
		}

		base, ext := splitName(f.Name)
		packed, err := dirent.Pack83Name(base, ext)
		require.NoError(t, err)
		record, err := dirent.CreateShort(packed, chain[0], f.IsDirectory, uint32(len(f.Contents)), fixedTime())
		require.NoError(t, err)

		_, _, err = dirwriter.AppendEntry(clusters, bs, nil, rootDir, record)
		require.NoError(t, err)
	}

	require.NoError(t, jrnl.Close())
	require.NoError(t, os.Remove(scratchJournal))

	imagePath := filepath.Join(dir, "image.vhd")
	require.NoError(t, os.WriteFile(imagePath, buf, 0o644))
	return imagePath
}

func writeCommonBPB(buf []byte, reservedSectors, numFATs, rootEntries, totalSectors uint) {
	binary.LittleEndian.PutUint16(buf[11:13], bytesPerSector)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], uint16(reservedSectors))
	buf[16] = byte(numFATs)
	binary.LittleEndian.PutUint16(buf[17:19], uint16(rootEntries))
	if totalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(buf[19:21], uint16(totalSectors))
	} else {
		binary.LittleEndian.PutUint32(buf[32:36], uint32(totalSectors))
	}
	buf[21] = 0xF8
	binary.LittleEndian.PutUint16(buf[22:24], sectorsPerFAT)
}

func fixedTime() time.Time {
	return time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
}

func splitName(name string) (string, string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}
