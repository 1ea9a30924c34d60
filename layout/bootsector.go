// Package layout decodes a FAT12/FAT16/FAT32 boot sector and FSInfo block and
// computes the volume layout constants every other package needs: bytes per
// sector/cluster, first data sector, data cluster count, and the FAT variant.
package layout

import (
	"encoding/binary"
	"fmt"
	"io"

	ferrors "github.com/ninnikukawaii/fatimage/errors"
)

// ClusterID identifies a cluster. It is signed because the root directory on
// FAT12/FAT16 is addressed with a virtual cluster number below 2, which is
// zero or negative whenever the root spans more than one cluster (see
// RootCluster).
type ClusterID int64

// SectorID identifies an absolute sector on the volume.
type SectorID int64

// FATVariant is the on-disk FAT flavor, inferred from the data cluster count
// per spec.md §3 (never from a filesystem-type string).
type FATVariant int

const (
	FAT12 FATVariant = iota
	FAT16
	FAT32
)

func (v FATVariant) String() string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// EntryBits is the width, in bits, of one FAT entry for this variant. FAT32
// entries are 32 bits wide on disk but only the low 28 bits are significant;
// the top 4 bits are reserved and must be preserved on write.
func (v FATVariant) EntryBits() int {
	switch v {
	case FAT12:
		return 12
	case FAT16:
		return 16
	default:
		return 28
	}
}

// EndOfChainMarker is the smallest entry value that terminates a cluster chain.
func (v FATVariant) EndOfChainMarker() uint32 {
	switch v {
	case FAT12:
		return 0x0FF8
	case FAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

// BadClusterMarker is the entry value that marks a cluster as unusable.
func (v FATVariant) BadClusterMarker() uint32 {
	switch v {
	case FAT12:
		return 0x0FF7
	case FAT16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

// DetermineVariant infers the FAT flavor from the number of data clusters.
// These thresholds are not arbitrary: they come directly from Microsoft's FAT
// documentation and must be used exactly as given, never a filesystem label.
func DetermineVariant(dataClusterCount int64) FATVariant {
	if dataClusterCount < 4085 {
		return FAT12
	}
	if dataClusterCount < 65525 {
		return FAT16
	}
	return FAT32
}

// rawCommonBPB is the 36-byte header shared by every FAT variant.
type rawCommonBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// FSInfo is the FAT32 filesystem information sector (spec.md §6). The
// signatures are fixed magic values; a mismatch means the sector was
// misread, not that the hint is stale, so callers should treat it as
// advisory only regardless.
type FSInfo struct {
	LeadSignature      uint32
	StructSignature     uint32
	FreeClusterHint    uint32
	NextFreeClusterHint uint32
	TrailSignature      uint32
}

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
)

// BootSector is the fully decoded boot sector plus every derived layout
// constant described in spec.md §3 and §4.1.
type BootSector struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	RootEntryCount    uint

	SectorsPerFAT    uint
	TotalSectors     uint
	RootDirSectors   uint
	FirstDataSector  SectorID
	DataClusterCount int64
	BytesPerCluster  uint
	DirentsPerCluster int

	Variant FATVariant

	// RootCluster is either the real FAT32 root cluster, or the virtual
	// (below 2) cluster number used to address the fixed-position
	// FAT12/FAT16 root directory: 2 - ceil(RootDirSectors/SectorsPerCluster).
	RootCluster ClusterID

	// FSInfo is non-nil only for FAT32 volumes.
	FSInfo *FSInfo
}

// NewBootSectorFromReader decodes the boot sector (and, for FAT32, the
// FSInfo sector) from r, which must be positioned at the start of the image.
func NewBootSectorFromReader(r io.ReadSeeker) (*BootSector, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, ferrors.ErrIOFailed.WrapError(err)
	}

	var raw rawCommonBPB
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, ferrors.ErrIOFailed.WrapError(err)
	}

	rootDirSectors := uint((uint32(raw.RootEntryCount)*32 + uint32(raw.BytesPerSector) - 1) /
		uint32(raw.BytesPerSector))

	var sectorsPerFAT32 uint32
	var rootClusterFAT32 uint32
	var fsInfoSector uint16

	if rootDirSectors != 0 {
		// FAT12/FAT16 extended BPB carries nothing this engine's layout
		// computation needs (volume label, drive number, signature byte);
		// skip the 476 bytes rather than modeling fields nothing reads.
		if _, err := io.CopyN(io.Discard, r, 476); err != nil {
			return nil, ferrors.ErrIOFailed.WrapError(err)
		}
	} else {
		extended := make([]byte, 476)
		if _, err := io.ReadFull(r, extended); err != nil {
			return nil, ferrors.ErrIOFailed.WrapError(err)
		}
		sectorsPerFAT32 = binary.LittleEndian.Uint32(extended[0:4])
		rootClusterFAT32 = binary.LittleEndian.Uint32(extended[8:12])
		fsInfoSector = binary.LittleEndian.Uint16(extended[12:14])
	}

	sectorsPerFAT := uint(raw.SectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = uint(sectorsPerFAT32)
	}

	totalSectors := uint(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint(raw.TotalSectors32)
	}

	firstDataSector := SectorID(uint(raw.ReservedSectors) + uint(raw.NumFATs)*sectorsPerFAT + rootDirSectors)
	dataSectors := int64(totalSectors) - int64(firstDataSector)
	if uint(raw.SectorsPerCluster) == 0 {
		return nil, ferrors.ErrInvalidBoot.WithMessage("sectors per cluster is zero")
	}
	dataClusterCount := dataSectors / int64(raw.SectorsPerCluster)

	if dataClusterCount <= 0 {
		return nil, ferrors.ErrInvalidBoot
	}

	variant := DetermineVariant(dataClusterCount)
	bytesPerCluster := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)

	bs := &BootSector{
		BytesPerSector:    uint(raw.BytesPerSector),
		SectorsPerCluster: uint(raw.SectorsPerCluster),
		ReservedSectors:   uint(raw.ReservedSectors),
		NumFATs:           uint(raw.NumFATs),
		RootEntryCount:    uint(raw.RootEntryCount),
		SectorsPerFAT:     sectorsPerFAT,
		TotalSectors:      totalSectors,
		RootDirSectors:    rootDirSectors,
		FirstDataSector:   firstDataSector,
		DataClusterCount:  dataClusterCount,
		BytesPerCluster:   bytesPerCluster,
		DirentsPerCluster: int(bytesPerCluster) / 32,
		Variant:           variant,
	}

	if variant == FAT32 {
		bs.RootCluster = ClusterID(rootClusterFAT32)

		if _, err := r.Seek(int64(fsInfoSector)*int64(bs.BytesPerSector), io.SeekStart); err != nil {
			return nil, ferrors.ErrIOFailed.WrapError(err)
		}
		fsInfoBytes := make([]byte, 512)
		if _, err := io.ReadFull(r, fsInfoBytes); err != nil {
			return nil, ferrors.ErrIOFailed.WrapError(err)
		}

		info := &FSInfo{
			LeadSignature:       binary.LittleEndian.Uint32(fsInfoBytes[0:4]),
			StructSignature:     binary.LittleEndian.Uint32(fsInfoBytes[484:488]),
			FreeClusterHint:     binary.LittleEndian.Uint32(fsInfoBytes[488:492]),
			NextFreeClusterHint: binary.LittleEndian.Uint32(fsInfoBytes[492:496]),
			TrailSignature:      binary.LittleEndian.Uint32(fsInfoBytes[508:512]),
		}
		if info.LeadSignature != fsInfoLeadSignature ||
			info.StructSignature != fsInfoStructSignature ||
			info.TrailSignature != fsInfoTrailSignature {
			return nil, ferrors.ErrInvalidBoot.WithMessage(
				fmt.Sprintf("FSInfo signature mismatch at sector %d", fsInfoSector))
		}
		bs.FSInfo = info
	} else {
		// Virtual root cluster number: the root directory lives in fixed
		// sectors immediately before the data region, so this cluster
		// number below 2 makes the usual address formula point back
		// at it without a special case anywhere else in the codebase.
		bs.RootCluster = ClusterID(2 - int64((rootDirSectors+bs.SectorsPerCluster-1)/bs.SectorsPerCluster))
	}

	return bs, nil
}

// ClusterAddress returns the absolute byte offset of cluster c's data.
func (bs *BootSector) ClusterAddress(c ClusterID) int64 {
	return (int64(bs.FirstDataSector) + (int64(c)-2)*int64(bs.SectorsPerCluster)) * int64(bs.BytesPerSector)
}

// RootChainLength is the number of clusters occupied by a FAT12/FAT16 fixed
// root directory (0 for FAT32, where the root is a normal cluster chain).
func (bs *BootSector) RootChainLength() uint {
	if bs.Variant == FAT32 {
		return 0
	}
	return (bs.RootDirSectors + bs.SectorsPerCluster - 1) / bs.SectorsPerCluster
}
