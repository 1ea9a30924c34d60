// Package dirent decodes and encodes 32-byte FAT directory entries: short
// 8.3 names, their attributes and timestamps, and the long-name (LFN)
// fragments spec.md §4.4 requires be reassembled in order before the short
// entry they precede is trusted.
package dirent

import (
	"bytes"
	"encoding/binary"
	"sort"
	"time"
	"unicode/utf16"

	"github.com/noxer/bytewriter"

	"github.com/ninnikukawaii/fatimage/codepage"
	ferrors "github.com/ninnikukawaii/fatimage/errors"
	"github.com/ninnikukawaii/fatimage/layout"
)

// Attribute flags, spec.md §4.4.
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20

	// AttrLongName is the combination that marks a record as an LFN fragment
	// rather than a short entry; a short entry never carries all four bits.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// Size is the fixed length of every directory record, long or short.
const Size = 32

// EntryFree and EntryEndOfDirectory are the sentinel values a dirent's
// first name byte can take (spec.md §4.4): 0xE5 marks a deleted/free slot,
// 0x00 marks the first unused slot and everything after it in the cluster.
const (
	EntryFree           = 0xE5
	EntryEndOfDirectory = 0x00
)

// fatEpoch is the earliest representable FAT timestamp.
var fatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Raw is the on-disk layout of a short directory entry.
type Raw struct {
	Name             [11]byte
	Attributes       uint8
	NTReserved       uint8
	CreatedTimeTenth uint8
	CreatedTime      uint16
	CreatedDate      uint16
	LastAccessDate   uint16
	FirstClusterHigh uint16
	LastWriteTime    uint16
	LastWriteDate    uint16
	FirstClusterLow  uint16
	FileSize         uint32
}

// DecodeRaw parses the 32 bytes of a directory record into a Raw entry.
func DecodeRaw(data []byte) (Raw, error) {
	if len(data) != Size {
		return Raw{}, ferrors.ErrInvalidArgument.WithMessage("directory entry must be 32 bytes")
	}
	var raw Raw
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return Raw{}, ferrors.ErrIOFailed.WrapError(err)
	}
	return raw, nil
}

// IsLongNameFragment reports whether the attribute byte of data marks it as
// an LFN fragment rather than a short entry.
func IsLongNameFragment(data []byte) bool {
	return len(data) == Size && data[11] == AttrLongName
}

// LongNameFragment is one 13-UCS2-character slice of a long file name.
type LongNameFragment struct {
	Order       uint8
	NamePart1   [5]uint16
	Attributes  uint8
	Type        uint8
	Checksum    uint8
	NamePart2   [6]uint16
	FirstCluster uint16
	NamePart3   [2]uint16
}

// lastLongNameEntry marks the highest-ordered (physically first) fragment
// of a long name.
const lastLongNameEntry = 0x40

// DecodeLongNameFragment parses the 32 bytes of an LFN record.
func DecodeLongNameFragment(data []byte) (LongNameFragment, error) {
	if len(data) != Size {
		return LongNameFragment{}, ferrors.ErrInvalidArgument.WithMessage("directory entry must be 32 bytes")
	}
	f := LongNameFragment{
		Order:        data[0],
		Attributes:   data[11],
		Type:         data[12],
		Checksum:     data[13],
		FirstCluster: binary.LittleEndian.Uint16(data[26:28]),
	}
	for i := 0; i < 5; i++ {
		f.NamePart1[i] = binary.LittleEndian.Uint16(data[1+2*i : 3+2*i])
	}
	for i := 0; i < 6; i++ {
		f.NamePart2[i] = binary.LittleEndian.Uint16(data[14+2*i : 16+2*i])
	}
	for i := 0; i < 2; i++ {
		f.NamePart3[i] = binary.LittleEndian.Uint16(data[28+2*i : 30+2*i])
	}
	return f, nil
}

// AssembleLongName reconstructs a long file name from its fragments, which
// may be supplied in on-disk order (highest order/physically first,
// descending to order 1); they are concatenated in ascending order of their
// sequence numbers. A name terminates at the first 0x0000 code unit;
// trailing 0xFFFF padding in the final fragment is discarded.
func AssembleLongName(fragments []LongNameFragment) string {
	ordered := append([]LongNameFragment(nil), fragments...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return SequenceNumber(ordered[i].Order) < SequenceNumber(ordered[j].Order)
	})

	var units []uint16
	for _, f := range ordered {
		units = append(units, f.NamePart1[:]...)
		units = append(units, f.NamePart2[:]...)
		units = append(units, f.NamePart3[:]...)
	}

	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}
	for len(units) > 0 && units[len(units)-1] == 0xFFFF {
		units = units[:len(units)-1]
	}

	return string(utf16.Decode(units))
}

// ShortNameChecksum computes the checksum an LFN's fragments must agree on,
// per the standard FAT long-name algorithm.
func ShortNameChecksum(name [11]byte) uint8 {
	var sum uint8
	for _, b := range name {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// IsLastFragment reports whether order marks the physically-first (highest
// numbered) fragment of a long name.
func IsLastFragment(order uint8) bool {
	return order&lastLongNameEntry != 0
}

// SequenceNumber strips the "last fragment" marker bit from order.
func SequenceNumber(order uint8) uint8 {
	return order &^ lastLongNameEntry
}

// Entry is the decoded, user-facing form of a directory record: its short
// Raw fields plus, when present, its reconstructed long name.
type Entry struct {
	Raw
	LongName     string
	FirstCluster layout.ClusterID
	IsDirectory  bool
	IsVolumeLabel bool
}

// NewEntry decodes raw into an Entry. longName is the name already
// assembled from any LFN fragments preceding raw, or "" if there were none
// (in which case callers should fall back to the short 8.3 name).
func NewEntry(raw Raw, longName string) Entry {
	return Entry{
		Raw:           raw,
		LongName:      longName,
		FirstCluster:  layout.ClusterID(uint32(raw.FirstClusterHigh)<<16 | uint32(raw.FirstClusterLow)),
		IsDirectory:   raw.Attributes&AttrDirectory != 0,
		IsVolumeLabel: raw.Attributes&AttrVolumeLabel != 0,
	}
}

// ShortName decodes the raw 8.3 name and extension into a single
// "NAME.EXT"-shaped string using the volume's configured code page,
// trimming the space padding FAT pads both fields with.
func ShortName(raw Raw) (string, error) {
	nameBytes := bytes.TrimRight(raw.Name[:8], " ")
	extBytes := bytes.TrimRight(raw.Name[8:11], " ")

	name, err := codepage.Decode(nameBytes)
	if err != nil {
		return "", err
	}
	if len(extBytes) == 0 {
		return name, nil
	}
	ext, err := codepage.Decode(extBytes)
	if err != nil {
		return "", err
	}
	return name + "." + ext, nil
}

// formatDate packs a time.Time into the FAT date bit layout: bits 0-4 day,
// bits 5-8 month, bits 9-15 year offset from 1980.
func formatDate(t time.Time) uint16 {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	return uint16(t.Day()) | uint16(t.Month())<<5 | uint16(year)<<9
}

// formatTime packs a time.Time into the FAT time bit layout: bits 0-4
// seconds/2, bits 5-10 minutes, bits 11-15 hours.
func formatTime(t time.Time) uint16 {
	return uint16(t.Second()/2) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
}

// TimeFromParts reverses formatDate/formatTime back into a time.Time.
func TimeFromParts(date, clock uint16) time.Time {
	day := int(date & 0x1F)
	month := time.Month((date >> 5) & 0x0F)
	year := 1980 + int(date>>9)

	second := int(clock&0x1F) * 2
	minute := int((clock >> 5) & 0x3F)
	hour := int(clock >> 11)

	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

// CreateShort builds a short directory entry for a new file or directory.
// name must already be the 11-byte padded 8.3 form (see Pack83Name).
func CreateShort(name [11]byte, firstCluster layout.ClusterID, isDirectory bool, size uint32, now time.Time) ([]byte, error) {
	if now.Before(fatEpoch) {
		now = fatEpoch
	}

	var attrs uint8
	if isDirectory {
		attrs = AttrDirectory
	}

	raw := Raw{
		Name:             name,
		Attributes:       attrs,
		CreatedTime:      formatTime(now),
		CreatedDate:      formatDate(now),
		LastAccessDate:   formatDate(now),
		FirstClusterHigh: uint16(uint32(firstCluster) >> 16),
		LastWriteTime:    formatTime(now),
		LastWriteDate:    formatDate(now),
		FirstClusterLow:  uint16(uint32(firstCluster) & 0xFFFF),
		FileSize:         size,
	}

	return EncodeRaw(raw)
}

// EncodeRaw serializes raw back into its 32-byte on-disk form, the inverse
// of DecodeRaw. Used both by CreateShort and by callers patching a single
// field (first-cluster, size) of an existing entry in place.
func EncodeRaw(raw Raw) ([]byte, error) {
	buf := make([]byte, Size)
	w := bytewriter.New(buf)
	if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
		return nil, ferrors.ErrIOFailed.WrapError(err)
	}
	return buf, nil
}

// Pack83Name upper-cases name and right-pads it to the fixed 8-byte name
// and 3-byte extension fields using the volume's code page.
func Pack83Name(name, ext string) ([11]byte, error) {
	var packed [11]byte
	for i := range packed {
		packed[i] = ' '
	}

	encodedName, err := codepage.Encode(name)
	if err != nil {
		return packed, err
	}
	if len(encodedName) > 8 {
		return packed, ferrors.ErrInvalidName.WithMessage(name)
	}
	copy(packed[:8], upper(encodedName))

	if ext != "" {
		encodedExt, err := codepage.Encode(ext)
		if err != nil {
			return packed, err
		}
		if len(encodedExt) > 3 {
			return packed, ferrors.ErrInvalidName.WithMessage(ext)
		}
		copy(packed[8:11], upper(encodedExt))
	}

	return packed, nil
}

func upper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
