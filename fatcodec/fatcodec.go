// Package fatcodec reads and writes individual FAT entries for all three FAT
// variants, including FAT12's packed 12-bit-in-3-bytes layout and FAT32's
// reserved top nibble. It knows nothing about journaling or which of the
// image's several FAT copies it is touching; fattables composes those
// concerns on top.
package fatcodec

import (
	"encoding/binary"
	"io"

	ferrors "github.com/ninnikukawaii/fatimage/errors"
	"github.com/ninnikukawaii/fatimage/layout"
)

// EntryAddress returns the absolute byte offset of the FAT entry for cluster
// n within FAT copy fatIndex. For FAT12 this is the address of the 2-byte
// word the entry is packed into, not a byte-aligned entry start.
func EntryAddress(bs *layout.BootSector, n int64, fatIndex int) int64 {
	tableStart := int64(bs.ReservedSectors)*int64(bs.BytesPerSector) +
		int64(fatIndex)*int64(bs.SectorsPerFAT)*int64(bs.BytesPerSector)

	switch bs.Variant {
	case layout.FAT12:
		return tableStart + n + n/2
	case layout.FAT16:
		return tableStart + n*2
	default:
		return tableStart + n*4
	}
}

// ReadEntry reads the raw FAT entry for cluster n from FAT copy fatIndex.
// The returned value is already masked to the variant's significant bits.
// rw is repositioned by the read; callers must not assume its offset is
// preserved across calls.
func ReadEntry(rw io.ReadWriteSeeker, bs *layout.BootSector, n int64, fatIndex int) (uint32, error) {
	addr := EntryAddress(bs, n, fatIndex)

	switch bs.Variant {
	case layout.FAT12:
		word, err := readWord(rw, addr)
		if err != nil {
			return 0, err
		}
		if n%2 == 0 {
			return uint32(word & 0x0FFF), nil
		}
		return uint32(word >> 4), nil

	case layout.FAT16:
		word, err := readWord(rw, addr)
		if err != nil {
			return 0, err
		}
		return uint32(word), nil

	default:
		buf := make([]byte, 4)
		if _, err := rw.Seek(addr, io.SeekStart); err != nil {
			return 0, ferrors.ErrIOFailed.WrapError(err)
		}
		if _, err := io.ReadFull(rw, buf); err != nil {
			return 0, ferrors.ErrIOFailed.WrapError(err)
		}
		return binary.LittleEndian.Uint32(buf) & 0x0FFFFFFF, nil
	}
}

// WriteEntry writes value as the FAT entry for cluster n in FAT copy
// fatIndex. FAT12 performs a read-modify-write of the shared 2-byte word so
// the neighboring cluster's nibble survives; FAT32 preserves the reserved
// top nibble of the existing entry rather than assuming it is zero. rw is
// repositioned by the write.
func WriteEntry(rw io.ReadWriteSeeker, bs *layout.BootSector, n int64, fatIndex int, value uint32) error {
	if value != 0 && bits(value) > bs.Variant.EntryBits() {
		return ferrors.ErrInvalidValue
	}
	addr := EntryAddress(bs, n, fatIndex)

	switch bs.Variant {
	case layout.FAT12:
		word, err := readWord(rw, addr)
		if err != nil {
			return err
		}
		if n%2 == 0 {
			word = (word & 0xF000) | uint16(value&0x0FFF)
		} else {
			word = (word & 0x000F) | (uint16(value&0x0FFF) << 4)
		}
		return writeWord(rw, addr, word)

	case layout.FAT16:
		return writeWord(rw, addr, uint16(value))

	default:
		existing := make([]byte, 4)
		if _, err := rw.Seek(addr, io.SeekStart); err != nil {
			return ferrors.ErrIOFailed.WrapError(err)
		}
		if _, err := io.ReadFull(rw, existing); err != nil {
			return ferrors.ErrIOFailed.WrapError(err)
		}
		reservedNibble := binary.LittleEndian.Uint32(existing) & 0xF0000000

		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, (value&0x0FFFFFFF)|reservedNibble)
		if _, err := rw.Seek(addr, io.SeekStart); err != nil {
			return ferrors.ErrIOFailed.WrapError(err)
		}
		if _, err := rw.Write(buf); err != nil {
			return ferrors.ErrIOFailed.WrapError(err)
		}
		return nil
	}
}

func readWord(rw io.ReadWriteSeeker, addr int64) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := rw.Seek(addr, io.SeekStart); err != nil {
		return 0, ferrors.ErrIOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(rw, buf); err != nil {
		return 0, ferrors.ErrIOFailed.WrapError(err)
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func writeWord(rw io.ReadWriteSeeker, addr int64, word uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, word)
	if _, err := rw.Seek(addr, io.SeekStart); err != nil {
		return ferrors.ErrIOFailed.WrapError(err)
	}
	if _, err := rw.Write(buf); err != nil {
		return ferrors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func bits(v uint32) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}
