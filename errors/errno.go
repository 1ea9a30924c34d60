// Sentinel error values for the fatimage engine, following the taxonomy in
// spec.md §7: structural errors are handled internally and never reach this
// package; everything else (capacity, argument, format) gets a sentinel here.

package errors

import (
	"fmt"
)

type FatimageError string

// Generic POSIX-ish conditions carried over from the teacher's sentinel set,
// used where the engine's own taxonomy doesn't have a closer match.
const ErrExists = FatimageError("File exists")
const ErrNotFound = FatimageError("No such file or directory")
const ErrIsADirectory = FatimageError("Is a directory")
const ErrNotADirectory = FatimageError("Not a directory")
const ErrInvalidArgument = FatimageError("Invalid argument")
const ErrIOFailed = FatimageError("Input/output error")

// Capacity errors (spec.md §7).
const ErrOutOfSpace = FatimageError("No space left on device")

// Argument errors (spec.md §7).
const ErrInvalidName = FatimageError("invalid directory entry name")
const ErrInvalidValue = FatimageError("FAT entry value exceeds variant bit width")
const ErrInvalidSwap = FatimageError("cannot swap cluster with itself or a bad cluster")
const ErrInvalidRootEdit = FatimageError("cannot relocate the fixed FAT12/16 root directory")

// Format errors (spec.md §7).
const ErrInvalidBoot = FatimageError("boot sector describes zero or fewer data clusters")
const ErrWrongFATCopyIndex = FatimageError("disambiguation callback returned an out-of-range FAT copy index")

func (e FatimageError) Error() string {
	return string(e)
}

func (e FatimageError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e FatimageError) WrapError(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: err,
	}
}
