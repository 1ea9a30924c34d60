// Package journal implements the write-ahead log described in spec.md §4.3:
// an append-only, UTF-8, LF-delimited log of FAT/cluster mutations, keyed to
// an image path, replayed on open so a crash mid-transaction is detectable
// and the affected cluster can be routed to repair instead of trusted.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ferrors "github.com/ninnikukawaii/fatimage/errors"
)

// TransactionKind identifies the shape of mutation a transaction frame
// records, matching the wire values in spec.md §6.
type TransactionKind int

const (
	WriteTable TransactionKind = iota
	WriteCluster
	WriteBoth
)

// DefaultFilename is used when no journal path is supplied, matching the
// original implementation's default.
const DefaultFilename = "fat_journal.log"

// Event is a single journaled mutation. Value and Table are nil when the
// corresponding JSON field is null.
type Event struct {
	ClusterNumber int64  `json:"cluster_number"`
	Value         *int64 `json:"value"`
	Table         *int   `json:"table"`
}

// Frame is one transaction: its kind plus the events recorded under it
// before it closed (or, for an unclosed frame found on replay, before the
// log ran out).
type Frame struct {
	Kind   TransactionKind
	Events []Event
}

// Journal is an append-only write-ahead log for a single open image.
type Journal struct {
	imagePath string
	filename  string
	handle    *os.File
}

// Open opens (or creates) the journal at journalPath (DefaultFilename if
// empty), keyed to imagePath. If a prior log exists and its first line
// matches imagePath, every transaction frame left open when the log ends is
// returned as an unclosed Frame — spec.md's crash-recovery signal that the
// clusters it touched are suspect. The log is then truncated and re-captured
// with the image path line, ready for new transactions.
func Open(imagePath, journalPath string) (*Journal, []Frame, error) {
	filename := journalPath
	if filename == "" {
		filename = DefaultFilename
	}

	var unclosed []Frame

	if _, err := os.Stat(filename); err == nil {
		existing, err := os.Open(filename)
		if err != nil {
			return nil, nil, ferrors.ErrIOFailed.WrapError(err)
		}
		unclosed, err = replay(existing, imagePath)
		existing.Close()
		if err != nil {
			return nil, nil, err
		}
	}

	handle, err := os.Create(filename)
	if err != nil {
		return nil, nil, ferrors.ErrIOFailed.WrapError(err)
	}

	j := &Journal{imagePath: imagePath, filename: filename, handle: handle}
	if _, err := fmt.Fprintln(handle, imagePath); err != nil {
		handle.Close()
		return nil, nil, ferrors.ErrIOFailed.WrapError(err)
	}

	return j, unclosed, nil
}

func replay(r *os.File, imagePath string) ([]Frame, error) {
	scanner := bufio.NewScanner(r)
	var stack []Frame

	first := true
	for scanner.Scan() {
		line := scanner.Text()

		if first {
			first = false
			if line != imagePath {
				// Foreign journal (different image, or corrupted header):
				// nothing in it applies to this image.
				break
			}
			continue
		}

		switch {
		case line == "CLOSED":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case strings.HasPrefix(line, "TRANSACTION "):
			var kind int
			if _, err := fmt.Sscanf(line, "TRANSACTION %d", &kind); err != nil {
				return nil, ferrors.ErrIOFailed.WithMessage("malformed journal transaction header")
			}
			stack = append(stack, Frame{Kind: TransactionKind(kind)})
		default:
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				return nil, ferrors.ErrIOFailed.WithMessage("malformed journal event")
			}
			if len(stack) == 0 {
				return nil, ferrors.ErrIOFailed.WithMessage("journal event outside any transaction")
			}
			stack[len(stack)-1].Events = append(stack[len(stack)-1].Events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ferrors.ErrIOFailed.WrapError(err)
	}

	if len(stack) == 0 {
		return nil, nil
	}
	return stack, nil
}

// OpenTransaction records the start of a new transaction frame. Frames may
// nest; each nested OpenTransaction/CloseTransaction pair pushes and pops a
// frame off the same stack a replaying reader reconstructs.
func (j *Journal) OpenTransaction(kind TransactionKind) error {
	_, err := fmt.Fprintf(j.handle, "TRANSACTION %d\n", int(kind))
	if err != nil {
		return ferrors.ErrIOFailed.WrapError(err)
	}
	return nil
}

// Report records one mutation event under the currently open transaction.
func (j *Journal) Report(event Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return ferrors.ErrIOFailed.WrapError(err)
	}
	if _, err := fmt.Fprintf(j.handle, "%s\n", encoded); err != nil {
		return ferrors.ErrIOFailed.WrapError(err)
	}
	return nil
}

// CloseTransaction records that the currently open transaction completed.
// Ordering matters: this line must only be written once every mutation the
// transaction covers has actually been issued against the image, or replay
// would wrongly treat a torn write as clean.
func (j *Journal) CloseTransaction() error {
	if _, err := fmt.Fprintln(j.handle, "CLOSED"); err != nil {
		return ferrors.ErrIOFailed.WrapError(err)
	}
	return nil
}

// Close releases the journal's file handle.
func (j *Journal) Close() error {
	return j.handle.Close()
}
