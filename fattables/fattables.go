// Package fattables manages an image's (possibly several) copies of the FAT,
// reconciling disagreements between copies per spec.md §5 and broadcasting
// writes to every copy inside a single journaled transaction.
package fattables

import (
	"io"

	ferrors "github.com/ninnikukawaii/fatimage/errors"
	"github.com/ninnikukawaii/fatimage/fatcodec"
	"github.com/ninnikukawaii/fatimage/journal"
	"github.com/ninnikukawaii/fatimage/layout"
)

// Disagreement records one cluster whose FAT copies don't all agree, keyed
// by copy index to the value that copy holds.
type Disagreement struct {
	Cluster int64
	Values  map[int]uint32
}

// Disambiguate is called once per volume open, only if any copies disagree,
// to choose which copy's value is authoritative for every disagreeing
// cluster. It must return an index in [0, NumFATs).
type Disambiguate func(disagreements []Disagreement) (int, error)

// Tables owns read/write access to every FAT copy on an image.
type Tables struct {
	rw   io.ReadWriteSeeker
	bs   *layout.BootSector
	jrnl *journal.Journal
}

// New wraps rw with multi-copy FAT access for the volume described by bs.
func New(rw io.ReadWriteSeeker, bs *layout.BootSector, jrnl *journal.Journal) *Tables {
	return &Tables{rw: rw, bs: bs, jrnl: jrnl}
}

// Read returns the FAT entry for cluster n from copy 0, which is always
// treated as authoritative for reads once Reconcile has run.
func (t *Tables) Read(n int64) (uint32, error) {
	return fatcodec.ReadEntry(t.rw, t.bs, n, 0)
}

// Jrnl exposes the underlying journal so callers that need to compose a
// multi-cluster write (swap's WriteBoth transaction) into one transaction
// frame can drive it directly instead of through Write's own framing.
func (t *Tables) Jrnl() *journal.Journal {
	return t.jrnl
}

// WriteRaw broadcasts value to every FAT copy without opening its own
// journal transaction; callers composing a larger transaction (swap) must
// open and close it themselves around one or more WriteRaw calls.
func (t *Tables) WriteRaw(n int64, value uint32) error {
	for fatIndex := 0; fatIndex < int(t.bs.NumFATs); fatIndex++ {
		if err := fatcodec.WriteEntry(t.rw, t.bs, n, fatIndex, value); err != nil {
			return err
		}
	}
	return nil
}

// Write broadcasts value for cluster n to every FAT copy inside a single
// WriteTable transaction, so a crash mid-broadcast leaves an unclosed
// journal record of the cluster and value being written (the event carries
// no table index; it covers every copy).
func (t *Tables) Write(n int64, value uint32) error {
	if err := t.jrnl.OpenTransaction(journal.WriteTable); err != nil {
		return err
	}
	if err := t.jrnl.Report(journal.Event{ClusterNumber: n, Value: int64Ptr(int64(value))}); err != nil {
		return err
	}
	for fatIndex := 0; fatIndex < int(t.bs.NumFATs); fatIndex++ {
		if err := fatcodec.WriteEntry(t.rw, t.bs, n, fatIndex, value); err != nil {
			return err
		}
	}
	return t.jrnl.CloseTransaction()
}

// Reconcile compares every FAT copy cluster-by-cluster and, for any cluster
// where they disagree, asks choose which copy is authoritative, then
// broadcasts that value to every copy. It must run before any chain walk or
// allocation, since those only ever read copy 0.
func (t *Tables) Reconcile(defaultTable int, choose Disambiguate) error {
	if t.bs.DataClusterCount <= 0 {
		return ferrors.ErrInvalidBoot
	}
	if t.bs.NumFATs < 2 {
		return nil
	}

	var disagreements []Disagreement
	for n := int64(0); n < t.bs.DataClusterCount; n++ {
		reference, err := fatcodec.ReadEntry(t.rw, t.bs, n, 0)
		if err != nil {
			return err
		}

		var diff *Disagreement
		for fatIndex := 1; fatIndex < int(t.bs.NumFATs); fatIndex++ {
			other, err := fatcodec.ReadEntry(t.rw, t.bs, n, fatIndex)
			if err != nil {
				return err
			}
			if other != reference {
				if diff == nil {
					diff = &Disagreement{Cluster: n, Values: map[int]uint32{0: reference}}
				}
				diff.Values[fatIndex] = other
			}
		}
		if diff != nil {
			disagreements = append(disagreements, *diff)
		}
	}

	if len(disagreements) == 0 {
		return nil
	}

	chosen := defaultTable
	if chosen < 0 || chosen >= int(t.bs.NumFATs) {
		if choose == nil {
			return ferrors.ErrWrongFATCopyIndex
		}
		var err error
		chosen, err = choose(disagreements)
		if err != nil {
			return err
		}
		if chosen < 0 || chosen >= int(t.bs.NumFATs) {
			return ferrors.ErrWrongFATCopyIndex
		}
	}

	for _, d := range disagreements {
		value, ok := d.Values[chosen]
		if !ok {
			value = d.Values[0]
		}
		if err := t.Write(d.Cluster, value); err != nil {
			return err
		}
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
