package store

import (
	"strings"
	"time"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusMerged    Status = "merged"
	StatusAbandoned Status = "abandoned"
)

// Display is the upper-case form used in API responses.
func (s Status) Display() string {
	return strings.ToUpper(string(s))
}

// Change is the authoritative record of a tracked change together with its
// patch-sets, ordered by patch-set number.
type Change struct {
	ID              int64
	Project         string
	Key             string
	Status          Status
	CurrentPatchSet int
	PatchSets       []PatchSet
}

// PatchSet returns the patch-set with the given number.
func (c Change) PatchSet(number int) (PatchSet, bool) {
	for _, ps := range c.PatchSets {
		if ps.Number == number {
			return ps, true
		}
	}
	return PatchSet{}, false
}

// LatestPatchSet returns the highest-numbered patch-set.
func (c Change) LatestPatchSet() (PatchSet, bool) {
	var latest PatchSet
	found := false
	for _, ps := range c.PatchSets {
		if !found || ps.Number > latest.Number {
			latest = ps
			found = true
		}
	}
	return latest, found
}

type PatchSet struct {
	ChangeID int64
	Number   int
	Commit   string
	Groups   []string
}

// Edit is an unpublished working commit a user keeps on top of a patch-set.
type Edit struct {
	ChangeID     int64
	Account      string
	BasePatchSet int
	Commit       string
}

type Person struct {
	Name  string
	Email string
	When  time.Time
}

type CommitInfo struct {
	Hash    string
	Parents []string
	Author  Person
	Subject string
}
