package related

import (
	"time"

	"lineage/api/internal/store"
)

// Entry is one related change as shown to a reviewer.
type Entry struct {
	Project         string `json:"project"`
	ChangeKey       string `json:"change_id"`
	ChangeID        int64  `json:"_change_number"`
	PatchSet        int    `json:"_revision_number"`
	CurrentPatchSet int    `json:"_current_revision_number"`
	Status          string `json:"status"`
	Commit          Commit `json:"commit"`
}

type Commit struct {
	Hash    string   `json:"commit"`
	Parents []Parent `json:"parents"`
	Author  Person   `json:"author"`
	Subject string   `json:"subject"`
}

type Parent struct {
	Hash string `json:"commit"`
}

type Person struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

func newEntry(project string, change store.Change, patchSet int, commit store.CommitInfo) Entry {
	parents := make([]Parent, 0, len(commit.Parents))
	for _, p := range commit.Parents {
		parents = append(parents, Parent{Hash: p})
	}
	return Entry{
		Project:         project,
		ChangeKey:       change.Key,
		ChangeID:        change.ID,
		PatchSet:        patchSet,
		CurrentPatchSet: change.CurrentPatchSet,
		Status:          change.Status.Display(),
		Commit: Commit{
			Hash:    commit.Hash,
			Parents: parents,
			Author: Person{
				Name:  commit.Author.Name,
				Email: commit.Author.Email,
				Date:  commit.Author.When,
			},
			Subject: commit.Subject,
		},
	}
}
