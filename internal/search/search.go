// Package search keeps the change index used to find candidate related
// changes. Meilisearch is the primary index; Postgres answers when it is
// unavailable.
package search

import (
	"context"
	"sort"

	"lineage/api/internal/store"
)

// ChangeDocument is the data we index for a change.
type ChangeDocument struct {
	ID              int64              `json:"id"`
	Project         string             `json:"project"`
	Key             string             `json:"key"`
	Status          string             `json:"status"`
	CurrentPatchSet int                `json:"currentPatchSet"`
	Groups          []string           `json:"groups"`
	PatchSets       []PatchSetDocument `json:"patchSets"`
}

type PatchSetDocument struct {
	Number int      `json:"number"`
	Commit string   `json:"commit"`
	Groups []string `json:"groups"`
}

// Querier finds the changes of a project that carry any of groups.
type Querier interface {
	QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]store.Change, error)
}

// Primary is an index that can fail independently of the store.
type Primary interface {
	Querier
	Healthy() bool
	IndexChanges(ctx context.Context, docs []ChangeDocument) error
	DeleteChange(ctx context.Context, id int64) error
}

// DocumentFromChange flattens a change for indexing. Groups is the union of
// its patch-set groups so a single filter matches any of them.
func DocumentFromChange(c store.Change) ChangeDocument {
	doc := ChangeDocument{
		ID:              c.ID,
		Project:         c.Project,
		Key:             c.Key,
		Status:          string(c.Status),
		CurrentPatchSet: c.CurrentPatchSet,
		Groups:          []string{},
		PatchSets:       make([]PatchSetDocument, 0, len(c.PatchSets)),
	}
	seen := make(map[string]struct{})
	for _, ps := range c.PatchSets {
		groups := ps.Groups
		if groups == nil {
			groups = []string{}
		}
		doc.PatchSets = append(doc.PatchSets, PatchSetDocument{Number: ps.Number, Commit: ps.Commit, Groups: groups})
		indexed := ps.Groups
		if len(indexed) == 0 && ps.Commit != "" {
			indexed = []string{ps.Commit}
		}
		for _, g := range indexed {
			if _, ok := seen[g]; ok || g == "" {
				continue
			}
			seen[g] = struct{}{}
			doc.Groups = append(doc.Groups, g)
		}
	}
	sort.Strings(doc.Groups)
	return doc
}

// Change rebuilds the indexed view of a change. It may lag the store.
func (d ChangeDocument) Change() store.Change {
	c := store.Change{
		ID:              d.ID,
		Project:         d.Project,
		Key:             d.Key,
		Status:          store.Status(d.Status),
		CurrentPatchSet: d.CurrentPatchSet,
		PatchSets:       make([]store.PatchSet, 0, len(d.PatchSets)),
	}
	for _, ps := range d.PatchSets {
		c.PatchSets = append(c.PatchSets, store.PatchSet{
			ChangeID: d.ID,
			Number:   ps.Number,
			Commit:   ps.Commit,
			Groups:   ps.Groups,
		})
	}
	return c
}
