package related

import (
	"context"
	"errors"
	"fmt"

	"lineage/api/internal/store"
)

const (
	// maxBridgeCommits caps the commits read beyond the candidates' own to
	// connect candidates through history that belongs to no candidate (direct
	// pushes, merged work outside the groups).
	maxBridgeCommits = 256
	// maxBridgeDepth caps how far below a candidate commit such a walk goes.
	maxBridgeDepth = 32
)

// PatchSetData is one sorted (change, patch-set, commit) triple.
type PatchSetData struct {
	Change   store.Change
	PatchSet store.PatchSet
	Commit   store.CommitInfo
}

// ref is a candidate patch-set pointing at a commit.
type ref struct {
	change   int
	patchSet store.PatchSet
}

// node is a commit in the sort arena. Bridge commits carry no refs. Edges are
// arena indices.
type node struct {
	commit   store.CommitInfo
	refs     []ref
	parents  []int
	children []int
}

type patchSetKey struct {
	change int
	number int
}

type arena struct {
	candidates []store.Change
	nodes      []node
	byHash     map[string]int
	byPatchSet map[patchSetKey]int
}

// placement kinds, in output preference order.
const (
	kindDescendant = iota
	kindChain
	kindUnreached
)

// item is the single patch-set chosen to represent a candidate change.
type item struct {
	ref  ref
	node int
	kind int
	rank int
}

// Sort orders candidates relative to base: descendants of base (furthest
// first), then base and its ancestors (closest first), then every candidate
// that is connected to neither. Each change appears once, and no change is
// ever placed after a change whose commit descends from it. Among
// descendants a change is shown with the highest patch-set that was reached;
// unconnected changes use their latest patch-set. Remaining ties keep
// candidate order.
func Sort(ctx context.Context, commits CommitReader, project string, candidates []store.Change, base store.PatchSet) ([]PatchSetData, error) {
	a, err := buildArena(ctx, commits, project, candidates)
	if err != nil {
		return nil, err
	}

	baseChange := -1
	for ci, change := range candidates {
		if change.ID == base.ChangeID {
			baseChange = ci
			break
		}
	}
	start, ok := a.byPatchSet[patchSetKey{change: baseChange, number: base.Number}]
	if byHash, found := a.byHash[base.Commit]; baseChange < 0 || !ok || !found || byHash != start {
		return nil, fmt.Errorf("%w: patch-set %d of change %d (%s) is not among the candidates",
			ErrIntegrity, base.Number, base.ChangeID, base.Commit)
	}
	var baseRef ref
	for _, r := range a.nodes[start].refs {
		if r.change == baseChange && r.patchSet.Number == base.Number {
			baseRef = r
		}
	}

	items := a.walkAncestors(start, baseRef)
	chosen := make(map[int]bool, len(candidates))
	for _, it := range items {
		chosen[it.ref.change] = true
	}

	// Descendants reached from base itself win over those only reachable from
	// other patch-sets of the same change; the latter are shown first.
	direct := a.walkDescendants([]int{start}, chosen)
	for _, it := range direct {
		chosen[it.ref.change] = true
	}
	indirect := a.walkDescendants(a.otherPatchSets(start, baseChange), chosen)
	for _, it := range indirect {
		chosen[it.ref.change] = true
	}
	for i := range direct {
		direct[i].rank += len(indirect)
	}
	items = append(items, indirect...)
	items = append(items, direct...)
	items = append(items, a.unreached(chosen)...)

	order := a.topological(items)
	out := make([]PatchSetData, 0, len(order))
	for _, it := range order {
		out = append(out, PatchSetData{
			Change:   a.candidates[it.ref.change],
			PatchSet: it.ref.patchSet,
			Commit:   a.nodes[it.node].commit,
		})
	}
	return out, nil
}

func buildArena(ctx context.Context, commits CommitReader, project string, candidates []store.Change) (*arena, error) {
	a := &arena{
		candidates: candidates,
		byHash:     make(map[string]int),
		byPatchSet: make(map[patchSetKey]int),
	}
	for ci, change := range candidates {
		for _, ps := range change.PatchSets {
			idx, ok := a.byHash[ps.Commit]
			if !ok {
				info, err := commits.Commit(ctx, project, ps.Commit)
				if err != nil {
					return nil, classify(fmt.Sprintf("read commit %s of change %d patch-set %d", ps.Commit, change.ID, ps.Number), err)
				}
				idx = a.add(ps.Commit, info)
			}
			a.nodes[idx].refs = append(a.nodes[idx].refs, ref{change: ci, patchSet: ps})
			a.byPatchSet[patchSetKey{change: ci, number: ps.Number}] = idx
		}
	}
	if err := a.bridge(ctx, commits, project); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *arena) add(hash string, info store.CommitInfo) int {
	idx := len(a.nodes)
	a.nodes = append(a.nodes, node{commit: info})
	a.byHash[hash] = idx
	return idx
}

func (a *arena) link(child, parent int) {
	a.nodes[child].parents = append(a.nodes[child].parents, parent)
	a.nodes[parent].children = append(a.nodes[parent].children, child)
}

// bridge links every candidate commit to its parents, reading parents that
// belong to no candidate until the walk meets a known commit or runs out of
// depth or budget. Each node's parents are linked exactly once.
func (a *arena) bridge(ctx context.Context, commits CommitReader, project string) error {
	type step struct{ node, depth int }
	budget := maxBridgeCommits
	owned := len(a.nodes)
	for i := 0; i < owned; i++ {
		pending := []step{{node: i}}
		for len(pending) > 0 {
			s := pending[0]
			pending = pending[1:]
			for _, parent := range a.nodes[s.node].commit.Parents {
				if p, ok := a.byHash[parent]; ok {
					a.link(s.node, p)
					continue
				}
				if s.depth >= maxBridgeDepth || budget == 0 {
					continue
				}
				info, err := commits.Commit(ctx, project, parent)
				if errors.Is(err, store.ErrCommitNotFound) {
					// History below a shallow or pruned point.
					continue
				}
				if err != nil {
					return classify(fmt.Sprintf("read commit %s", parent), err)
				}
				budget--
				p := a.add(parent, info)
				a.link(s.node, p)
				pending = append(pending, step{node: p, depth: s.depth + 1})
			}
		}
	}
	return nil
}

// walkAncestors visits start and its ancestors breadth first, first parent
// first, choosing the closest patch-set of every change met.
func (a *arena) walkAncestors(start int, baseRef ref) []item {
	out := []item{{ref: baseRef, node: start, kind: kindChain}}
	seen := map[int]bool{start: true}
	changes := map[int]bool{baseRef.change: true}
	pending := []int{start}
	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]
		for _, r := range a.highestRefs(n) {
			if !changes[r.change] {
				changes[r.change] = true
				out = append(out, item{ref: r, node: n, kind: kindChain, rank: len(out)})
			}
		}
		for _, p := range a.nodes[n].parents {
			if !seen[p] {
				seen[p] = true
				pending = append(pending, p)
			}
		}
	}
	return out
}

// highestRefs returns one ref per change on node n, the highest patch-set
// where a change uploaded the same commit twice.
func (a *arena) highestRefs(n int) []ref {
	var out []ref
	at := make(map[int]int)
	for _, r := range a.nodes[n].refs {
		if i, ok := at[r.change]; ok {
			if r.patchSet.Number > out[i].patchSet.Number {
				out[i] = r
			}
			continue
		}
		at[r.change] = len(out)
		out = append(out, r)
	}
	return out
}

// walkDescendants walks children depth first from starts and lists nodes in
// post-order, so every node follows all of its descendants. Changes in
// chosen are walked through but not returned. A change reached at several
// patch-sets is returned once, at the highest.
func (a *arena) walkDescendants(starts []int, chosen map[int]bool) []item {
	if len(starts) == 0 {
		return nil
	}
	type frame struct{ node, next int }
	visited := make(map[int]bool)
	var post []int
	for _, s := range starts {
		if visited[s] {
			continue
		}
		visited[s] = true
		stack := []frame{{node: s}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := a.nodes[top.node].children
			if top.next < len(children) {
				child := children[top.next]
				top.next++
				if !visited[child] {
					visited[child] = true
					stack = append(stack, frame{node: child})
				}
				continue
			}
			post = append(post, top.node)
			stack = stack[:len(stack)-1]
		}
	}

	best := make(map[int]item)
	for _, n := range post {
		for _, r := range a.nodes[n].refs {
			if chosen[r.change] {
				continue
			}
			if cur, ok := best[r.change]; !ok || r.patchSet.Number > cur.ref.patchSet.Number {
				best[r.change] = item{ref: r, node: n, kind: kindDescendant}
			}
		}
	}

	out := make([]item, 0, len(best))
	for _, n := range post {
		for _, r := range a.nodes[n].refs {
			it, ok := best[r.change]
			if ok && it.node == n && it.ref.patchSet.Number == r.patchSet.Number {
				it.rank = len(out)
				out = append(out, it)
			}
		}
	}
	return out
}

// otherPatchSets lists the nodes of the base change's patch-sets other than
// start, in patch-set order.
func (a *arena) otherPatchSets(start, baseChange int) []int {
	var out []int
	for _, ps := range a.candidates[baseChange].PatchSets {
		n, ok := a.byPatchSet[patchSetKey{change: baseChange, number: ps.Number}]
		if ok && n != start {
			out = append(out, n)
		}
	}
	return out
}

// unreached returns, for every candidate not yet chosen, its latest
// patch-set, ranked by candidate order.
func (a *arena) unreached(chosen map[int]bool) []item {
	var out []item
	for ci, change := range a.candidates {
		if chosen[ci] {
			continue
		}
		latest, ok := change.LatestPatchSet()
		if !ok {
			continue
		}
		n := a.byPatchSet[patchSetKey{change: ci, number: latest.Number}]
		out = append(out, item{ref: ref{change: ci, patchSet: latest}, node: n, kind: kindUnreached, rank: ci})
	}
	return out
}

// topological orders items so that each precedes every item it descends
// from. Among items free to go next the lowest (kind, rank) wins, which
// keeps descendants, then the base chain, then unconnected changes wherever
// ancestry allows.
func (a *arena) topological(items []item) []item {
	ancestors := make(map[int]map[int]bool)
	// blockers[j] counts unplaced items that descend from items[j].
	blockers := make([]int, len(items))
	below := make([][]int, len(items))
	for i, it := range items {
		anc, ok := ancestors[it.node]
		if !ok {
			anc = a.ancestorSet(it.node)
			ancestors[it.node] = anc
		}
		for j, other := range items {
			if i != j && anc[other.node] {
				below[i] = append(below[i], j)
				blockers[j]++
			}
		}
	}

	out := make([]item, 0, len(items))
	placed := make([]bool, len(items))
	for len(out) < len(items) {
		next := -1
		for i, it := range items {
			if placed[i] || blockers[i] > 0 {
				continue
			}
			if next < 0 || before(it, items[next]) {
				next = i
			}
		}
		if next < 0 {
			// Only reachable with a cyclic (corrupt) commit graph.
			for i := range items {
				if !placed[i] {
					next = i
					break
				}
			}
		}
		placed[next] = true
		out = append(out, items[next])
		for _, j := range below[next] {
			blockers[j]--
		}
	}
	return out
}

func before(x, y item) bool {
	if x.kind != y.kind {
		return x.kind < y.kind
	}
	if x.rank != y.rank {
		return x.rank < y.rank
	}
	return x.ref.change < y.ref.change
}

// ancestorSet returns the strict ancestors of n within the arena.
func (a *arena) ancestorSet(n int) map[int]bool {
	out := make(map[int]bool)
	pending := append([]int(nil), a.nodes[n].parents...)
	for len(pending) > 0 {
		m := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if out[m] {
			continue
		}
		out[m] = true
		pending = append(pending, a.nodes[m].parents...)
	}
	return out
}
