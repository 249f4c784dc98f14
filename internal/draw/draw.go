// Package draw computes Secret Santa assignments.
//
// An assignment maps every participant (giver) to exactly one other
// participant (receiver) so that everybody receives exactly one gift, nobody
// draws themselves and no restricted giver/receiver pair is used. The
// package is pure: it performs no I/O and keeps no state between calls, so
// it is safe for concurrent use as long as callers do not share Options.Rand.
//
// ErrUnsolvable is only reported after a maximum matching proved that no
// assignment exists. The randomized search budget never produces it.
package draw

import (
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/samber/lo"
)

// DefaultMaxSteps bounds the randomized backtracking search.
const DefaultMaxSteps = 100000

// Exclusion forbids Giver from drawing Receiver.
type Exclusion struct {
	Giver    int64
	Receiver int64
}

// Pair is one giver and the receiver they drew.
type Pair struct {
	Giver    int64
	Receiver int64
}

// Assignment maps giver to receiver.
type Assignment map[int64]int64

// Pairs returns the assignment ordered by giver id.
func (a Assignment) Pairs() []Pair {
	pairs := make([]Pair, 0, len(a))
	for giver, receiver := range a {
		pairs = append(pairs, Pair{Giver: giver, Receiver: receiver})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Giver < pairs[j].Giver })
	return pairs
}

// Options tunes a draw; the zero value is a valid default.
type Options struct {
	// MaxSteps caps the backtracking search, DefaultMaxSteps when zero.
	MaxSteps int
	// Symmetric makes every exclusion (a, b) also forbid (b, a).
	Symmetric bool
	// AvoidMutual rejects a→b together with b→a during the randomized
	// search in draws of three or more. It is a preference: when the budget
	// is exhausted the fallback matching may still contain such pairs.
	AvoidMutual bool
	// Rand makes draws reproducible. Must not be shared between goroutines.
	Rand *rand.Rand
}

func (o Options) maxSteps() int {
	if o.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return o.MaxSteps
}

func (o Options) rng() *rand.Rand {
	if o.Rand != nil {
		return o.Rand
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// graph is the compatibility graph over participant indexes.
type graph struct {
	ids       []int64
	index     map[int64]int
	forbidden [][]bool
	adj       [][]int
}

func newGraph(participants []int64, exclusions []Exclusion, symmetric bool) (*graph, error) {
	if len(participants) < 2 {
		return nil, invalidInput("at least 2 participants required, got %d", len(participants))
	}
	if dup := lo.FindDuplicates(participants); len(dup) > 0 {
		return nil, invalidInput("duplicate participants %v", dup)
	}

	n := len(participants)
	g := &graph{
		ids:       slices.Clone(participants),
		index:     make(map[int64]int, n),
		forbidden: make([][]bool, n),
		adj:       make([][]int, n),
	}
	for i, id := range g.ids {
		g.index[id] = i
		g.forbidden[i] = make([]bool, n)
		g.forbidden[i][i] = true
	}

	for _, e := range exclusions {
		giver, ok := g.index[e.Giver]
		if !ok {
			return nil, invalidInput("restriction references unknown giver %d", e.Giver)
		}
		receiver, ok := g.index[e.Receiver]
		if !ok {
			return nil, invalidInput("restriction references unknown receiver %d", e.Receiver)
		}
		g.forbidden[giver][receiver] = true
		if symmetric {
			g.forbidden[receiver][giver] = true
		}
	}

	for giver := range n {
		for receiver := range n {
			if !g.forbidden[giver][receiver] {
				g.adj[giver] = append(g.adj[giver], receiver)
			}
		}
	}
	return g, nil
}

// check runs the degree pre-check and the matching feasibility proof. On
// success it returns a perfect matching usable as a fallback assignment.
func (g *graph) check(rng *rand.Rand) ([]int, error) {
	n := len(g.ids)
	indegree := make([]int, n)
	var noReceivers, noGivers []int64
	for giver, receivers := range g.adj {
		if len(receivers) == 0 {
			noReceivers = append(noReceivers, g.ids[giver])
		}
		for _, r := range receivers {
			indegree[r]++
		}
	}
	for receiver, d := range indegree {
		if d == 0 {
			noGivers = append(noGivers, g.ids[receiver])
		}
	}
	if len(noReceivers) > 0 || len(noGivers) > 0 {
		return nil, &UnsolvableError{Participants: n, NoReceivers: noReceivers, NoGivers: noGivers}
	}

	for _, receivers := range g.adj {
		rng.Shuffle(len(receivers), func(i, j int) { receivers[i], receivers[j] = receivers[j], receivers[i] })
	}
	giverTo, size := maxMatching(g.adj, rng)
	if size < n {
		return nil, &UnsolvableError{Participants: n, Matched: size}
	}
	return giverTo, nil
}

func (g *graph) assignment(giverTo []int) Assignment {
	a := make(Assignment, len(giverTo))
	for giver, receiver := range giverTo {
		a[g.ids[giver]] = g.ids[receiver]
	}
	return a
}

// Assign draws a random assignment. It fails with ErrInvalidInput for bad
// input and with an *UnsolvableError (matching ErrUnsolvable) when the
// restrictions leave no valid assignment. participants and exclusions are
// not modified.
func Assign(participants []int64, exclusions []Exclusion, opts Options) (Assignment, error) {
	g, err := newGraph(participants, exclusions, opts.Symmetric)
	if err != nil {
		return nil, err
	}
	rng := opts.rng()
	fallback, err := g.check(rng)
	if err != nil {
		return nil, err
	}

	s := newSearch(g, rng, opts.maxSteps(), opts.AvoidMutual && len(g.ids) > 2)
	if s.run(0) {
		return g.assignment(s.giverTo), nil
	}
	return g.assignment(fallback), nil
}

// Feasible reports whether any valid assignment exists, without drawing one.
func Feasible(participants []int64, exclusions []Exclusion, opts Options) error {
	g, err := newGraph(participants, exclusions, opts.Symmetric)
	if err != nil {
		return err
	}
	_, err = g.check(opts.rng())
	return err
}

// Validate checks an assignment against the participants and exclusions.
func Validate(participants []int64, exclusions []Exclusion, a Assignment, opts Options) error {
	g, err := newGraph(participants, exclusions, opts.Symmetric)
	if err != nil {
		return err
	}
	if len(a) != len(g.ids) {
		return invalidAssignment("%d pairs for %d participants", len(a), len(g.ids))
	}
	received := make(map[int64]int64, len(a))
	for giverID, receiverID := range a {
		giver, ok := g.index[giverID]
		if !ok {
			return invalidAssignment("unknown giver %d", giverID)
		}
		receiver, ok := g.index[receiverID]
		if !ok {
			return invalidAssignment("unknown receiver %d", receiverID)
		}
		if giver == receiver {
			return invalidAssignment("%d draws themselves", giverID)
		}
		if g.forbidden[giver][receiver] {
			return invalidAssignment("%d is not allowed to draw %d", giverID, receiverID)
		}
		if other, dup := received[receiverID]; dup {
			return invalidAssignment("%d is drawn by both %d and %d", receiverID, other, giverID)
		}
		received[receiverID] = giverID
	}
	return nil
}
