package draw

import (
	"math/rand/v2"
	"slices"
	"sort"
)

// search is a randomized backtracking walk over givers. Givers with fewer
// eligible receivers go first; ties keep their shuffled order.
type search struct {
	g           *graph
	rng         *rand.Rand
	order       []int
	giverTo     []int
	taken       []bool
	steps       int
	maxSteps    int
	avoidMutual bool
}

func newSearch(g *graph, rng *rand.Rand, maxSteps int, avoidMutual bool) *search {
	n := len(g.ids)
	order := rng.Perm(n)
	sort.SliceStable(order, func(i, j int) bool {
		return len(g.adj[order[i]]) < len(g.adj[order[j]])
	})
	giverTo := make([]int, n)
	for i := range giverTo {
		giverTo[i] = -1
	}
	return &search{
		g:           g,
		rng:         rng,
		order:       order,
		giverTo:     giverTo,
		taken:       make([]bool, n),
		maxSteps:    maxSteps,
		avoidMutual: avoidMutual,
	}
}

// run assigns order[pos:] and reports whether it completed. A false result
// either means a dead end or an exhausted budget; the caller only needs to
// know that no assignment was produced.
func (s *search) run(pos int) bool {
	if pos == len(s.order) {
		return true
	}
	giver := s.order[pos]
	candidates := slices.Clone(s.g.adj[giver])
	s.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, receiver := range candidates {
		if s.taken[receiver] {
			continue
		}
		if s.avoidMutual && s.giverTo[receiver] == giver {
			continue
		}
		s.steps++
		if s.steps > s.maxSteps {
			return false
		}
		s.taken[receiver] = true
		s.giverTo[giver] = receiver
		if s.run(pos + 1) {
			return true
		}
		s.taken[receiver] = false
		s.giverTo[giver] = -1
		if s.steps > s.maxSteps {
			return false
		}
	}
	return false
}
