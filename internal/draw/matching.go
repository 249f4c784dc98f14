package draw

import "math/rand/v2"

// maxMatching finds a maximum matching between givers and receivers of the
// compatibility graph using augmenting paths. giverTo[g] is -1 for an
// unmatched giver. Visiting order is randomized so the matching doubles as
// a random-ish assignment when the search budget runs out.
func maxMatching(adj [][]int, rng *rand.Rand) (giverTo []int, size int) {
	n := len(adj)
	giverTo = make([]int, n)
	receiverFrom := make([]int, n)
	for i := range n {
		giverTo[i] = -1
		receiverFrom[i] = -1
	}

	seen := make([]bool, n)
	var augment func(g int) bool
	augment = func(g int) bool {
		for _, r := range adj[g] {
			if seen[r] {
				continue
			}
			seen[r] = true
			if receiverFrom[r] < 0 || augment(receiverFrom[r]) {
				receiverFrom[r] = g
				giverTo[g] = r
				return true
			}
		}
		return false
	}

	for _, g := range rng.Perm(n) {
		clear(seen)
		if augment(g) {
			size++
		}
	}
	return giverTo, size
}
