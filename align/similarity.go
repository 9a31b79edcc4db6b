package align

// Score returns a substring-style fuzzy similarity between needle and hay
// on a 0..100 scale. It is the edit distance of needle against the
// best-matching region of hay: characters of hay before and after the
// matched region are free, so a fragment that appears approximately
// anywhere inside a paragraph scores high.
//
// Both arguments are expected in corpus.Normalize form. The function is
// pure and deterministic.
//
// Note the known pathology: short needles trivially score 100 against any
// hay that happens to contain them. Callers must gate on needle length
// and scale acceptance thresholds accordingly; Score itself does not.
func Score(needle, hay string) float64 {
	n := []rune(needle)
	h := []rune(hay)
	if len(n) == 0 || len(h) == 0 {
		return 0
	}

	// Standard approximate-substring DP: row 0 is all zeros (a match may
	// begin at any position of hay), the answer is the minimum of the
	// final row (it may end anywhere).
	prev := make([]int, len(h)+1)
	curr := make([]int, len(h)+1)

	for i := 1; i <= len(n); i++ {
		curr[0] = i
		for j := 1; j <= len(h); j++ {
			cost := 1
			if n[i-1] == h[j-1] {
				cost = 0
			}
			d := prev[j-1] + cost          // substitute or match
			if up := prev[j] + 1; up < d { // delete from needle
				d = up
			}
			if left := curr[j-1] + 1; left < d { // insert into needle
				d = left
			}
			curr[j] = d
		}
		prev, curr = curr, prev
	}

	best := prev[0]
	for _, d := range prev[1:] {
		if d < best {
			best = d
		}
	}

	sim := 100 * (1 - float64(best)/float64(len(n)))
	if sim < 0 {
		return 0
	}
	return sim
}
