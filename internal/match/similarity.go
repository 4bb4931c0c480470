package match

import (
	"github.com/agnivade/levenshtein"
)

// similarity returns the normalized edit-distance similarity of two
// strings: 1 − distance/max(len), clamped to [0,1]. Lengths are in
// runes to match the distance metric.
func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1.0
	}
	max := la
	if lb > max {
		max = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	sim := 1.0 - float64(dist)/float64(max)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// bestWindow slides a window the length of target across text[lo:hi]
// and returns the start of the window with the highest edit-distance
// similarity. A coarse pass (quarter-window step) narrows the region,
// then a fine pass refines to single-byte steps around the coarse best.
// Exact ties keep the leftmost window for determinism.
func bestWindow(text, target string, lo, hi int) (start int, sim float64, ok bool) {
	wLen := len(target)
	if wLen == 0 {
		return 0, 0, false
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if hi-lo < wLen {
		// Window longer than the search span: compare against the whole
		// span so heavily truncated regions still score.
		if hi <= lo {
			return 0, 0, false
		}
		return lo, similarity(text[lo:hi], target), true
	}

	step := wLen / 4
	if step < 1 {
		step = 1
	}

	bestStart, bestSim := lo, -1.0
	for s := lo; s+wLen <= hi; s += step {
		if v := similarity(text[s:s+wLen], target); v > bestSim {
			bestStart, bestSim = s, v
		}
	}

	// Fine pass around the coarse best.
	fineLo := bestStart - step
	if fineLo < lo {
		fineLo = lo
	}
	fineHi := bestStart + step
	for s := fineLo; s <= fineHi && s+wLen <= hi; s++ {
		if v := similarity(text[s:s+wLen], target); v > bestSim {
			bestStart, bestSim = s, v
		}
	}

	return bestStart, bestSim, true
}
