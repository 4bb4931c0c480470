package match

import (
	"strings"
)

// foldForTrigram folds the variations AI cleanup passes commonly
// introduce: curly quotes, long dashes, collapsed whitespace, case.
// Unlike normalize it also lowercases and trims, which is fine here:
// the fold is used only for set-overlap comparison, never for deriving
// offsets.
func foldForTrigram(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		switch r {
		case '‘', '’':
			r = '\''
		case '“', '”':
			r = '"'
		case '–', '—':
			r = '-'
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if lastSpace {
				continue
			}
			lastSpace = true
			r = ' '
		} else {
			lastSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// trigramSet returns the set of character trigrams of the normalized
// string. Strings shorter than three runes contribute themselves.
func trigramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	runes := []rune(foldForTrigram(s))
	if len(runes) < 3 {
		if len(runes) > 0 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// trigramOverlap computes the Jaccard overlap of two trigram sets.
func trigramOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// bestTrigramWindow slides a window the length of target across the
// text and returns the window with the highest trigram overlap.
// Half-window steps keep the scan cheap; exact ties keep the leftmost.
func bestTrigramWindow(text, target string) (start int, overlap float64, ok bool) {
	wLen := len(target)
	if wLen == 0 || len(text) == 0 {
		return 0, 0, false
	}
	if wLen >= len(text) {
		return 0, trigramOverlap(trigramSet(text), trigramSet(target)), true
	}

	targetSet := trigramSet(target)
	step := wLen / 2
	if step < 1 {
		step = 1
	}

	bestStart, bestOverlap := 0, -1.0
	for s := 0; s+wLen <= len(text); s += step {
		if v := trigramOverlap(trigramSet(text[s:s+wLen]), targetSet); v > bestOverlap {
			bestStart, bestOverlap = s, v
		}
	}
	// Cover the tail window the stepped scan may skip.
	if tail := len(text) - wLen; tail > bestStart {
		if v := trigramOverlap(trigramSet(text[tail:]), targetSet); v > bestOverlap {
			bestStart, bestOverlap = tail, v
		}
	}

	return bestStart, bestOverlap, true
}
