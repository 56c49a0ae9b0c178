package dedup

import (
	"strings"
	"unicode"
)

// KeepFirst drops every item whose key was already seen, preserving order.
// Items with an empty key are always kept.
func KeepFirst[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// Normalize lowercases s, drops punctuation and collapses whitespace, so
// trivially different phrasings of the same sentence compare equal.
func Normalize(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			space = true
		}
	}
	return sb.String()
}

// Similarity is the Jaccard index of the normalized word sets of a and b.
func Similarity(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(Normalize(s)) {
		out[w] = struct{}{}
	}
	return out
}

// Collapse groups items whose text is at least threshold similar, directly or
// through a chain of similar items, and keeps the earliest item of each
// group.
func Collapse[T any](items []T, text func(T) string, threshold float64) []T {
	if len(items) < 2 {
		return items
	}

	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// the lower index survives
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if Similarity(text(items[i]), text(items[j])) >= threshold {
				union(i, j)
			}
		}
	}

	out := make([]T, 0, len(items))
	for i, it := range items {
		if find(i) == i {
			out = append(out, it)
		}
	}
	return out
}
