package main

import (
	"cmp"
	"slices"
)

// appendPosition is the position of a new child: the caller's value verbatim
// when given, otherwise the end of the sibling range. Siblings are never
// shifted, so duplicates and gaps are possible.
func appendPosition(requested *int, siblings int) int {
	if requested != nil {
		return *requested
	}
	return siblings
}

// sortByPosition orders children ascending by position, keeping insertion
// order among equal positions.
func sortByPosition[T any](items []T, pos func(T) int) {
	slices.SortStableFunc(items, func(a, b T) int { return cmp.Compare(pos(a), pos(b)) })
}

func listPosition(l List) int { return l.Position }
func cardPosition(c Card) int { return c.Position }
