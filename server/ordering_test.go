package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendPosition(t *testing.T) {
	assert.Equal(t, 0, appendPosition(nil, 0))
	assert.Equal(t, 3, appendPosition(nil, 3))

	zero := 0
	assert.Equal(t, 0, appendPosition(&zero, 5), "explicit zero is kept")
	far := 40
	assert.Equal(t, 40, appendPosition(&far, 1))
}

func TestSortByPositionIsStable(t *testing.T) {
	lists := []List{
		{ID: "a", Position: 2},
		{ID: "b", Position: 0},
		{ID: "c", Position: 2},
		{ID: "d", Position: 0},
		{ID: "e", Position: 1},
	}
	sortByPosition(lists, listPosition)

	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = l.ID
	}
	assert.Equal(t, []string{"b", "d", "e", "a", "c"}, ids)
}
