package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchByTitle(t *testing.T) {
	products := []*Product{
		{ID: "p1", Title: "Vintage Leica Camera"},
		{ID: "p2", Title: "Film Scanner"},
		{ID: "p3", Title: "Vintage Typewriter"},
	}

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{name: "empty query returns everything", query: "", wantIDs: []string{"p1", "p2", "p3"}},
		{name: "exact word", query: "scanner", wantIDs: []string{"p2"}},
		{name: "partial fuzzy match", query: "vntage", wantIDs: []string{"p1", "p3"}},
		{name: "case insensitive", query: "LEICA", wantIDs: []string{"p1"}},
		{name: "no match", query: "bicycle", wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SearchByTitle(products, tt.query)
			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestSearchByTitleNormalizesWhitespace(t *testing.T) {
	products := []*Product{
		{ID: "p1", Title: "  Vintage   Leica  Camera "},
	}

	got := SearchByTitle(products, "vintage leica")
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}
