package catalog

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// productSearchItems implements fuzzy.Source over product titles.
type productSearchItems []*Product

func (items productSearchItems) Len() int {
	return len(items)
}

func (items productSearchItems) String(i int) string {
	return normalizeTitle(items[i].Title)
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// SearchByTitle ranks products against the query with fuzzy matching.
// An empty query returns the input unchanged.
func SearchByTitle(products []*Product, query string) []*Product {
	if query == "" {
		return products
	}

	matches := fuzzy.FindFrom(normalizeTitle(query), productSearchItems(products))
	out := make([]*Product, 0, len(matches))
	for _, m := range matches {
		out = append(out, products[m.Index])
	}
	return out
}
