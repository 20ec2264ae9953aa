package scraper

import "fmt"

// SyntheticProducts returns the fixed demo dataset served when the
// marketplace cannot be reached at all. It is never cached.
func SyntheticProducts(keyword string) []Product {
	return []Product{
		{
			ID:          1,
			Title:       fmt.Sprintf("Sample product for %q", keyword),
			Price:       "R$ 99,99",
			Rating:      "4.5 stars",
			ReviewCount: "1,234",
			ImageURL:    "https://via.placeholder.com/200x200?text=Sample+Product",
			ProductURL:  "#",
		},
		{
			ID:          2,
			Title:       fmt.Sprintf("Another product for %q", keyword),
			Price:       "R$ 149,99",
			Rating:      "4.0 stars",
			ReviewCount: "567",
			ImageURL:    "https://via.placeholder.com/200x200?text=Product+2",
			ProductURL:  "#",
		},
	}
}
