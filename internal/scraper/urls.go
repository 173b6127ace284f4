package scraper

import (
	"fmt"
	"strings"
)

// PageURLs expands template for count consecutive page numbers starting at
// first. The template carries a single %d verb.
func PageURLs(template string, first, count int) ([]string, error) {
	if !strings.Contains(template, "%d") {
		return nil, fmt.Errorf("page url template %q must contain %%d", template)
	}
	if count < 0 {
		return nil, fmt.Errorf("page count must be >= 0, got %d", count)
	}
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		urls = append(urls, fmt.Sprintf(template, first+i))
	}
	return urls, nil
}

// DetailURL derives the detail URL for a record id. The template carries a
// single %s verb.
func DetailURL(template, id string) string {
	return fmt.Sprintf(template, id)
}
