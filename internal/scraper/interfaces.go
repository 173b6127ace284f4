package scraper

import (
	"context"
	"time"
)

// Fetcher retrieves a document body. The deadline travels on ctx; any
// transport error, non-success status, or timeout is returned as an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// PageParser extracts the ordered records found on a listing page.
type PageParser interface {
	ParsePage(body []byte) ([]Record, error)
}

// DetailParser extracts the detail fields found on a record's detail page.
type DetailParser interface {
	ParseDetail(body []byte) (map[string]string, error)
}

// Parser handles both page kinds.
type Parser interface {
	PageParser
	DetailParser
}

// PageQueue hands out page URLs exactly once. TryTake never blocks waiting
// for work: ok is false once the queue is drained.
type PageQueue interface {
	TryTake(ctx context.Context) (url string, ok bool, err error)
}

// ResultSink accumulates published records. Append is atomic with respect to
// concurrent callers.
type ResultSink interface {
	Append(records ...Record)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
