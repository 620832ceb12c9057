package evidence

import (
	"context"
	"errors"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoSources         = errors.New("no evidence sources configured")
)

// Result is what a source returns for one query.
// Degraded marks results carrying fallback values, such as identifiers in
// place of labels, that a later call may be able to improve.
type Result struct {
	Items    []Item
	Caveats  []string
	Degraded bool
}

// Source is an evidence adapter. depth is the retrieval multiplier: 1 on the
// first round, larger when the controller widens retrieval.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q QueryContext, depth int) (Result, error)
}
