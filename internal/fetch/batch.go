package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// maxInFlight bounds concurrent source fetches per batch.
const maxInFlight = 16

// Result pairs one source URL with its fetched text or failure. Results are
// returned in submission order regardless of completion order, so network
// races never leak into aggregate ordering.
type Result struct {
	URL  string
	Text string
	Err  error
}

// FetchAll retrieves every URL concurrently. A failing source never aborts
// the batch; callers decide what an all-failed batch means. The only error
// returned here is context cancellation.
func FetchAll(ctx context.Context, urls []string, opt Options) ([]Result, error) {
	results := make([]Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for i, u := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := FetchText(gctx, u, opt)
			results[i] = Result{URL: u, Text: text, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
