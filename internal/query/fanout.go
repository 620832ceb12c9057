package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/metrics"
)

const defaultSourceTimeout = 10 * time.Second

type sourceResult struct {
	status  evidence.SourceStatus
	items   []evidence.Item
	caveats []string
}

type fetchOutcome struct {
	res evidence.Result
	err error
}

// fetchRound calls every enabled source concurrently. Results come back in
// registration order whatever order the calls finish in.
func (e *Engine) fetchRound(ctx context.Context, q evidence.QueryContext, depth int) []sourceResult {
	results := make([]sourceResult, len(e.sources))

	var g errgroup.Group
	for i, reg := range e.sources {
		i, reg := i, reg
		name := reg.name()
		if !reg.Enabled || reg.Source == nil {
			results[i] = sourceResult{status: evidence.SourceStatus{Source: name, Outcome: evidence.OutcomeDisabled}}
			continue
		}
		g.Go(func() error {
			results[i] = e.callSource(ctx, reg, q, depth)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// callSource runs one adapter under its own deadline. A source that ignores
// its context is abandoned when the deadline passes.
func (e *Engine) callSource(ctx context.Context, reg Registration, q evidence.QueryContext, depth int) sourceResult {
	name := reg.name()
	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchOutcome{err: fmt.Errorf("%w: %s: panic: %v", evidence.ErrSourceUnavailable, name, r)}
			}
		}()
		res, err := reg.Source.Fetch(cctx, q, depth)
		done <- fetchOutcome{res: res, err: err}
	}()

	var out fetchOutcome
	select {
	case out = <-done:
	case <-cctx.Done():
		out = fetchOutcome{err: cctx.Err()}
	}
	metrics.SourceLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	result := sourceResult{status: evidence.SourceStatus{Source: name}}
	switch {
	case out.err != nil && isTimeout(cctx, out.err):
		result.status.Outcome = evidence.OutcomeTimeout
		result.status.Error = out.err.Error()
	case out.err != nil:
		result.status.Outcome = evidence.OutcomeFailed
		result.status.Error = out.err.Error()
	default:
		result.items = e.validItems(name, out.res.Items)
		result.caveats = out.res.Caveats
		result.status.Items = len(result.items)
		result.status.Degraded = out.res.Degraded
		result.status.Outcome = evidence.OutcomeOK
		if len(result.items) == 0 {
			result.status.Outcome = evidence.OutcomeEmpty
		}
	}

	metrics.SourceCalls.WithLabelValues(name, string(result.status.Outcome)).Inc()
	metrics.SourceItems.WithLabelValues(name).Observe(float64(result.status.Items))
	if out.err != nil {
		e.logger.Warn("Source call failed",
			zap.String("source", name),
			zap.String("outcome", string(result.status.Outcome)),
			zap.Int("depth", depth),
			zap.Error(out.err),
		)
	}
	return result
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// validItems drops items that cannot be routed or scored and stamps the
// source name on the rest.
func (e *Engine) validItems(source string, items []evidence.Item) []evidence.Item {
	out := make([]evidence.Item, 0, len(items))
	for _, it := range items {
		if err := evidence.Validate(it); err != nil {
			metrics.MalformedItems.WithLabelValues(source).Inc()
			e.logger.Debug("Dropped malformed item", zap.String("source", source), zap.Error(err))
			continue
		}
		it.Source = source
		out = append(out, it)
	}
	return out
}

// merge keeps a source's earlier result unless the newer round succeeded.
func merge(prev, next []sourceResult) []sourceResult {
	if prev == nil {
		return next
	}
	out := make([]sourceResult, len(prev))
	for i := range prev {
		out[i] = prev[i]
		if i < len(next) && next[i].status.Outcome == evidence.OutcomeOK {
			out[i] = next[i]
		}
	}
	return out
}

func collectItems(results []sourceResult) []evidence.Item {
	var items []evidence.Item
	for _, r := range results {
		items = append(items, r.items...)
	}
	return items
}
