package migration

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/casebridge/casebridge/internal/provider"
)

// Limiters bounds the request rate against each provider side. A nil limiter
// means unlimited.
type Limiters struct {
	Source *rate.Limiter
	Target *rate.Limiter
}

// NewLimiters creates limiters from requests-per-second settings; zero
// disables limiting for that side.
func NewLimiters(sourcePerSec, targetPerSec int) *Limiters {
	l := &Limiters{}
	if sourcePerSec > 0 {
		l.Source = rate.NewLimiter(rate.Limit(sourcePerSec), 1)
	}
	if targetPerSec > 0 {
		l.Target = rate.NewLimiter(rate.Limit(targetPerSec), 1)
	}
	return l
}

// WaitSource blocks until the source limiter admits a request.
func (l *Limiters) WaitSource(ctx context.Context) error {
	if l == nil || l.Source == nil {
		return nil
	}
	return l.Source.Wait(ctx)
}

// WaitTarget blocks until the target limiter admits a request.
func (l *Limiters) WaitTarget(ctx context.Context) error {
	if l == nil || l.Target == nil {
		return nil
	}
	return l.Target.Wait(ctx)
}

// countCursor counts IDs by draining a cursor. Used when a provider cannot
// report totals directly; the count is then exact but costs one enumeration.
func countCursor(ctx context.Context, c provider.IDCursor) (int, error) {
	n := 0
	for {
		_, ok, err := c.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}
