package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// pollInterval is how often bounded waits re-check their condition.
const pollInterval = 100 * time.Millisecond

// Strategy is one way of finding an element.
type Strategy struct {
	Name     string
	Selector string
}

// Strategies builds a strategy list whose names are the selectors themselves.
func Strategies(selectors ...string) []Strategy {
	out := make([]Strategy, len(selectors))
	for i, s := range selectors {
		out[i] = Strategy{Name: s, Selector: s}
	}
	return out
}

// ResilientLookup tries each strategy in order and returns the first visible
// match together with the strategy that produced it. Rounds repeat until
// timeout; the error lists every selector tried.
func ResilientLookup(ctx context.Context, sess Session, strategies []Strategy, timeout time.Duration) (Element, Strategy, error) {
	if len(strategies) == 0 {
		return nil, Strategy{}, errs.New(errs.InvalidArgument, "resilient lookup needs at least one strategy")
	}
	logger := obs.From(ctx)

	var found Element
	var winner Strategy
	err := poll(ctx, timeout, func() (bool, error) {
		for _, s := range strategies {
			el := sess.Locate(s.Selector).First()
			visible, err := el.IsVisible(ctx)
			if err != nil {
				if errs.CodeOf(err) == errs.InvalidArgument {
					return false, err
				}
				continue
			}
			if visible {
				found, winner = el, s
				return true, nil
			}
		}
		return false, nil
	})
	if err == nil {
		logger.Debug("resilient lookup matched", "strategy", winner.Name)
		return found, winner, nil
	}
	if errs.CodeOf(err) != errs.NavigationTimeout {
		return nil, Strategy{}, err
	}

	tried := make([]string, len(strategies))
	for i, s := range strategies {
		tried[i] = s.Selector
	}
	return nil, Strategy{}, &errs.Error{
		Code:     errs.ElementNotFound,
		Message:  fmt.Sprintf("no visible element for any of %d strategies within %s", len(strategies), timeout),
		URL:      sess.URL(),
		Selector: strings.Join(tried, " | "),
	}
}

// WaitForURL polls the session address until match accepts it. On timeout
// the error carries the last address observed.
func WaitForURL(ctx context.Context, sess Session, match func(string) bool, timeout time.Duration) error {
	err := poll(ctx, timeout, func() (bool, error) {
		return match(sess.URL()), nil
	})
	if err != nil && errs.CodeOf(err) == errs.NavigationTimeout {
		return errs.AtURL(errs.NavigationTimeout,
			fmt.Sprintf("address did not reach the expected state within %s", timeout), sess.URL(), err)
	}
	return err
}

// poll calls check until it reports done, fails, or timeout elapses. The
// timeout surfaces as navigation_timeout; callers re-code it as needed.
func poll(ctx context.Context, timeout time.Duration, check func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return errs.Wrap(errs.NavigationTimeout, "condition not met before timeout", ctx.Err())
			}
			return ctx.Err()
		}
	}
}
