package pages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/errs"
)

const expectPoll = 100 * time.Millisecond

// Option is one entry of a select control.
type Option struct {
	Value    string
	Label    string
	Disabled bool
}

// OptionTexts lists the options of the select matched by selector.
func OptionTexts(ctx context.Context, sess browser.Session, selector string) ([]Option, error) {
	opts := sess.Locate(selector + " option")
	n, err := opts.Count(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, n)
	for i := 0; i < n; i++ {
		o := opts.Nth(i)
		label, err := o.Text(ctx)
		if err != nil {
			return nil, err
		}
		value, present, err := o.Attribute(ctx, "value")
		if err != nil {
			return nil, err
		}
		if !present {
			value = label
		}
		_, disabled, err := o.Attribute(ctx, "disabled")
		if err != nil {
			return nil, err
		}
		out = append(out, Option{Value: value, Label: label, Disabled: disabled})
	}
	return out, nil
}

// SelectNthOption selects the n-th (zero-based) option of the select matched
// by selector, ignoring placeholder options (empty value) and disabled ones.
// It fails with no_options_available when there is no such option and with
// assertion_failed when the control does not report the selected value.
func SelectNthOption(ctx context.Context, sess browser.Session, selector string, n int) (Option, error) {
	all, err := OptionTexts(ctx, sess, selector)
	if err != nil {
		return Option{}, err
	}
	var usable []Option
	for _, o := range all {
		if o.Value != "" && !o.Disabled {
			usable = append(usable, o)
		}
	}
	if n < 0 || n >= len(usable) {
		return Option{}, &errs.Error{
			Code:     errs.NoOptionsAvailable,
			Message:  fmt.Sprintf("option %d requested but %s has %d usable options", n, selector, len(usable)),
			URL:      sess.URL(),
			Selector: selector,
		}
	}

	want := usable[n]
	sel := sess.Locate(selector)
	if err := sel.SelectOption(ctx, want.Value); err != nil {
		return Option{}, err
	}
	got, err := sel.Value(ctx)
	if err != nil {
		return Option{}, err
	}
	if got != want.Value {
		return Option{}, &errs.Error{
			Code:     errs.AssertionFailed,
			Message:  fmt.Sprintf("selected %q but control reports %q", want.Value, got),
			URL:      sess.URL(),
			Selector: selector,
		}
	}
	return want, nil
}

// ExpectVisible waits for el to become visible.
func ExpectVisible(ctx context.Context, el browser.Element, timeout time.Duration) error {
	if err := el.WaitVisible(ctx, timeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			return err
		}
		return &errs.Error{
			Code:     errs.AssertionFailed,
			Message:  fmt.Sprintf("expected %s to be visible within %s", el.Selector(), timeout),
			URL:      errs.LastURL(err),
			Selector: el.Selector(),
			Err:      err,
		}
	}
	return nil
}

// ExpectHidden waits for el to be hidden or absent.
func ExpectHidden(ctx context.Context, el browser.Element, timeout time.Duration) error {
	if err := el.WaitHidden(ctx, timeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			return err
		}
		return &errs.Error{
			Code:     errs.AssertionFailed,
			Message:  fmt.Sprintf("expected %s to be hidden within %s", el.Selector(), timeout),
			URL:      errs.LastURL(err),
			Selector: el.Selector(),
			Err:      err,
		}
	}
	return nil
}

// ExpectText waits until the text of el contains want (case-insensitive,
// whitespace-normalized).
func ExpectText(ctx context.Context, el browser.Element, want string, timeout time.Duration) error {
	var last string
	return expect(ctx, el, timeout, func() (bool, error) {
		text, err := el.Text(ctx)
		if err != nil {
			return false, err
		}
		last = text
		return browser.TextMatches(text, want), nil
	}, func() string { return fmt.Sprintf("expected %s to contain %q, last text %q", el.Selector(), want, last) })
}

// ExpectEnabled waits until el reports the wanted enabled state.
func ExpectEnabled(ctx context.Context, el browser.Element, want bool, timeout time.Duration) error {
	return expect(ctx, el, timeout, func() (bool, error) {
		enabled, err := el.IsEnabled(ctx)
		if err != nil {
			return false, err
		}
		return enabled == want, nil
	}, func() string { return fmt.Sprintf("expected %s enabled=%t within %s", el.Selector(), want, timeout) })
}

// ExpectFilled waits until the value of el is non-empty.
func ExpectFilled(ctx context.Context, el browser.Element, timeout time.Duration) error {
	return expect(ctx, el, timeout, func() (bool, error) {
		v, err := el.Value(ctx)
		return err == nil && strings.TrimSpace(v) != "", err
	}, func() string { return fmt.Sprintf("expected %s to have a value within %s", el.Selector(), timeout) })
}

// ExpectValue waits until the value of el equals want.
func ExpectValue(ctx context.Context, el browser.Element, want string, timeout time.Duration) error {
	var last string
	return expect(ctx, el, timeout, func() (bool, error) {
		v, err := el.Value(ctx)
		last = v
		return err == nil && v == want, err
	}, func() string { return fmt.Sprintf("expected %s value %q, last %q", el.Selector(), want, last) })
}

// ExpectCount waits until exactly want nodes match el.
func ExpectCount(ctx context.Context, el browser.Element, want int, timeout time.Duration) error {
	var last int
	return expect(ctx, el, timeout, func() (bool, error) {
		n, err := el.Count(ctx)
		if err != nil {
			return false, err
		}
		last = n
		return n == want, nil
	}, func() string { return fmt.Sprintf("expected %d matches for %s, found %d", want, el.Selector(), last) })
}

// expect polls check until it holds. Lookup failures count as "not yet";
// the final error is assertion_failed wrapping the last cause.
func expect(ctx context.Context, el browser.Element, timeout time.Duration, check func() (bool, error), describe func() string) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		ok, err := check()
		if err == nil && ok {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fatal(err) {
				return err
			}
			lastErr = err
		}
		if time.Now().After(deadline) {
			return &errs.Error{
				Code:     errs.AssertionFailed,
				Message:  describe(),
				URL:      errs.LastURL(lastErr),
				Selector: el.Selector(),
				Err:      lastErr,
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(expectPoll):
		}
	}
}

// fatal errors end an expectation at once: retrying cannot fix them.
func fatal(err error) bool {
	switch errs.CodeOf(err) {
	case errs.InvalidArgument, errs.Unsupported:
		return true
	}
	return false
}
