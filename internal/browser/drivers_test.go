package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
)

// openTestDriver starts the named driver or skips when its browser is not
// installed.
func openTestDriver(t *testing.T, name string) Driver {
	t.Helper()

	if name != config.DriverStatic && testing.Short() {
		t.Skip("browser drivers skipped in short mode")
	}
	cfg := config.Defaults()
	cfg.Driver = name
	cfg.BrowserExecutable = os.Getenv("PLAYWRIGHT_CHROMIUM_EXECUTABLE_PATH")

	d, err := Open(context.Background(), cfg)
	if errs.CodeOf(err) == errs.Unavailable {
		t.Skipf("%s not available: %v", name, err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNavigationCode(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}
	tests := []struct {
		name string
		code errs.Code
		got  errs.Code
	}{
		{"deadline", errs.NavigationTimeout, navigationCode(fmt.Errorf("get: %w", context.DeadlineExceeded))},
		{"refused", errs.Unavailable, navigationCode(refused)},
		{"cdp net error", errs.Unavailable, navigationCode(errors.New("page load error net::ERR_CONNECTION_REFUSED"))},
		{"playwright timeout", errs.NavigationTimeout, playwrightNavigationCode(errors.New("Timeout 15000ms exceeded."))},
		{"playwright refused", errs.Unavailable, playwrightNavigationCode(errors.New("net::ERR_CONNECTION_REFUSED at http://127.0.0.1:9/"))},
	}
	for _, tt := range tests {
		if tt.got != tt.code {
			t.Fatalf("%s: got %s, want %s", tt.name, tt.got, tt.code)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Driver = "netscape"
	_, err := Open(context.Background(), cfg)
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

// The same behaviour is expected from every driver for pages whose
// interactions need no script.
func TestDrivers_Conformance(t *testing.T) {
	srv := newStaticTestServer(t)

	for _, name := range []string{config.DriverStatic, config.DriverPlaywright, config.DriverChromedp} {
		t.Run(name, func(t *testing.T) {
			d := openTestDriver(t, name)
			ctx := context.Background()

			sess, err := d.NewSession(ctx, SessionOptions{
				BaseURL:           srv.URL,
				NavigationTimeout: 10 * time.Second,
				OperationTimeout:  3 * time.Second,
				QuietWindow:       50 * time.Millisecond,
			})
			require.NoError(t, err)
			defer sess.Close()

			require.NoError(t, sess.Navigate(ctx, "/"))
			title, err := sess.Title(ctx)
			require.NoError(t, err)
			assert.Equal(t, "AI Hub - Static Test", title)

			n, err := sess.Locate(`h1:has-text("welcome"), .late`).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			visible, err := sess.Locate("#secret").IsVisible(ctx)
			require.NoError(t, err)
			assert.False(t, visible)

			enabled, err := sess.Locate("#off").IsEnabled(ctx)
			require.NoError(t, err)
			assert.False(t, enabled)

			kind := sess.Locate("#kind")
			require.NoError(t, kind.SelectOption(ctx, "job"))
			v, err := kind.Value(ctx)
			require.NoError(t, err)
			assert.Equal(t, "job", v)

			href, present, err := sess.Locate("a.nav-link").First().Attribute(ctx, "href")
			require.NoError(t, err)
			assert.True(t, present)
			assert.Equal(t, "/second", href)

			_, present, err = sess.Locate("#q").Attribute(ctx, "data-missing")
			require.NoError(t, err)
			assert.False(t, present)

			require.NoError(t, sess.Locate("#q").Fill(ctx, "hello"))
			require.NoError(t, sess.Locate("#go").Click(ctx))
			require.NoError(t, WaitForURL(ctx, sess, func(u string) bool { return u != srv.URL+"/" }, 5*time.Second))
			require.NoError(t, sess.WaitForQuiescence(ctx))
			text, err := sess.Locate("#result").Text(ctx)
			require.NoError(t, err)
			assert.Equal(t, "hello||job", text)

			capture, err := sess.Screenshot(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, capture.Data)
		})
	}
}
