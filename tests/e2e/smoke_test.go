package e2e

import (
	"strings"
	"testing"
	"time"

	"github.com/kuitang/aihub-e2e/internal/harness"
	"github.com/kuitang/aihub-e2e/internal/pages"
)

// maxDashboardLoad bounds the dashboard navigation in TestSmoke_DashboardLoadTime.
const maxDashboardLoad = 10 * time.Second

func TestSmoke_LoginPageLoads(t *testing.T) {
	scenario(t, smoke, func(s *harness.Scenario) error {
		ctx := s.Context()
		login, err := s.LoginPage()
		if err != nil {
			return err
		}
		if _, err := login.Navigate(ctx); err != nil {
			return err
		}
		for _, find := range []func() error{
			func() error { _, err := login.Identifier(ctx); return err },
			func() error { _, err := login.Secret(ctx); return err },
			func() error { _, err := login.Submit(ctx); return err },
		} {
			if err := find(); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestSmoke_LoginPageTitle(t *testing.T) {
	scenario(t, smoke, func(s *harness.Scenario) error {
		ctx := s.Context()
		login, err := s.LoginPage()
		if err != nil {
			return err
		}
		if _, err := login.Navigate(ctx); err != nil {
			return err
		}
		ok, err := login.TitleLooksRight(ctx)
		if err != nil {
			return err
		}
		if !ok {
			title, _ := s.Session.Title(ctx)
			return failf(s, "login page title %q does not name the product", title)
		}
		return nil
	})
}

func TestSmoke_LoginRedirectsToDashboard(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		if err := s.Login(); err != nil {
			return err
		}
		if strings.Contains(s.Session.URL(), s.Env.Config.LoginPath) {
			return failf(s, "still on the login page after signing in")
		}
		dash, err := s.Dashboard()
		if err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), dash.Container(), dash.Timeout)
	})
}

func TestSmoke_SidebarVisible(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), dash.Sidebar().First(), dash.Timeout)
	})
}

func TestSmoke_UserIsLoggedIn(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		n, err := dash.UserIndicators().Count(s.Context())
		if err != nil {
			return err
		}
		if n == 0 {
			return failf(s, "no user menu, avatar or logout link on the dashboard")
		}
		return nil
	})
}

func TestSmoke_DashboardLoads(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		if !dash.IsCurrent() {
			return failf(s, "expected the dashboard, session is on %s", s.Session.URL())
		}
		return pages.ExpectVisible(s.Context(), dash.Container(), dash.Timeout)
	})
}

func TestSmoke_DashboardWelcome(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		text, err := dash.WelcomeText(s.Context())
		if err != nil {
			return err
		}
		if !strings.Contains(strings.ToLower(text), "welcome") {
			return failf(s, "welcome heading reads %q", text)
		}
		return nil
	})
}

func TestSmoke_DashboardQuickActions(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := pages.ExpectVisible(ctx, dash.QuickActions(), dash.Timeout); err != nil {
			return err
		}
		n, err := dash.ActionCards().Count(ctx)
		if err != nil {
			return err
		}
		if n < 2 {
			return failf(s, "expected at least 2 action cards, found %d", n)
		}
		return nil
	})
}

func TestSmoke_ChatWithAIAction(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		if err := dash.OpenChatWithAI(s.Context()); err != nil {
			return err
		}
		if !strings.Contains(s.Session.URL(), "/assistants") {
			return failf(s, "Chat with AI led to %s", s.Session.URL())
		}
		return nil
	})
}

func TestSmoke_AgentsPageAccessible(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		if err := s.Login(); err != nil {
			return err
		}
		p, err := s.Assistants()
		if err != nil {
			return err
		}
		if _, err := p.Navigate(s.Context()); err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), p.Header().First(), p.Timeout)
	})
}

func TestSmoke_JobsPageAccessible(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		if err := s.Login(); err != nil {
			return err
		}
		p, err := s.Jobs()
		if err != nil {
			return err
		}
		if _, err := p.Navigate(s.Context()); err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), p.Header().First(), p.Timeout)
	})
}

func TestSmoke_SidebarDashboardLink(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		ctx := s.Context()
		if err := s.Login(); err != nil {
			return err
		}
		jobs, err := s.Jobs()
		if err != nil {
			return err
		}
		if _, err := jobs.Navigate(ctx); err != nil {
			return err
		}
		dash, err := s.Dashboard()
		if err != nil {
			return err
		}
		if err := dash.ClickNav(ctx, "Dashboard"); err != nil {
			return err
		}
		if !dash.IsCurrent() {
			return failf(s, "Dashboard link led to %s", s.Session.URL())
		}
		return nil
	})
}

func TestSmoke_SidebarToggle(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		collapsed, err := dash.ToggleSidebar(ctx)
		if err != nil {
			return err
		}
		restored, err := dash.ToggleSidebar(ctx)
		if err != nil {
			return err
		}
		if restored == collapsed {
			return failf(s, "second toggle left the sidebar collapsed=%t", restored)
		}
		return nil
	})
}

func TestSmoke_AgentsDropdown(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := dash.OpenAgentsMenu(ctx); err != nil {
			return err
		}
		for _, label := range []string{"Agent Chat", "Agent Builder"} {
			if err := pages.ExpectVisible(ctx, dash.SubmenuLink(label).First(), dash.Timeout); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestSmoke_DashboardLoadTime(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		if err := s.Login(); err != nil {
			return err
		}
		dash, err := s.Dashboard()
		if err != nil {
			return err
		}
		start := time.Now()
		if _, err := dash.Navigate(s.Context()); err != nil {
			return err
		}
		if err := pages.ExpectVisible(s.Context(), dash.Container(), dash.Timeout); err != nil {
			return err
		}
		if elapsed := time.Since(start); elapsed > maxDashboardLoad {
			return failf(s, "dashboard took %s to load (limit %s)", elapsed.Round(time.Millisecond), maxDashboardLoad)
		}
		return nil
	})
}

func TestSmoke_NoConsoleErrorsOnDashboard(t *testing.T) {
	scenario(t, smokeAuth, func(s *harness.Scenario) error {
		s.AssertNoConsoleErrors()
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), dash.Container(), dash.Timeout)
	})
}

// loggedInDashboard signs in and opens the dashboard.
func loggedInDashboard(s *harness.Scenario) (*pages.DashboardPage, error) {
	if err := s.Login(); err != nil {
		return nil, err
	}
	dash, err := s.Dashboard()
	if err != nil {
		return nil, err
	}
	return dash.Navigate(s.Context())
}
