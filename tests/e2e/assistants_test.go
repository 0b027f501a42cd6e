package e2e

import (
	"strings"
	"testing"
	"time"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/harness"
	"github.com/kuitang/aihub-e2e/internal/pages"
)

const (
	userBubbleTimeout = 5 * time.Second
	replyTimeout      = 60 * time.Second
)

// openAssistants signs in and opens the chat page.
func openAssistants(s *harness.Scenario) (*pages.AssistantsPage, error) {
	if err := s.Login(); err != nil {
		return nil, err
	}
	p, err := s.Assistants()
	if err != nil {
		return nil, err
	}
	return p.Navigate(s.Context())
}

// visible expects the first match of each element to be visible.
func visible(s *harness.Scenario, timeout time.Duration, els ...browser.Element) error {
	for _, el := range els {
		if err := pages.ExpectVisible(s.Context(), el.First(), timeout); err != nil {
			return err
		}
	}
	return nil
}

func TestAssistants_PageLoads(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		if !p.IsCurrent() {
			return failf(s, "expected the chat page, session is on %s", s.Session.URL())
		}
		return nil
	})
}

func TestAssistants_Header(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		return pages.ExpectText(s.Context(), p.Header().First(), "Agent Chat", p.Timeout)
	})
}

func TestAssistants_ChatWindow(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, p.ChatWindow(), p.ChatContent())
	})
}

func TestAssistants_MessageInput(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := pages.ExpectVisible(ctx, p.Input(), p.Timeout); err != nil {
			return err
		}
		placeholder, _, err := p.Input().Attribute(ctx, "placeholder")
		if err != nil {
			return err
		}
		if placeholder != "Type your message here..." {
			return failf(s, "message input placeholder is %q", placeholder)
		}
		return nil
	})
}

func TestAssistants_SendButton(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := pages.ExpectVisible(ctx, p.SendButton().First(), p.Timeout); err != nil {
			return err
		}
		return pages.ExpectEnabled(ctx, p.SendButton().First(), true, p.Timeout)
	})
}

func TestAssistants_AgentDropdown(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), p.AgentDropdown(), p.Timeout)
	})
}

func TestAssistants_ResetButton(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		return pages.ExpectText(s.Context(), p.ResetButton(), "Reset", p.Timeout)
	})
}

func TestAssistants_NavigateFromDashboardCard(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		if err := dash.OpenChatWithAI(s.Context()); err != nil {
			return err
		}
		p, err := s.Assistants()
		if err != nil {
			return err
		}
		if !p.IsCurrent() {
			return failf(s, "Chat with AI led to %s", s.Session.URL())
		}
		return pages.ExpectVisible(s.Context(), p.ChatWindow(), p.Timeout)
	})
}

func TestAssistants_NavigateFromSidebar(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		if err := dash.OpenAgentsMenuLink(s.Context(), "Agent Chat"); err != nil {
			return err
		}
		p, err := s.Assistants()
		if err != nil {
			return err
		}
		if !p.IsCurrent() {
			return failf(s, "Agent Chat link led to %s", s.Session.URL())
		}
		return nil
	})
}

func TestAssistants_DropdownHasPlaceholder(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		return pages.ExpectText(s.Context(), p.PlaceholderOption(), "Select an agent", p.Timeout)
	})
}

func TestAssistants_DropdownLoadsAgents(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		opts, err := p.AgentOptions(s.Context())
		if err != nil {
			return err
		}
		agents := 0
		for _, o := range opts {
			if o.Value != "" {
				agents++
			}
		}
		s.Logf("agent selector lists %d agents", agents)
		if agents == 0 {
			return failf(s, "agent selector lists no agents")
		}
		return nil
	})
}

func TestAssistants_SelectingAgent(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		opt, err := p.SelectAgent(ctx, 0)
		if err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.AgentDropdown(), opt.Value, p.Timeout); err != nil {
			return err
		}
		return pages.ExpectFilled(ctx, p.Objective(), p.Timeout)
	})
}

func TestAssistants_CanTypeMessage(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		const text = "Hello, this is a test message"
		if err := p.Input().Fill(ctx, text); err != nil {
			return err
		}
		return pages.ExpectValue(ctx, p.Input(), text, p.Timeout)
	})
}

func TestAssistants_SendRequiresAgent(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := p.SendMessage(ctx, "Nobody is listening"); err != nil {
			return err
		}
		flash := s.Session.Locate(".alert-danger")
		if err := pages.ExpectText(ctx, flash, "select an agent", p.Timeout); err != nil {
			return err
		}
		return pages.ExpectCount(ctx, p.UserMessages(), 0, p.Timeout)
	})
}

func TestAssistants_ResetClearsConversation(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if _, err := p.SelectAgent(ctx, 0); err != nil {
			return err
		}
		if err := p.Reset(ctx); err != nil {
			return err
		}
		if err := p.SendMessage(ctx, "Remember this"); err != nil {
			return err
		}
		if err := p.WaitForUserMessage(ctx, "Remember this", userBubbleTimeout); err != nil {
			return err
		}
		if err := p.Reset(ctx); err != nil {
			return err
		}
		return pages.ExpectCount(ctx, p.UserMessages(), 0, p.Timeout)
	})
}

func TestAssistants_SendMessageAndReceiveReply(t *testing.T) {
	scenario(t, slow, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if _, err := p.SelectAgent(ctx, 0); err != nil {
			return err
		}
		if err := p.Reset(ctx); err != nil {
			return err
		}
		msg := harness.UniqueName("What can you do?")
		if err := p.SendMessage(ctx, msg); err != nil {
			return err
		}
		if err := p.WaitForUserMessage(ctx, msg, userBubbleTimeout); err != nil {
			return err
		}
		reply, err := p.WaitForReply(ctx, replyTimeout)
		if err != nil {
			return err
		}
		if strings.TrimSpace(reply) == "" {
			return failf(s, "assistant reply is empty")
		}
		s.Logf("reply: %.80s", reply)
		return nil
	})
}

func TestAssistants_SidebarVisibleOnDesktop(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		dash, err := s.Dashboard()
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, dash.Sidebar(), p.SidebarColumn())
	})
}

func TestAssistants_ChatAndSidebarLayout(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openAssistants(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := visible(s, p.Timeout, p.SidebarColumn(), p.MainColumn()); err != nil {
			return err
		}
		// The selector sits in the side column, the input in the main one.
		side := s.Session.Locate(".col-lg-3 " + p.AgentDropdown().Selector())
		main := s.Session.Locate(".col-lg-9 " + p.Input().Selector())
		if err := pages.ExpectCount(ctx, side, 1, p.Timeout); err != nil {
			return err
		}
		return pages.ExpectCount(ctx, main, 1, p.Timeout)
	})
}
