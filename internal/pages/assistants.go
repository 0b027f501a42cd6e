package pages

import (
	"context"
	"net/url"
	"time"

	"github.com/kuitang/aihub-e2e/internal/browser"
)

// AssistantsPage is the agent chat page.
type AssistantsPage struct {
	Page
}

const agentSelect = "#agent-dropdown"

func NewAssistantsPage(sess browser.Session, baseURL string) (*AssistantsPage, error) {
	p, err := bind(sess, baseURL, "/assistants")
	if err != nil {
		return nil, err
	}
	return &AssistantsPage{Page: p}, nil
}

func (p *AssistantsPage) Navigate(ctx context.Context) (*AssistantsPage, error) {
	return p, p.open(ctx)
}

func (p *AssistantsPage) Header() browser.Element {
	return p.el(`.compact-header h4, h4:has-text('Agent Chat')`)
}

func (p *AssistantsPage) ChatWindow() browser.Element  { return p.el("#chat-window") }
func (p *AssistantsPage) ChatContent() browser.Element { return p.el("#chat-content") }
func (p *AssistantsPage) Input() browser.Element       { return p.el("#user-input") }

func (p *AssistantsPage) SendButton() browser.Element {
	return p.el(`button:has-text('Send'), button[onclick="sendMessage()"]`)
}

func (p *AssistantsPage) AgentDropdown() browser.Element { return p.el(agentSelect) }

func (p *AssistantsPage) PlaceholderOption() browser.Element {
	return p.el(agentSelect + ` option[value=""]`)
}

func (p *AssistantsPage) ResetButton() browser.Element   { return p.el("#reset-conversation-btn") }
func (p *AssistantsPage) Objective() browser.Element     { return p.el("#objective") }
func (p *AssistantsPage) UserMessages() browser.Element  { return p.el(".user-message, .user-bubble") }
func (p *AssistantsPage) Replies() browser.Element       { return p.el(".content-text") }
func (p *AssistantsPage) SidebarColumn() browser.Element { return p.el(".sidebar-compact, .col-lg-3") }
func (p *AssistantsPage) MainColumn() browser.Element    { return p.el(".col-lg-9") }

// AgentOptions lists the agent selector entries, placeholder included.
func (p *AssistantsPage) AgentOptions(ctx context.Context) ([]Option, error) {
	return OptionTexts(ctx, p.sess, agentSelect)
}

// SelectAgent picks the n-th real agent. Without page scripts the page is
// reopened with the agent preselected, which renders its conversation.
func (p *AssistantsPage) SelectAgent(ctx context.Context, n int) (Option, error) {
	opt, err := SelectNthOption(ctx, p.sess, agentSelect, n)
	if err != nil {
		return Option{}, err
	}
	if !p.sess.SupportsScript() {
		if err := p.sess.Navigate(ctx, p.path+"?agent="+url.QueryEscape(opt.Value)); err != nil {
			return Option{}, err
		}
	}
	return opt, p.sess.WaitForQuiescence(ctx)
}

// SendMessage types text and presses Send.
func (p *AssistantsPage) SendMessage(ctx context.Context, text string) error {
	if err := p.Input().Fill(ctx, text); err != nil {
		return err
	}
	if err := p.SendButton().First().Click(ctx); err != nil {
		return err
	}
	return p.sess.WaitForQuiescence(ctx)
}

// WaitForUserMessage waits for the bubble echoing text.
func (p *AssistantsPage) WaitForUserMessage(ctx context.Context, text string, timeout time.Duration) error {
	return ExpectText(ctx, p.UserMessages().First(), text, timeout)
}

// WaitForReply waits for at least one assistant reply and returns its text.
func (p *AssistantsPage) WaitForReply(ctx context.Context, timeout time.Duration) (string, error) {
	reply := p.Replies().First()
	if err := ExpectVisible(ctx, reply, timeout); err != nil {
		return "", err
	}
	return reply.Text(ctx)
}

// Reset clears the conversation.
func (p *AssistantsPage) Reset(ctx context.Context) error {
	if err := p.ResetButton().Click(ctx); err != nil {
		return err
	}
	return p.sess.WaitForQuiescence(ctx)
}
