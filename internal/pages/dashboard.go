package pages

import (
	"context"
	"fmt"
	"strings"

	"github.com/kuitang/aihub-e2e/internal/browser"
)

// LandmarkStrategies identify an authenticated page. Any one of them being
// visible means sign-in succeeded.
var LandmarkStrategies = browser.Strategies(
	".dashboard-container",
	".welcome-section",
	".welcome-free",
	"h1:has-text('Welcome')",
	".new-sidebar",
)

// DashboardPage is the landing page after sign-in.
type DashboardPage struct {
	Page
}

func NewDashboardPage(sess browser.Session, baseURL string) (*DashboardPage, error) {
	p, err := bind(sess, baseURL, "/")
	if err != nil {
		return nil, err
	}
	return &DashboardPage{Page: p}, nil
}

func (p *DashboardPage) Navigate(ctx context.Context) (*DashboardPage, error) {
	return p, p.open(ctx)
}

func (p *DashboardPage) Container() browser.Element { return p.el(".dashboard-container") }

func (p *DashboardPage) WelcomeHeading() browser.Element {
	return p.el(`.welcome-section h1, .welcome-free h1, h1:has-text('Welcome')`)
}

func (p *DashboardPage) QuickActions() browser.Element { return p.el(".action-grid") }
func (p *DashboardPage) ActionCards() browser.Element  { return p.el(".action-card") }

func (p *DashboardPage) ChatWithAICard() browser.Element {
	return p.el(`.action-grid a.action-card:has-text("Chat with AI")`)
}

func (p *DashboardPage) ManageAgentsCard() browser.Element {
	return p.el(`.action-grid a.action-card:has-text("Manage Agents")`)
}

func (p *DashboardPage) NewChatLink() browser.Element {
	return p.el(`a:has-text("New Chat"), a:has-text("Chat with AI")`)
}

func (p *DashboardPage) CreateAgentLink() browser.Element {
	return p.el(`a:has-text("Create Agent"), a:has-text("Manage Agents")`)
}

func (p *DashboardPage) ScheduledJobsLink() browser.Element {
	return p.el(`.dashboard-section:has-text("Scheduled Jobs") a:has-text("Manage")`)
}

func (p *DashboardPage) Sidebar() browser.Element       { return p.el(".new-sidebar, #newSidebar") }
func (p *DashboardPage) SidebarToggle() browser.Element { return p.el(".new-sidebar-toggle") }

// NavLink is a top-level sidebar entry by its label.
func (p *DashboardPage) NavLink(label string) browser.Element {
	return p.el(fmt.Sprintf(`.new-nav-link:has-text(%q)`, label))
}

func (p *DashboardPage) AgentsDropdown() browser.Element {
	return p.el(`.new-nav-dropdown:has-text("AI Agents") > .new-nav-link`)
}

func (p *DashboardPage) AgentsSubmenu() browser.Element { return p.el("#agentsSubmenu") }

// SubmenuLink is an entry of the AI Agents submenu.
func (p *DashboardPage) SubmenuLink(label string) browser.Element {
	return p.el(fmt.Sprintf(`#agentsSubmenu a:has-text(%q)`, label))
}

func (p *DashboardPage) UserIndicators() browser.Element {
	return p.el(`.new-user-dropdown, .user-menu, .tier-info-badge, .user-avatar, a[href*='logout']`)
}

// WelcomeText returns the welcome heading text.
func (p *DashboardPage) WelcomeText(ctx context.Context) (string, error) {
	h := p.WelcomeHeading().First()
	if err := ExpectVisible(ctx, h, p.Timeout); err != nil {
		return "", err
	}
	return h.Text(ctx)
}

// ClickNewChat follows the first chat link and waits for the next page.
func (p *DashboardPage) ClickNewChat(ctx context.Context) error {
	return p.follow(ctx, p.NewChatLink().First())
}

// ClickCreateAgent follows the first agent management link.
func (p *DashboardPage) ClickCreateAgent(ctx context.Context) error {
	return p.follow(ctx, p.CreateAgentLink().First())
}

// ClickNav follows a sidebar link by label.
func (p *DashboardPage) ClickNav(ctx context.Context, label string) error {
	return p.follow(ctx, p.NavLink(label).First())
}

// OpenChatWithAI follows the "Chat with AI" action card.
func (p *DashboardPage) OpenChatWithAI(ctx context.Context) error {
	return p.follow(ctx, p.ChatWithAICard().First())
}

// OpenManageAgents follows the "Manage Agents" action card.
func (p *DashboardPage) OpenManageAgents(ctx context.Context) error {
	return p.follow(ctx, p.ManageAgentsCard().First())
}

// OpenScheduledJobs follows the Manage link of the scheduled jobs section.
func (p *DashboardPage) OpenScheduledJobs(ctx context.Context) error {
	return p.follow(ctx, p.ScheduledJobsLink().First())
}

// OpenAgentsMenuLink expands the AI Agents submenu and follows one of its
// entries.
func (p *DashboardPage) OpenAgentsMenuLink(ctx context.Context, label string) error {
	if err := p.OpenAgentsMenu(ctx); err != nil {
		return err
	}
	link := p.SubmenuLink(label).First()
	if err := ExpectVisible(ctx, link, p.Timeout); err != nil {
		return err
	}
	return p.follow(ctx, link)
}

func (p *DashboardPage) IsSidebarVisible(ctx context.Context) (bool, error) {
	return p.Sidebar().First().IsVisible(ctx)
}

// SidebarCollapsed reports whether the sidebar carries the collapsed class.
func (p *DashboardPage) SidebarCollapsed(ctx context.Context) (bool, error) {
	class, _, err := p.Sidebar().First().Attribute(ctx, "class")
	if err != nil {
		return false, err
	}
	for _, c := range strings.Fields(class) {
		if c == "collapsed" {
			return true, nil
		}
	}
	return false, nil
}

// ToggleSidebar clicks the sidebar toggle and returns the new collapsed
// state once it differs from the old one.
func (p *DashboardPage) ToggleSidebar(ctx context.Context) (bool, error) {
	before, err := p.SidebarCollapsed(ctx)
	if err != nil {
		return false, err
	}
	if err := p.SidebarToggle().First().Click(ctx); err != nil {
		return false, err
	}
	var after bool
	err = expect(ctx, p.Sidebar(), p.Timeout, func() (bool, error) {
		after, err = p.SidebarCollapsed(ctx)
		return err == nil && after != before, err
	}, func() string { return "sidebar collapsed state did not change" })
	return after, err
}

// OpenAgentsMenu expands the AI Agents submenu.
func (p *DashboardPage) OpenAgentsMenu(ctx context.Context) error {
	if err := p.AgentsDropdown().First().Click(ctx); err != nil {
		return err
	}
	return ExpectVisible(ctx, p.AgentsSubmenu(), p.Timeout)
}
