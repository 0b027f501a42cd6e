package pages

import (
	"context"
	"net/url"

	"github.com/kuitang/aihub-e2e/internal/browser"
)

// AgentBuilderPage is the agent configuration form.
type AgentBuilderPage struct {
	Page
}

func NewAgentBuilderPage(sess browser.Session, baseURL string) (*AgentBuilderPage, error) {
	p, err := bind(sess, baseURL, "/custom_agent_enhanced")
	if err != nil {
		return nil, err
	}
	return &AgentBuilderPage{Page: p}, nil
}

func (p *AgentBuilderPage) Navigate(ctx context.Context) (*AgentBuilderPage, error) {
	return p, p.open(ctx)
}

// NavigateToEdit opens the builder with agent id preselected.
func (p *AgentBuilderPage) NavigateToEdit(ctx context.Context, id string) (*AgentBuilderPage, error) {
	return p, p.sess.Navigate(ctx, p.path+"?edit="+url.QueryEscape(id))
}

func (p *AgentBuilderPage) Header() browser.Element {
	return p.el(`.compact-header h4:has-text("Agent Builder")`)
}

func (p *AgentBuilderPage) AgentDropdown() browser.Element { return p.el(agentSelect) }
func (p *AgentBuilderPage) Name() browser.Element          { return p.el("#name") }
func (p *AgentBuilderPage) Objective() browser.Element     { return p.el("#objective") }

func (p *AgentBuilderPage) UpdateButton() browser.Element {
	return p.el(`button[onclick="updateAgent()"]`)
}

func (p *AgentBuilderPage) DeleteButton() browser.Element {
	return p.el(`button[onclick="deleteAgent()"]`)
}

func (p *AgentBuilderPage) AddAgentButton() browser.Element {
	return p.el(`button[onclick="openAddAgentPopup()"]`)
}

func (p *AgentBuilderPage) KnowledgeButton() browser.Element {
	return p.el(`button[onclick="manageAgentKnowledge()"]`)
}

func (p *AgentBuilderPage) ExportButton() browser.Element       { return p.el("#exportAgentBtn") }
func (p *AgentBuilderPage) EmailActionsCard() browser.Element   { return p.el("#emailActionsCard") }
func (p *AgentBuilderPage) CoreToolsHeading() browser.Element   { return p.el(`h6:has-text('Core Tools')`) }
func (p *AgentBuilderPage) CustomToolsHeading() browser.Element { return p.el(`h6:has-text('Custom Tools')`) }
func (p *AgentBuilderPage) CoreToolSearch() browser.Element     { return p.el("#core-tool-search") }
func (p *AgentBuilderPage) CustomToolSearch() browser.Element   { return p.el("#custom-tool-search") }

func (p *AgentBuilderPage) ClearCoreSearchButton() browser.Element {
	return p.el(`button[onclick="clearCoreToolSearch()"]`)
}

func (p *AgentBuilderPage) ClearCustomSearchButton() browser.Element {
	return p.el(`button[onclick="clearCustomToolSearch()"]`)
}

// CoreTools are the core tool rows still shown after filtering.
func (p *AgentBuilderPage) CoreTools() browser.Element {
	return p.el(`#core-tools .tool-item:not(.d-none)`)
}

func (p *AgentBuilderPage) AddAgentPopup() browser.Element     { return p.el("#add-agent-popup") }
func (p *AgentBuilderPage) NewAgentName() browser.Element      { return p.el("#new-agent-name") }
func (p *AgentBuilderPage) NewAgentObjective() browser.Element { return p.el("#new-agent-objective") }

func (p *AgentBuilderPage) SaveNewAgentButton() browser.Element {
	return p.el(`button[onclick="saveNewAgent()"]`)
}

func (p *AgentBuilderPage) ClosePopupButton() browser.Element {
	return p.el(`#add-agent-popup .close`)
}

func (p *AgentBuilderPage) CancelPopupButton() browser.Element {
	return p.el(`#add-agent-popup button:has-text("Cancel")`)
}

func (p *AgentBuilderPage) ImportDialog() browser.Element { return p.el("#importAgentDialog") }

// AgentOptions lists the agent selector entries.
func (p *AgentBuilderPage) AgentOptions(ctx context.Context) ([]Option, error) {
	return OptionTexts(ctx, p.sess, agentSelect)
}

// SelectAgent picks the n-th real agent and waits for the form to load it.
// Without page scripts the builder is reopened on the agent's edit address,
// which renders the same form server-side.
func (p *AgentBuilderPage) SelectAgent(ctx context.Context, n int) (Option, error) {
	opt, err := SelectNthOption(ctx, p.sess, agentSelect, n)
	if err != nil {
		return Option{}, err
	}
	if !p.sess.SupportsScript() {
		if _, err := p.NavigateToEdit(ctx, opt.Value); err != nil {
			return Option{}, err
		}
	}
	if err := p.sess.WaitForQuiescence(ctx); err != nil {
		return Option{}, err
	}
	name := p.Name()
	return opt, expect(ctx, name, p.Timeout, func() (bool, error) {
		v, err := name.Value(ctx)
		return err == nil && v != "", err
	}, func() string { return "agent form did not load " + opt.Value })
}

// OpenAddAgentPopup shows the new-agent popup.
func (p *AgentBuilderPage) OpenAddAgentPopup(ctx context.Context) error {
	if err := p.AddAgentButton().Click(ctx); err != nil {
		return err
	}
	return ExpectVisible(ctx, p.AddAgentPopup(), p.Timeout)
}

// ClosePopup dismisses the new-agent popup.
func (p *AgentBuilderPage) ClosePopup(ctx context.Context) error {
	if err := p.ClosePopupButton().First().Click(ctx); err != nil {
		return err
	}
	return ExpectHidden(ctx, p.AddAgentPopup(), p.Timeout)
}

// CancelPopup dismisses the new-agent popup with its Cancel button.
func (p *AgentBuilderPage) CancelPopup(ctx context.Context) error {
	if err := p.CancelPopupButton().First().Click(ctx); err != nil {
		return err
	}
	return ExpectHidden(ctx, p.AddAgentPopup(), p.Timeout)
}

// CreateAgent adds an agent through the popup and waits until the selector
// lists it.
func (p *AgentBuilderPage) CreateAgent(ctx context.Context, name, objective string) error {
	if err := p.OpenAddAgentPopup(ctx); err != nil {
		return err
	}
	if err := p.NewAgentName().Fill(ctx, name); err != nil {
		return err
	}
	if err := p.NewAgentObjective().Fill(ctx, objective); err != nil {
		return err
	}
	if err := p.SaveNewAgentButton().Click(ctx); err != nil {
		return err
	}
	if err := p.sess.WaitForQuiescence(ctx); err != nil {
		return err
	}
	return ExpectCount(ctx, p.el(agentSelect+` option:has-text(`+quoteText(name)+`)`), 1, p.Timeout)
}

// OptionCountWithText counts selector entries whose label equals name.
func (p *AgentBuilderPage) OptionCountWithText(ctx context.Context, name string) (int, error) {
	opts, err := p.AgentOptions(ctx)
	if err != nil {
		return 0, err
	}
	return countLabel(opts, name), nil
}

// SearchCoreTools types into the core tool filter.
func (p *AgentBuilderPage) SearchCoreTools(ctx context.Context, query string) error {
	return p.CoreToolSearch().Fill(ctx, query)
}

// ClearCoreToolSearch presses the clear button of the core tool filter and
// waits for the field to empty.
func (p *AgentBuilderPage) ClearCoreToolSearch(ctx context.Context) error {
	return p.clearSearch(ctx, p.ClearCoreSearchButton(), p.CoreToolSearch())
}

// ClearCustomToolSearch is ClearCoreToolSearch for custom tools.
func (p *AgentBuilderPage) ClearCustomToolSearch(ctx context.Context) error {
	return p.clearSearch(ctx, p.ClearCustomSearchButton(), p.CustomToolSearch())
}

func (p *AgentBuilderPage) clearSearch(ctx context.Context, button, field browser.Element) error {
	if err := button.Click(ctx); err != nil {
		return err
	}
	return expect(ctx, field, p.Timeout, func() (bool, error) {
		v, err := field.Value(ctx)
		return err == nil && v == "", err
	}, func() string { return field.Selector() + " was not cleared" })
}
