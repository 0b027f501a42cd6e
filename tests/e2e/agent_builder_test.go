package e2e

import (
	"testing"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/harness"
	"github.com/kuitang/aihub-e2e/internal/pages"
)

// openBuilder signs in and opens the agent builder.
func openBuilder(s *harness.Scenario) (*pages.AgentBuilderPage, error) {
	if err := s.Login(); err != nil {
		return nil, err
	}
	p, err := s.AgentBuilder()
	if err != nil {
		return nil, err
	}
	return p.Navigate(s.Context())
}

// firstAgent returns the first real entry of the builder's agent selector.
func firstAgent(s *harness.Scenario, p *pages.AgentBuilderPage) (pages.Option, error) {
	opts, err := p.AgentOptions(s.Context())
	if err != nil {
		return pages.Option{}, err
	}
	for _, o := range opts {
		if o.Value != "" && !o.Disabled {
			return o, nil
		}
	}
	return pages.Option{}, errs.AtURL(errs.NoOptionsAvailable, "the agent selector lists no agents", s.Session.URL(), nil)
}

func TestAgentBuilder_PageLoads(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		if !p.IsCurrent() {
			return failf(s, "expected the agent builder, session is on %s", s.Session.URL())
		}
		return nil
	})
}

func TestAgentBuilder_Header(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return pages.ExpectText(s.Context(), p.Header().First(), "Agent Builder", p.Timeout)
	})
}

func TestAgentBuilder_AgentDropdown(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return pages.ExpectVisible(s.Context(), p.AgentDropdown(), p.Timeout)
	})
}

func TestAgentBuilder_ConfigurationForm(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, p.Name(), p.Objective())
	})
}

func TestAgentBuilder_ActionButtons(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, p.UpdateButton(), p.DeleteButton(), p.AddAgentButton())
	})
}

func TestAgentBuilder_SidebarActions(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, p.KnowledgeButton(), p.ExportButton())
	})
}

func TestAgentBuilder_DropdownHasPlaceholder(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		opts, err := p.AgentOptions(s.Context())
		if err != nil {
			return err
		}
		if len(opts) == 0 || opts[0].Value != "" || opts[0].Label != "Select an agent" {
			return failf(s, "first agent option is not the placeholder: %+v", opts)
		}
		return nil
	})
}

func TestAgentBuilder_SelectingAgentPopulatesForm(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		opt, err := p.SelectAgent(ctx, 0)
		if err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.Name(), opt.Label, p.Timeout); err != nil {
			return err
		}
		_, readonly, err := p.Name().Attribute(ctx, "readonly")
		if err != nil {
			return err
		}
		if readonly {
			return failf(s, "name field is still read-only after selecting %s", opt.Label)
		}
		return nil
	})
}

func TestAgentBuilder_SelectingAgentShowsEmailCard(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := pages.ExpectHidden(ctx, p.EmailActionsCard(), p.Timeout); err != nil {
			return err
		}
		if _, err := p.SelectAgent(ctx, 0); err != nil {
			return err
		}
		return pages.ExpectVisible(ctx, p.EmailActionsCard(), p.Timeout)
	})
}

func TestAgentBuilder_CoreToolsSection(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, p.CoreToolsHeading(), p.CoreToolSearch())
	})
}

func TestAgentBuilder_CustomToolsSection(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return visible(s, p.Timeout, p.CustomToolsHeading(), p.CustomToolSearch())
	})
}

func TestAgentBuilder_CoreToolsSearch(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		total, err := p.CoreTools().Count(ctx)
		if err != nil {
			return err
		}
		s.Logf("%d core tools listed", total)

		if err := p.SearchCoreTools(ctx, "no tool is called this"); err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.CoreToolSearch(), "no tool is called this", p.Timeout); err != nil {
			return err
		}
		// Filtering as you type needs page scripts; without them the list
		// only changes when the form is submitted.
		if s.Session.SupportsScript() {
			if err := pages.ExpectCount(ctx, p.CoreTools(), 0, p.Timeout); err != nil {
				return err
			}
		}

		if err := p.ClearCoreToolSearch(ctx); err != nil {
			return err
		}
		return pages.ExpectCount(ctx, p.CoreTools(), total, p.Timeout)
	})
}

func TestAgentBuilder_CustomToolsSearch(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := p.CustomToolSearch().Fill(ctx, "custom"); err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.CustomToolSearch(), "custom", p.Timeout); err != nil {
			return err
		}
		return p.ClearCustomToolSearch(ctx)
	})
}

func TestAgentBuilder_PopupOpens(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := pages.ExpectHidden(ctx, p.AddAgentPopup(), p.Timeout); err != nil {
			return err
		}
		return p.OpenAddAgentPopup(ctx)
	})
}

func TestAgentBuilder_PopupHasFields(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		if err := p.OpenAddAgentPopup(s.Context()); err != nil {
			return err
		}
		return visible(s, p.Timeout, p.NewAgentName(), p.NewAgentObjective(), p.SaveNewAgentButton())
	})
}

func TestAgentBuilder_PopupClosesOnCancel(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := p.OpenAddAgentPopup(ctx); err != nil {
			return err
		}
		return p.CancelPopup(ctx)
	})
}

func TestAgentBuilder_PopupClosesOnX(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := p.OpenAddAgentPopup(ctx); err != nil {
			return err
		}
		return p.ClosePopup(ctx)
	})
}

func TestAgentBuilder_CanFillNewAgentForm(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := p.OpenAddAgentPopup(ctx); err != nil {
			return err
		}
		if err := p.NewAgentName().Fill(ctx, "Draft Agent"); err != nil {
			return err
		}
		if err := p.NewAgentObjective().Fill(ctx, "Draft objective"); err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.NewAgentName(), "Draft Agent", p.Timeout); err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.NewAgentObjective(), "Draft objective", p.Timeout); err != nil {
			return err
		}
		return p.CancelPopup(ctx)
	})
}

func TestAgentBuilder_CreateNewAgentWorkflow(t *testing.T) {
	scenario(t, slow, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		name := harness.UniqueName("Test Agent")
		if err := p.CreateAgent(ctx, name, "Created by the browser scenarios"); err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.Name(), name, p.Timeout); err != nil {
			return err
		}
		// Count from the server's listing, not the option the page just added.
		if err := s.Session.Reload(ctx); err != nil {
			return err
		}
		n, err := p.OptionCountWithText(ctx, name)
		if err != nil {
			return err
		}
		if n != 1 {
			return failf(s, "agent %q listed %d times after reload", name, n)
		}
		return nil
	})
}

func TestAgentBuilder_ExportButton(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		if err := pages.ExpectVisible(ctx, p.ExportButton(), p.Timeout); err != nil {
			return err
		}
		return pages.ExpectEnabled(ctx, p.ExportButton(), true, p.Timeout)
	})
}

func TestAgentBuilder_ImportDialogExists(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		return pages.ExpectCount(s.Context(), p.ImportDialog(), 1, p.Timeout)
	})
}

func TestAgentBuilder_NavigateFromDashboard(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		if err := dash.OpenManageAgents(s.Context()); err != nil {
			return err
		}
		p, err := s.AgentBuilder()
		if err != nil {
			return err
		}
		if !p.IsCurrent() {
			return failf(s, "Manage Agents led to %s", s.Session.URL())
		}
		return nil
	})
}

func TestAgentBuilder_NavigateFromSidebar(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		dash, err := loggedInDashboard(s)
		if err != nil {
			return err
		}
		if err := dash.OpenAgentsMenuLink(s.Context(), "Agent Builder"); err != nil {
			return err
		}
		p, err := s.AgentBuilder()
		if err != nil {
			return err
		}
		if !p.IsCurrent() {
			return failf(s, "Agent Builder link led to %s", s.Session.URL())
		}
		return nil
	})
}

func TestAgentBuilder_FieldsReadonlyWithoutSelection(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		for _, el := range []browser.Element{p.Name(), p.Objective()} {
			_, readonly, err := el.Attribute(ctx, "readonly")
			if err != nil {
				return err
			}
			if !readonly {
				return failf(s, "%s is editable before an agent is selected", el.Selector())
			}
		}
		return nil
	})
}

func TestAgentBuilder_EditParameterLoadsAgent(t *testing.T) {
	scenario(t, authed, func(s *harness.Scenario) error {
		if err := s.EnsureAgents(1); err != nil {
			return err
		}
		p, err := openBuilder(s)
		if err != nil {
			return err
		}
		ctx := s.Context()
		agent, err := firstAgent(s, p)
		if err != nil {
			return err
		}
		if _, err := p.NavigateToEdit(ctx, agent.Value); err != nil {
			return err
		}
		if err := pages.ExpectValue(ctx, p.AgentDropdown(), agent.Value, p.Timeout); err != nil {
			return err
		}
		return pages.ExpectValue(ctx, p.Name(), agent.Label, p.Timeout)
	})
}
