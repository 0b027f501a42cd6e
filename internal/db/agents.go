package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Tool kinds.
const (
	ToolCore   = "core"
	ToolCustom = "custom"
)

// Agent is a configured assistant.
type Agent struct {
	ID           string
	Name         string
	Objective    string
	EmailEnabled bool
	ToolIDs      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tool is an entry in the tool catalog.
type Tool struct {
	ID          string
	Name        string
	Description string
	Kind        string
}

// DefaultTools is the catalog installed by EnsureDefaultTools.
var DefaultTools = []Tool{
	{ID: "web_search", Name: "Web Search", Description: "Search the public web", Kind: ToolCore},
	{ID: "web_browse", Name: "Web Browse", Description: "Fetch and read a web page", Kind: ToolCore},
	{ID: "calculator", Name: "Calculator", Description: "Evaluate arithmetic", Kind: ToolCore},
	{ID: "send_email", Name: "Send Email", Description: "Send an email on the user's behalf", Kind: ToolCore},
	{ID: "calendar", Name: "Calendar", Description: "Read and create calendar events", Kind: ToolCore},
	{ID: "crm_lookup", Name: "CRM Lookup", Description: "Find a customer record", Kind: ToolCustom},
	{ID: "ticket_create", Name: "Create Ticket", Description: "Open a support ticket", Kind: ToolCustom},
}

// EnsureDefaultTools installs DefaultTools, leaving existing rows alone.
func (s *Store) EnsureDefaultTools(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range DefaultTools {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO tools (id, name, description, kind) VALUES (?, ?, ?, ?)`,
				t.ID, t.Name, t.Description, t.Kind); err != nil {
				return fmt.Errorf("install tool %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ListTools returns the catalog entries of kind ("" for all), by name.
func (s *Store) ListTools(ctx context.Context, kind string) ([]Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, kind FROM tools WHERE ? = '' OR kind = ? ORDER BY name`, kind, kind)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		var t Tool
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Kind); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

const agentColumns = `id, name, objective, email_enabled, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (Agent, error) {
	var a Agent
	var email int
	var created, updated int64
	if err := row.Scan(&a.ID, &a.Name, &a.Objective, &email, &created, &updated); err != nil {
		return Agent{}, err
	}
	a.EmailEnabled = email != 0
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

// ListAgents returns every agent in creation order. ToolIDs are not loaded.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of agents.
func (s *Store) CountAgents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// GetAgent returns one agent with its tool ids.
func (s *Store) GetAgent(ctx context.Context, id string) (Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err != nil {
		return Agent{}, notFound(err, "agent")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tool_id FROM agent_tools WHERE agent_id = ? ORDER BY tool_id`, id)
	if err != nil {
		return Agent{}, fmt.Errorf("load agent tools: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			return Agent{}, fmt.Errorf("scan agent tool: %w", err)
		}
		a.ToolIDs = append(a.ToolIDs, tid)
	}
	return a, rows.Err()
}

// CreateAgent inserts a, assigning an id when empty.
func (s *Store) CreateAgent(ctx context.Context, a Agent) (Agent, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return Agent{}, errs.New(errs.InvalidArgument, "agent name is required")
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	now := s.millis()
	a.CreatedAt, a.UpdatedAt = fromMillis(now), fromMillis(now)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.Name, a.Objective, boolInt(a.EmailEnabled), now, now); err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		return setAgentTools(ctx, tx, a.ID, a.ToolIDs)
	})
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}

// UpdateAgent overwrites the agent's fields and tool selection.
func (s *Store) UpdateAgent(ctx context.Context, a Agent) (Agent, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return Agent{}, errs.New(errs.InvalidArgument, "agent name is required")
	}
	now := s.millis()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET name = ?, objective = ?, email_enabled = ?, updated_at = ? WHERE id = ?`,
			a.Name, a.Objective, boolInt(a.EmailEnabled), now, a.ID)
		if err != nil {
			return fmt.Errorf("update agent: %w", err)
		}
		if err := requireAffected(res, "agent"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_tools WHERE agent_id = ?`, a.ID); err != nil {
			return fmt.Errorf("clear agent tools: %w", err)
		}
		return setAgentTools(ctx, tx, a.ID, a.ToolIDs)
	})
	if err != nil {
		return Agent{}, err
	}
	return s.GetAgent(ctx, a.ID)
}

func setAgentTools(ctx context.Context, tx *sql.Tx, agentID string, toolIDs []string) error {
	for _, tid := range toolIDs {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO agent_tools (agent_id, tool_id)
			 SELECT ?, id FROM tools WHERE id = ?`, agentID, tid)
		if err != nil {
			return fmt.Errorf("attach tool %s: %w", tid, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools WHERE id = ?`, tid).Scan(&exists); err == nil && exists == 0 {
				return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown tool %q", tid))
			}
		}
	}
	return nil
}

// DeleteAgent removes an agent. Jobs that used it keep running without one.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return requireAffected(res, "agent")
}
