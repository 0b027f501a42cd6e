package hubapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// replyTimeout bounds one model call.
const replyTimeout = 55 * time.Second

// Responder produces an agent's reply to prompt. history is the
// conversation so far, oldest first, without prompt.
type Responder interface {
	Reply(ctx context.Context, agent db.Agent, history []db.Message, prompt string) (string, error)
}

// NewResponder picks the OpenAI responder when cfg carries an API key and
// the echo responder otherwise.
func NewResponder(cfg config.Fixture) Responder {
	if cfg.OpenAIAPIKey != "" {
		return NewOpenAIResponder(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	return EchoResponder{}
}

// EchoResponder answers deterministically without a model.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, agent db.Agent, history []db.Message, prompt string) (string, error) {
	turn := 1
	for _, m := range history {
		if m.Role == db.RoleUser {
			turn++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (turn %d) received your message:\n\n", agent.Name, turn)
	for _, line := range strings.Split(strings.TrimSpace(prompt), "\n") {
		b.WriteString("> " + line + "\n")
	}
	if agent.Objective != "" {
		fmt.Fprintf(&b, "\nObjective: %s\n", agent.Objective)
	}
	return b.String(), nil
}

// OpenAIResponder answers through the OpenAI Responses API.
type OpenAIResponder struct {
	client openai.Client
	model  string
}

func NewOpenAIResponder(apiKey, model string, opts ...option.RequestOption) *OpenAIResponder {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIResponder{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAIResponder) Reply(ctx context.Context, agent db.Agent, history []db.Message, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(o.model),
		Instructions: openai.String(instructions(agent)),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(transcript(history, prompt)),
		},
	}
	start := time.Now()
	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "the model did not answer", err)
	}
	obs.From(ctx).Debug("model reply", "pkg", "hubapp", "model", o.model, "response_id", resp.ID,
		"dur_ms", time.Since(start).Milliseconds())

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", errs.New(errs.Unavailable, "the model returned an empty reply")
	}
	return text, nil
}

func instructions(agent db.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q, an assistant configured in AI Hub.", agent.Name)
	if agent.Objective != "" {
		fmt.Fprintf(&b, "\nYour objective: %s", agent.Objective)
	}
	b.WriteString("\nAnswer in concise markdown.")
	return b.String()
}

// transcript flattens the conversation into one prompt.
func transcript(history []db.Message, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nuser: %s", prompt)
	return b.String()
}

// chat appends prompt to the user's conversation with agentID and records
// the agent's reply.
func (s *Server) chat(ctx context.Context, user db.User, agentID, prompt string) (db.Message, error) {
	prompt = strings.TrimSpace(prompt)
	if agentID == "" {
		return db.Message{}, errs.New(errs.InvalidArgument, "Please select an agent first")
	}
	if prompt == "" {
		return db.Message{}, errs.New(errs.InvalidArgument, "Please enter a message")
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return db.Message{}, err
	}

	key := db.ConversationKey(user.ID, agent.ID)
	history, err := s.store.Conversation(ctx, key)
	if err != nil {
		return db.Message{}, err
	}
	if _, err := s.store.AppendMessage(ctx, db.Message{
		Conversation: key, AgentID: agent.ID, Role: db.RoleUser, Content: prompt,
	}); err != nil {
		return db.Message{}, err
	}

	text, err := s.responder.Reply(ctx, agent, history, prompt)
	if err != nil {
		obs.From(ctx).Warn("agent reply failed", "pkg", "hubapp", "agent", agent.ID, "error", err)
		return db.Message{}, err
	}
	return s.store.AppendMessage(ctx, db.Message{
		Conversation: key, AgentID: agent.ID, Role: db.RoleAssistant, Content: text,
	})
}
