package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/driftlab/tether/internal/domain"
)

// ChatClient captures the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// OpenAIResponder implements Responder via an OpenAI-compatible Chat
// Completions endpoint.
type OpenAIResponder struct {
	chat           ChatClient
	model          string
	persona        string
	requestTimeout time.Duration
}

// OpenAIOptions configures the OpenAI responder.
type OpenAIOptions struct {
	Client  ChatClient
	Model   string
	BaseURL string
	APIKey  string
	// Persona is prepended to the system prompt; empty uses a neutral one.
	Persona        string
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

// NewOpenAIResponder builds a responder from options. When Client is nil a
// default go-openai client is constructed from APIKey and BaseURL.
func NewOpenAIResponder(opts OpenAIOptions) (*OpenAIResponder, error) {
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	chat := opts.Client
	if chat == nil {
		if opts.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		chat = openai.NewClientWithConfig(cfg)
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	persona := opts.Persona
	if persona == "" {
		persona = "You are a friendly conversational companion."
	}
	return &OpenAIResponder{
		chat:           chat,
		model:          opts.Model,
		persona:        persona,
		requestTimeout: timeout,
	}, nil
}

const decisionSchema = `Respond with a single JSON object:
{
  "thought": "your private reasoning, one or two sentences",
  "actions": [{"type": "send_message", "params": {"content": "..."}}],
  "expected_reaction": "what reaction you now expect, empty if none",
  "max_wait_seconds": 0,
  "mood": "one word"
}
Use an empty actions array to stay silent. Set max_wait_seconds > 0 only
when you expect a reaction within that time.`

var situationPrompts = map[Situation]string{
	SituationNewMessage:  "The counterpart just sent you the message(s) at the end of the transcript. Decide how to respond.",
	SituationReplyInTime: "You were waiting for a reaction and it arrived in time. Decide how to respond.",
	SituationReplyLate:   "You were waiting for a reaction and it arrived late. Decide how to respond, acknowledging the wait if natural.",
	SituationTimeout:     "You were waiting for a reaction but the time ran out and nothing came. Decide whether to follow up, keep waiting, or let it go.",
	SituationProactive:   "The counterpart has been silent for a long time. Decide whether to reach out with something brief and natural, or stay silent.",
}

// Generate calls the chat endpoint and parses the decision.
func (r *OpenAIResponder) Generate(ctx context.Context, req Request) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	resp, err := r.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: r.userPrompt(req)},
		},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, errors.New("chat completion returned no choices")
	}
	return ParseDecision(resp.Choices[0].Message.Content)
}

func (r *OpenAIResponder) systemPrompt() string {
	return r.persona + "\n\n" + decisionSchema
}

func (r *OpenAIResponder) userPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	b.WriteString(Transcript(req.Session, 12))
	if mood := req.Session.LastMood; mood != "" {
		fmt.Fprintf(&b, "\nYour current mood: %s\n", mood)
	}
	fmt.Fprintf(&b, "\nSituation: %s\n", req.Situation)
	if req.Situation == SituationProactive {
		fmt.Fprintf(&b, "The counterpart has been silent for %s.\n", req.Silence.Round(time.Minute))
	}
	b.WriteString(situationPrompts[req.Situation])
	return b.String()
}

// Transcript renders the newest n narrative log entries as plain text lines
// for prompting.
func Transcript(s *domain.Session, n int) string {
	entries := s.RecentLog(n)
	if len(entries) == 0 {
		return "(no prior conversation)\n"
	}
	var b strings.Builder
	for _, e := range entries {
		if !e.Valid() {
			continue
		}
		switch e.Type {
		case domain.EventUserMessage:
			fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("15:04"), e.UserMessage.SenderName, e.UserMessage.Content)
		case domain.EventBotPlanning:
			fmt.Fprintf(&b, "[%s] you (thinking): %s\n", e.Timestamp.Format("15:04"), e.BotPlanning.Thought)
			for _, a := range e.BotPlanning.Actions {
				if a.Type == "send_message" {
					if content, ok := a.Params["content"].(string); ok {
						fmt.Fprintf(&b, "[%s] you: %s\n", e.Timestamp.Format("15:04"), content)
					}
				}
			}
		case domain.EventWaitingUpdate:
			fmt.Fprintf(&b, "[%s] you (while waiting): %s\n", e.Timestamp.Format("15:04"), e.WaitingUpdate.Thought)
		case domain.EventProactiveTrigger:
			fmt.Fprintf(&b, "[%s] (you reached out after %ds of silence)\n", e.Timestamp.Format("15:04"), e.ProactiveTrigger.SilenceSeconds)
		}
	}
	return b.String()
}

// ParseDecision extracts a Decision from model output, tolerating markdown
// code fences, and normalizes it.
func ParseDecision(raw string) (Decision, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	return d.Normalized(), nil
}

var _ Responder = (*OpenAIResponder)(nil)
