package participant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/schema"
)

// TypeLLM is the factory key for chat-completion participants.
const TypeLLM = "llm"

const systemPrompt = "You are a participant in a structured deliberation. Follow the instructions exactly and answer with JSON only."

// Chat sends one prompt to a language model and returns its text reply.
type Chat interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatOptions configures an OpenAI-compatible chat client.
type ChatOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	Seed        *int64
	HTTPClient  *http.Client
	// MaxRetries is the transport-level retry budget of the client. The
	// structured acquire loop retries on top of it.
	MaxRetries int
}

// OpenAIChat talks to the chat completions endpoint.
type OpenAIChat struct {
	client      openai.Client
	model       string
	temperature *float64
	seed        *int64
}

// NewOpenAIChat builds a client. An empty BaseURL targets api.openai.com.
func NewOpenAIChat(opts ChatOptions) (*OpenAIChat, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("participant: model is required")
	}
	reqOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAIChat{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		seed:        opts.Seed,
	}, nil
}

func (c *OpenAIChat) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	if c.seed != nil {
		params.Seed = openai.Int(*c.seed)
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// chatResponder adapts a Chat to structured.Responder. Replies stay as
// text; the acquire loop extracts the JSON document.
type chatResponder struct {
	chat   Chat
	system string
}

func (r chatResponder) Respond(ctx context.Context, prompt string, _ schema.Document) (any, error) {
	return r.chat.Complete(ctx, r.system, prompt)
}

// NewLLM builds an Agent that answers through chat.
func NewLLM(desc model.Descriptor, chat Chat, opts ...Option) *Agent {
	if desc.Type == "" {
		desc.Type = TypeLLM
	}
	return NewAgent(desc, chatResponder{chat: chat, system: systemPrompt}, opts...)
}
