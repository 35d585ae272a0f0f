package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 4096
)

// Models known to return usable invoice JSON through OpenRouter
const (
	ModelClaude35Sonnet = "anthropic/claude-3.5-sonnet"
	ModelClaude3Haiku   = "anthropic/claude-3-haiku"
	ModelGPT4oMini      = "openai/gpt-4o-mini"
	ModelGPT4o          = "openai/gpt-4o"
	ModelGeminiFlash    = "google/gemini-flash-1.5"
)

// errNoChoices is returned when the provider answers without a completion
var errNoChoices = errors.New("no choices in response")

// Completer is the chat surface the extractor needs
type Completer interface {
	ChatText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
	ChatWithImage(ctx context.Context, model, systemPrompt, userPrompt string, imageData []byte, mimeType string) (string, error)
}

// Client sends chat completions to an OpenAI-compatible endpoint
type Client struct {
	sdk openai.Client

	baseURL      string
	timeout      time.Duration
	defaultModel string
	maxTokens    int64
	jsonMode     bool
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithTimeout bounds every HTTP round trip
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithDefaultModel is used when a call passes no model
func WithDefaultModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.defaultModel = model
		}
	}
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithJSONMode asks the provider for a bare JSON object. Not every model
// routed by OpenRouter honours it, so it is off by default.
func WithJSONMode() ClientOption {
	return func(c *Client) {
		c.jsonMode = true
	}
}

// NewClient creates a client with SDK retries disabled; callers own the retry policy
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		timeout:      DefaultTimeout,
		defaultModel: ModelClaude35Sonnet,
		maxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sdk = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(&http.Client{Timeout: c.timeout}),
		option.WithMaxRetries(0),
		option.WithHeader("HTTP-Referer", "https://github.com/rezonia/einvoice-engine"),
		option.WithHeader("X-Title", "einvoice-engine"),
	)
	return c
}

// ChatText sends a text-only prompt
func (c *Client) ChatText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, model, systemPrompt, openai.UserMessage(userPrompt))
}

// ChatWithImage sends the prompt together with one inline image
func (c *Client) ChatWithImage(ctx context.Context, model, systemPrompt, userPrompt string, imageData []byte, mimeType string) (string, error) {
	image := openai.ChatCompletionContentPartImageImageURLParam{
		URL:    "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(imageData),
		Detail: "high",
	}
	return c.complete(ctx, model, systemPrompt, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(userPrompt),
		openai.ImageContentPart(image),
	}))
}

func (c *Client) complete(ctx context.Context, model, systemPrompt string, user openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model(model),
		Messages:    c.messages(systemPrompt, user),
		MaxTokens:   param.NewOpt(c.maxTokens),
		Temperature: param.NewOpt(0.1),
	}
	if c.jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) model(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func (c *Client) messages(systemPrompt string, user openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	if systemPrompt == "" {
		return []openai.ChatCompletionMessageParamUnion{user}
	}
	return []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt), user}
}

// ExtractJSON returns the JSON payload of a model answer. Fenced blocks win,
// a preferred ```json fence first; otherwise the outermost object in the prose.
func ExtractJSON(response string) string {
	for _, fence := range []string{"```json", "```"} {
		_, rest, ok := strings.Cut(response, fence)
		if !ok {
			continue
		}
		if fence == "```" {
			// drop an unknown language tag
			if tag, body, found := strings.Cut(rest, "\n"); found && !strings.ContainsAny(tag, "{[") {
				rest = body
			}
		}
		if body, _, ok := strings.Cut(rest, "```"); ok {
			return strings.TrimSpace(body)
		}
	}

	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}
	if start, end := strings.Index(response, "{"), strings.LastIndex(response, "}"); start > 0 && end > start {
		return response[start : end+1]
	}
	return response
}
