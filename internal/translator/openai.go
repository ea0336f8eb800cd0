package translator

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "claude-3-5-sonnet-20241022"
	DefaultTimeout = 300 * time.Second
)

// OpenAIClient talks to any OpenAI-compatible chat/completions endpoint with
// a single credential.
type OpenAIClient struct {
	name   string
	client *go_openai.Client
}

// NewOpenAIClient builds a client for one credential. name identifies the
// credential slot in logs and must not contain the key itself.
func NewOpenAIClient(name string, cfg ClientConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.Errorf("%s: API key required", name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	config := go_openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &headerTransport{headers: cfg.Headers, next: http.DefaultTransport},
	}

	return &OpenAIClient{
		name:   name,
		client: go_openai.NewClientWithConfig(config),
	}, nil
}

func (c *OpenAIClient) Name() string {
	return c.name
}

func (c *OpenAIClient) Send(ctx context.Context, conversation []Message, model ModelConfig) Result {
	if len(conversation) == 0 {
		return Failed(FailureUnclassified, errors.New("empty conversation"))
	}

	req := go_openai.ChatCompletionRequest{
		Model:     model.Model,
		MaxTokens: model.MaxTokens,
		Messages:  make([]go_openai.ChatCompletionMessage, 0, len(conversation)),
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if model.Temperature != nil {
		req.Temperature = *model.Temperature
	}
	for _, m := range conversation {
		req.Messages = append(req.Messages, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Text,
		})
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		kind := Classify(err)
		log.Debug().Str("client", c.name).Str("kind", kind.String()).Dur("latency", latency).Err(err).Msg("chat completion failed")
		return Failed(kind, errors.Wrapf(err, "%s: chat completion", c.name))
	}
	if len(resp.Choices) == 0 {
		return Failed(FailureUnclassified, errors.Errorf("%s: empty response from API", c.name))
	}

	return Succeeded(&Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		Latency:      latency,
	})
}

// headerTransport adds fixed headers to every request, e.g. the
// HTTP-Referer/X-Title pair OpenRouter asks for.
type headerTransport struct {
	headers map[string]string
	next    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.next.RoundTrip(req)
}
