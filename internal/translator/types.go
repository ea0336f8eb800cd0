package translator

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ModelConfig selects the model and generation limits for a request.
type ModelConfig struct {
	Model       string   `mapstructure:"model" json:"model"`
	MaxTokens   int      `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature *float32 `mapstructure:"temperature" json:"temperature,omitempty"`
}

// ClientConfig configures a completion endpoint client for one credential.
type ClientConfig struct {
	APIKey  string            `mapstructure:"api_key" json:"-"`
	BaseURL string            `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout" json:"timeout"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
}

// Completion is the generated text and token usage of one successful call.
type Completion struct {
	Text         string        `json:"text"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Model        string        `json:"model"`
	Latency      time.Duration `json:"latency"`
}

// FailureKind classifies a failed call. Every kind other than FailureNone is
// retryable.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureRateLimited
	FailureConnection
	FailureOverloaded
	FailureTimeout
	FailureUnclassified
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureRateLimited:
		return "rate_limited"
	case FailureConnection:
		return "connection_error"
	case FailureOverloaded:
		return "service_overloaded"
	case FailureTimeout:
		return "timeout"
	default:
		return "unclassified"
	}
}

// Result is what a CompletionClient returns for one call: either a
// Completion or a failure kind with its cause.
type Result struct {
	Completion *Completion
	Failure    FailureKind
	Err        error
}

func (r Result) OK() bool {
	return r.Failure == FailureNone && r.Completion != nil
}

// Succeeded wraps a completion into a Result.
func Succeeded(c *Completion) Result {
	return Result{Completion: c}
}

// Failed wraps err into a Result with the given kind.
func Failed(kind FailureKind, err error) Result {
	if kind == FailureNone {
		kind = FailureUnclassified
	}
	return Result{Failure: kind, Err: err}
}

// CompletionClient sends an ordered conversation to a text-completion
// endpoint. Implementations must honour ctx cancellation and deadlines.
type CompletionClient interface {
	Name() string
	Send(ctx context.Context, conversation []Message, model ModelConfig) Result
}
