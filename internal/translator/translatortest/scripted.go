// Package translatortest provides scripted CompletionClients for tests.
package translatortest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/valpere/mdtran/internal/translator"
)

// Step is one scripted call outcome. A zero Fail means success.
type Step struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Fail         translator.FailureKind
}

// Reply is a successful step.
func Reply(text string, in, out int) Step {
	return Step{Text: text, InputTokens: in, OutputTokens: out}
}

// Failure is a failed step of the given kind.
func Failure(kind translator.FailureKind) Step {
	return Step{Fail: kind}
}

// Repeat returns n copies of s.
func Repeat(s Step, n int) []Step {
	out := make([]Step, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// Client replays scripts. Each script is selected by a key that must appear
// in the first message of the conversation, so one Client can serve many
// documents concurrently. The empty key matches any conversation.
type Client struct {
	name string

	mu            sync.Mutex
	scripts       map[string][]Step
	pos           map[string]int
	calls         int
	conversations map[string][][]translator.Message
}

func New(name string) *Client {
	return &Client{
		name:          name,
		scripts:       make(map[string][]Step),
		pos:           make(map[string]int),
		conversations: make(map[string][][]translator.Message),
	}
}

// Script registers the steps served to conversations containing key.
func (c *Client) Script(key string, steps ...Step) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[key] = append(c.scripts[key], steps...)
	return c
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Send(ctx context.Context, conversation []translator.Message, _ translator.ModelConfig) translator.Result {
	if err := ctx.Err(); err != nil {
		return translator.Failed(translator.FailureTimeout, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	key, ok := c.match(conversation)
	if !ok {
		return translator.Failed(translator.FailureUnclassified, errors.New("no script for conversation"))
	}
	c.conversations[key] = append(c.conversations[key], append([]translator.Message(nil), conversation...))

	i := c.pos[key]
	steps := c.scripts[key]
	if i >= len(steps) {
		return translator.Failed(translator.FailureUnclassified, fmt.Errorf("script %q exhausted", key))
	}
	c.pos[key] = i + 1

	s := steps[i]
	if s.Fail != translator.FailureNone {
		return translator.Failed(s.Fail, fmt.Errorf("scripted %s", s.Fail))
	}
	return translator.Succeeded(&translator.Completion{
		Text:         s.Text,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		Model:        "scripted",
	})
}

func (c *Client) match(conversation []translator.Message) (string, bool) {
	if len(conversation) == 0 {
		return "", false
	}
	first := conversation[0].Text
	var fallback bool
	for key := range c.scripts {
		if key == "" {
			fallback = true
			continue
		}
		if strings.Contains(first, key) {
			return key, true
		}
	}
	return "", fallback
}

// Calls is the total number of Send invocations.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Conversations returns every conversation sent for key, in call order.
func (c *Client) Conversations(key string) [][]translator.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]translator.Message(nil), c.conversations[key]...)
}

// Func adapts a function to translator.CompletionClient.
type Func func(ctx context.Context, conversation []translator.Message) translator.Result

func (f Func) Name() string {
	return "func"
}

func (f Func) Send(ctx context.Context, conversation []translator.Message, _ translator.ModelConfig) translator.Result {
	return f(ctx, conversation)
}
