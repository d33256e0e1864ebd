// Package judge evaluates text against natural-language criteria with a
// language model.
//
// A Client is the black-box completion capability: one prompt in, generated
// text and token usage out. Anthropic and Bedrock implement it. Evaluator
// builds the judging prompt, makes exactly one call, and scores the reply
// fail-closed: anything it cannot attribute to a criterion counts as failed.
package judge

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultModel is the judge model alias used when none is configured.
const DefaultModel = "haiku"

// DefaultMaxTokens bounds the judge reply.
const DefaultMaxTokens = 1024

// Request is one completion request.
type Request struct {
	// Model is an alias (haiku, sonnet, opus) or a provider model ID.
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the generated text and token usage of one completion.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Client submits a prompt and returns generated text.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// model describes one alias across providers.
type model struct {
	anthropic string
	bedrock   string
	// USD per million tokens.
	inputRate  float64
	outputRate float64
}

var models = map[string]model{
	"haiku": {
		anthropic:  "claude-haiku-4-5",
		bedrock:    "anthropic.claude-haiku-4-5-20251001-v1:0",
		inputRate:  1,
		outputRate: 5,
	},
	"sonnet": {
		anthropic:  "claude-sonnet-4-5",
		bedrock:    "anthropic.claude-sonnet-4-5-20250929-v1:0",
		inputRate:  3,
		outputRate: 15,
	},
	"opus": {
		anthropic:  "claude-opus-4-5",
		bedrock:    "anthropic.claude-opus-4-5-20251101-v1:0",
		inputRate:  5,
		outputRate: 25,
	},
}

// Aliases returns the known model aliases in sorted order.
func Aliases() []string {
	out := make([]string, 0, len(models))
	for k := range models {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AnthropicModelID resolves an alias to an Anthropic API model ID.
// Unknown names pass through unchanged.
func AnthropicModelID(name string) string {
	if m, ok := models[strings.ToLower(name)]; ok {
		return m.anthropic
	}
	return name
}

// BedrockModelID resolves an alias to a Bedrock model ID.
// Unknown names pass through unchanged.
func BedrockModelID(name string) string {
	if m, ok := models[strings.ToLower(name)]; ok {
		return m.bedrock
	}
	return name
}

// Cost returns the USD cost of a completion by model alias or ID.
// Models outside the rate table cost zero.
func Cost(name string, inputTokens, outputTokens int64) float64 {
	m, ok := lookup(name)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*m.inputRate + float64(outputTokens)*m.outputRate) / 1e6
}

func lookup(name string) (model, bool) {
	name = strings.ToLower(name)
	if m, ok := models[name]; ok {
		return m, true
	}
	for _, m := range models {
		if name == m.anthropic || name == m.bedrock || strings.HasSuffix(name, "."+m.bedrock) {
			return m, true
		}
	}
	for alias, m := range models {
		if strings.Contains(name, alias) {
			return m, true
		}
	}
	return model{}, false
}

// Provider names a Client implementation.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(s)); p {
	case ProviderAnthropic, ProviderBedrock:
		return p, nil
	default:
		return "", fmt.Errorf("unknown judge provider %q (want anthropic or bedrock)", s)
	}
}
