// Package ai executes completion calls against resolved provider handles.
package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
	"github.com/litechat/backend/internal/service/workflow"
)

const historyLimit = 10

// Service is the completion transport: it turns conversation history plus a
// prompt into model calls. It holds no per-conversation state and is safe
// for concurrent use.
type Service struct {
	systemPrompt string
}

// NewService creates the transport. systemPrompt may be empty.
func NewService(systemPrompt string) *Service {
	return &Service{systemPrompt: systemPrompt}
}

// Complete runs one non-streaming completion and reports token usage when
// the provider returns it. Implements workflow.CompletionClient.
func (s *Service) Complete(ctx context.Context, handle provider.Handle, history []*chat.Message, prompt string) (workflow.Completion, error) {
	response, err := handle.Model.Generate(ctx, s.buildPrompt(history, prompt))
	if err != nil {
		return workflow.Completion{}, fmt.Errorf("model %s: %w", handle.ModelID, err)
	}

	result := workflow.Completion{Content: response.Content}
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		result.TokensInput = response.ResponseMeta.Usage.PromptTokens
		result.TokensOutput = response.ResponseMeta.Usage.CompletionTokens
	}

	log.Printf("[ai] completed model=%s length=%d", handle.ModelID, len(response.Content))
	return result, nil
}

// Stream runs one streaming completion; callers concatenate the chunks with
// schema.ConcatMessages once the reader drains.
func (s *Service) Stream(ctx context.Context, handle provider.Handle, history []*chat.Message, prompt string) (*schema.StreamReader[*schema.Message], error) {
	stream, err := handle.Model.Stream(ctx, s.buildPrompt(history, prompt))
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", handle.ModelID, err)
	}
	return stream, nil
}

// GenerateTitle asks the model for a short conversation title seeded by the
// opening user message.
func (s *Service) GenerateTitle(ctx context.Context, handle provider.Handle, opening string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage("Reply with a conversation title of at most six words. No quotes, no punctuation at the end."),
		schema.UserMessage(opening),
	}
	response, err := handle.Model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("title model %s: %w", handle.ModelID, err)
	}
	return strings.TrimSpace(response.Content), nil
}

// buildPrompt assembles system prompt, a bounded history window and the new
// user turn. Workflow parents contribute nothing themselves; their settled
// children are view state, not conversation context.
func (s *Service) buildPrompt(history []*chat.Message, prompt string) []*schema.Message {
	msgs := make([]*schema.Message, 0, historyLimit+2)
	if s.systemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(s.systemPrompt))
	}

	window := history
	if len(window) > historyLimit {
		window = window[len(window)-historyLimit:]
	}
	for _, msg := range window {
		if msg.Workflow != nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			msgs = append(msgs, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return append(msgs, schema.UserMessage(prompt))
}
