// Package chat owns the in-memory message trees and translates coordinator
// events into tree mutations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
	"github.com/litechat/backend/internal/service/workflow"
	"github.com/litechat/backend/internal/storage"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyPrompt          = errors.New("prompt is required")
	ErrNoModels             = errors.New("at least one model id is required")
	ErrNoDefaultModel       = errors.New("no completion model configured")
	ErrNotStreaming         = errors.New("nothing is streaming")
	ErrNotRegenerable       = errors.New("only assistant messages can be regenerated")
)

// Observer receives workflow progress for one parent. Notifications arrive
// after the corresponding tree mutation and outside the service lock.
type Observer interface {
	WorkflowTaskSettled(parentID string, task chat.Message)
	WorkflowSettled(parentID string, status chat.WorkflowStatus)
}

// Titler refines conversation titles asynchronously.
type Titler interface {
	GenerateTitle(ctx context.Context, handle provider.Handle, opening string) (string, error)
}

// Service is the chat state store: it owns the per-conversation message
// trees, the active-coordinator registry and the single-turn cancel set, and
// is the only writer of any of them.
type Service struct {
	registry provider.Registry
	client   workflow.CompletionClient
	store    storage.Store

	titler     Titler
	titleModel string

	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string][]*chat.Message
	loaded        map[string]bool
	active        map[string]*workflow.Coordinator
	observers     map[string]Observer
	singles       map[string]context.CancelFunc
}

// NewService hydrates the conversation list and returns a ready store.
func NewService(ctx context.Context, registry provider.Registry, client workflow.CompletionClient, store storage.Store) (*Service, error) {
	conversations, err := store.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("hydrate conversations: %w", err)
	}

	s := &Service{
		registry:      registry,
		client:        client,
		store:         store,
		conversations: make(map[string]chat.Conversation, len(conversations)),
		messages:      make(map[string][]*chat.Message),
		loaded:        make(map[string]bool),
		active:        make(map[string]*workflow.Coordinator),
		observers:     make(map[string]Observer),
		singles:       make(map[string]context.CancelFunc),
	}
	for _, conv := range conversations {
		s.conversations[conv.ID] = conv
	}
	return s, nil
}

// SetTitler enables LLM title refinement with the given model id.
func (s *Service) SetTitler(t Titler, modelID string) {
	s.titler = t
	s.titleModel = modelID
}

// Close cancels every in-flight task. It does not close the storage gateway.
func (s *Service) Close() {
	s.mu.Lock()
	coordinators := make([]*workflow.Coordinator, 0, len(s.active))
	for _, c := range s.active {
		coordinators = append(coordinators, c)
	}
	cancels := make([]context.CancelFunc, 0, len(s.singles))
	for _, cancel := range s.singles {
		cancels = append(cancels, cancel)
	}
	s.active = make(map[string]*workflow.Coordinator)
	s.singles = make(map[string]context.CancelFunc)
	s.observers = make(map[string]Observer)
	s.mu.Unlock()

	for _, c := range coordinators {
		c.Cancel()
	}
	for _, cancel := range cancels {
		cancel()
	}
}

// CreateConversation provisions an empty conversation.
func (s *Service) CreateConversation(ctx context.Context, title string) (chat.Conversation, error) {
	now := time.Now().UTC()
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return chat.Conversation{}, err
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = []*chat.Message{}
	s.loaded[conv.ID] = true
	s.mu.Unlock()

	return conv, nil
}

// Conversations lists conversations, most recently updated first.
func (s *Service) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// DeleteConversation cancels any in-flight work and drops the conversation.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	var coordinators []*workflow.Coordinator
	var cancels []context.CancelFunc
	for _, msg := range s.messages[id] {
		if c, ok := s.active[msg.ID]; ok {
			coordinators = append(coordinators, c)
			delete(s.active, msg.ID)
			delete(s.observers, msg.ID)
		}
		if cancel, ok := s.singles[msg.ID]; ok {
			cancels = append(cancels, cancel)
			delete(s.singles, msg.ID)
		}
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.loaded, id)
	s.mu.Unlock()

	for _, c := range coordinators {
		c.Cancel()
	}
	for _, cancel := range cancels {
		cancel()
	}
	return s.store.DeleteConversation(ctx, id)
}

// Messages returns a deep copy of the conversation's message tree ordered by
// creation time.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msgs := s.messages[conversationID]
	out := make([]*chat.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Clone())
	}
	s.mu.Unlock()
	return out, nil
}

// IsStreaming reports whether any message, top-level or child, is streaming.
func (s *Service) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anyStreamingLocked()
}

// Usage sums prompt and completion tokens across the conversation tree.
func (s *Service) Usage(ctx context.Context, conversationID string) (tokensInput, tokensOutput int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		return 0, 0, err
	}
	for _, msg := range s.messages[conversationID] {
		tokensInput += msg.TokensInput
		tokensOutput += msg.TokensOutput
		for _, c := range msg.Children {
			tokensInput += c.TokensInput
			tokensOutput += c.TokensOutput
		}
	}
	return tokensInput, tokensOutput, nil
}

// Submit persists the user turn synchronously, then streams a single
// assistant reply against the default model. The returned message is the
// streaming placeholder.
func (s *Service) Submit(ctx context.Context, conversationID, content string) (*chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyPrompt
	}
	handle, ok := s.registry.Default()
	if !ok {
		return nil, ErrNoDefaultModel
	}

	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	history := s.snapshotLocked(conversationID)
	now := time.Now().UTC()

	user := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        content,
		CreatedAt:      now,
	}
	// The user turn is the one write that must not be lost; its failure
	// aborts the whole submission.
	if err := s.store.SaveMessage(ctx, user); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	s.messages[conversationID] = append(s.messages[conversationID], user)
	s.maybeAutoTitleLocked(conversationID, content)

	assistant := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		ProviderID:     handle.ProviderID,
		ModelID:        handle.ModelID,
		CreatedAt:      now.Add(time.Microsecond),
		IsStreaming:    true,
	}
	s.messages[conversationID] = append(s.messages[conversationID], assistant)

	taskCtx, cancel := context.WithCancel(context.Background())
	s.singles[assistant.ID] = cancel
	s.mu.Unlock()

	go func() {
		result, err := s.client.Complete(taskCtx, handle, history, content)
		if taskCtx.Err() != nil {
			err = workflow.ErrCancelled
		}
		s.finalizeSingle(assistant.ID, result, err)
	}()

	return assistant.Clone(), nil
}

// StartWorkflow fans the prompt out to every resolvable model id. Model ids
// that do not resolve are skipped and returned; if none resolve the parent
// is marked errored and no coordinator starts.
func (s *Service) StartWorkflow(ctx context.Context, conversationID, kind string, modelIDs []string, prompt string, obs Observer) (*chat.Message, []string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil, ErrEmptyPrompt
	}
	if len(modelIDs) == 0 {
		return nil, nil, ErrNoModels
	}
	if kind == "" {
		kind = chat.WorkflowRace
	}

	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}

	history := s.snapshotLocked(conversationID)
	now := time.Now().UTC()

	user := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        prompt,
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, user); err != nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("persist user message: %w", err)
	}
	s.messages[conversationID] = append(s.messages[conversationID], user)
	s.maybeAutoTitleLocked(conversationID, prompt)

	parent := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		CreatedAt:      now.Add(time.Microsecond),
		Children:       []*chat.Message{},
		Workflow: &chat.Workflow{
			Type:     kind,
			Status:   chat.WorkflowPending,
			ChildIDs: []string{},
		},
	}
	s.messages[conversationID] = append(s.messages[conversationID], parent)

	var tasks []workflow.Task
	var skipped []string
	for i, modelID := range modelIDs {
		handle, ok := s.registry.Resolve(modelID)
		if !ok {
			log.Printf("[chat] workflow %s: model %s not resolvable, skipping", parent.ID, modelID)
			skipped = append(skipped, modelID)
			continue
		}
		child := &chat.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			ParentID:       parent.ID,
			Role:           chat.RoleAssistant,
			ProviderID:     handle.ProviderID,
			ModelID:        handle.ModelID,
			// Offset keeps sibling order stable under equal clock reads.
			CreatedAt:   now.Add(time.Duration(i+2) * time.Microsecond),
			IsStreaming: true,
		}
		parent.Children = append(parent.Children, child)
		parent.Workflow.ChildIDs = append(parent.Workflow.ChildIDs, child.ID)
		tasks = append(tasks, workflow.Task{
			ID:      child.ID,
			Handle:  handle,
			History: history,
			Prompt:  prompt,
		})
	}

	if len(tasks) == 0 {
		parent.Workflow.Advance(chat.WorkflowError)
		snapshot := parent.Clone()
		s.mu.Unlock()
		s.persistParent(snapshot)
		return snapshot, skipped, nil
	}

	parent.Workflow.Advance(chat.WorkflowRunning)
	snapshot := parent.Clone()

	coordinator, err := workflow.Start(context.Background(), parent.ID, tasks, s.client, s)
	if err != nil {
		// Unreachable with a non-empty task list; fail the parent rather
		// than leave it pending forever.
		parent.Workflow.Advance(chat.WorkflowError)
		s.mu.Unlock()
		return nil, skipped, err
	}
	s.active[parent.ID] = coordinator
	if obs != nil {
		s.observers[parent.ID] = obs
	}
	s.mu.Unlock()

	s.persistParent(snapshot)
	return snapshot, skipped, nil
}

// TaskFinished implements workflow.Reporter.
func (s *Service) TaskFinished(parentID, taskID string, result workflow.Completion) {
	s.finalizeWorkflowTask(parentID, taskID, result, nil)
}

// TaskFailed implements workflow.Reporter.
func (s *Service) TaskFailed(parentID, taskID string, err error) {
	s.finalizeWorkflowTask(parentID, taskID, workflow.Completion{}, err)
}

// finalizeWorkflowTask folds one task outcome into the parent. Repeat
// settlements of the same task and results arriving after the parent went
// terminal are discarded.
func (s *Service) finalizeWorkflowTask(parentID, taskID string, result workflow.Completion, taskErr error) {
	s.mu.Lock()
	parent := s.findTopLevelLocked(parentID)
	if parent == nil || parent.Workflow == nil {
		s.mu.Unlock()
		log.Printf("[chat] dropping result for unknown workflow parent %s", parentID)
		return
	}
	if parent.Workflow.Status.Terminal() {
		s.mu.Unlock()
		log.Printf("[chat] dropping late result for settled workflow %s task %s", parentID, taskID)
		return
	}

	child := parent.Child(taskID)
	switch {
	case child == nil:
		// Should not happen: every task id is created as a placeholder.
		// Keep the result rather than lose a completed answer.
		log.Printf("[chat] missing placeholder for workflow %s task %s, appending", parentID, taskID)
		child = &chat.Message{
			ID:             taskID,
			ConversationID: parent.ConversationID,
			ParentID:       parentID,
			Role:           chat.RoleAssistant,
			CreatedAt:      time.Now().UTC(),
		}
		parent.Children = append(parent.Children, child)
	case !child.IsStreaming:
		s.mu.Unlock()
		return
	}

	if taskErr != nil {
		child.Error = taskErr.Error()
	} else {
		child.Content = result.Content
		child.TokensInput = result.TokensInput
		child.TokensOutput = result.TokensOutput
	}
	child.IsStreaming = false

	obs := s.observers[parentID]
	taskCopy := *child.Clone()

	var settledStatus chat.WorkflowStatus
	var snapshot *chat.Message
	if parent.Settled() {
		next := chat.WorkflowCompleted
		if parent.HasErroredChild() {
			next = chat.WorkflowError
		}
		parent.Workflow.Advance(next)
		settledStatus = parent.Workflow.Status
		snapshot = parent.Clone()
		delete(s.active, parentID)
		delete(s.observers, parentID)
	}
	s.mu.Unlock()

	if obs != nil {
		obs.WorkflowTaskSettled(parentID, taskCopy)
	}
	if snapshot != nil {
		s.persistParent(snapshot)
		if obs != nil {
			obs.WorkflowSettled(parentID, settledStatus)
		}
	}
}

// StopStreaming cancels the workflow under parentID, or, when parentID is
// empty, the most recent single-turn streaming message.
func (s *Service) StopStreaming(parentID string) error {
	if parentID == "" {
		return s.stopLatestSingle()
	}

	s.mu.Lock()
	parent := s.findTopLevelLocked(parentID)
	coordinator := s.active[parentID]
	delete(s.active, parentID)
	obs := s.observers[parentID]
	delete(s.observers, parentID)
	if parent == nil || parent.Workflow == nil {
		s.mu.Unlock()
		if coordinator != nil {
			coordinator.Cancel()
		}
		return ErrMessageNotFound
	}
	for _, child := range parent.Children {
		if child.IsStreaming {
			child.IsStreaming = false
			child.Error = workflow.ErrCancelled.Error()
		}
	}
	parent.Workflow.Advance(chat.WorkflowError)
	snapshot := parent.Clone()
	s.mu.Unlock()

	if coordinator != nil {
		coordinator.Cancel()
	}
	s.persistParent(snapshot)
	if obs != nil {
		obs.WorkflowSettled(parentID, chat.WorkflowError)
	}
	return nil
}

func (s *Service) stopLatestSingle() error {
	s.mu.Lock()
	var latest *chat.Message
	for _, msgs := range s.messages {
		for _, msg := range msgs {
			if msg.Workflow != nil || !msg.IsStreaming {
				continue
			}
			if latest == nil || msg.CreatedAt.After(latest.CreatedAt) {
				latest = msg
			}
		}
	}
	if latest == nil {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	latest.IsStreaming = false
	latest.Error = workflow.ErrCancelled.Error()
	cancel := s.singles[latest.ID]
	delete(s.singles, latest.ID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Regenerate removes the target assistant turn so the caller can re-trigger
// generation. A workflow child removes its whole parent: sibling tasks are
// cancelled rather than left in a half-regenerated workflow.
func (s *Service) Regenerate(ctx context.Context, messageID string) (*chat.Message, error) {
	s.mu.Lock()
	target, conversationID := s.locateLocked(messageID)
	if target == nil {
		s.mu.Unlock()
		return nil, ErrMessageNotFound
	}
	if target.ParentID != "" {
		// Child of a workflow: the parent is the unit of regeneration.
		target = s.findTopLevelLocked(target.ParentID)
		if target == nil {
			s.mu.Unlock()
			return nil, ErrMessageNotFound
		}
	}
	if target.Role != chat.RoleAssistant {
		s.mu.Unlock()
		return nil, ErrNotRegenerable
	}

	coordinator := s.active[target.ID]
	delete(s.active, target.ID)
	delete(s.observers, target.ID)
	cancel := s.singles[target.ID]
	delete(s.singles, target.ID)

	if target.Workflow != nil {
		for _, child := range target.Children {
			if child.IsStreaming {
				child.IsStreaming = false
				child.Error = workflow.ErrCancelled.Error()
			}
		}
		target.Workflow.Advance(chat.WorkflowError)
	} else if target.IsStreaming {
		target.IsStreaming = false
		target.Error = workflow.ErrCancelled.Error()
	}

	msgs := s.messages[conversationID]
	for i, msg := range msgs {
		if msg.ID == target.ID {
			s.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	removed := target.Clone()
	s.mu.Unlock()

	if coordinator != nil {
		coordinator.Cancel()
	}
	if cancel != nil {
		cancel()
	}

	if err := s.store.DeleteMessage(ctx, removed.ID); err != nil && !errors.Is(err, storage.ErrMessageNotFound) {
		return removed, fmt.Errorf("delete message %s: %w", removed.ID, err)
	}
	return removed, nil
}

// finalizeSingle settles a single-turn streaming message. A message already
// settled by StopStreaming is left untouched.
func (s *Service) finalizeSingle(messageID string, result workflow.Completion, taskErr error) {
	s.mu.Lock()
	msg, _ := s.locateLocked(messageID)
	if msg == nil || !msg.IsStreaming {
		s.mu.Unlock()
		return
	}
	if taskErr != nil {
		msg.Error = taskErr.Error()
	} else {
		msg.Content = result.Content
		msg.TokensInput = result.TokensInput
		msg.TokensOutput = result.TokensOutput
	}
	msg.IsStreaming = false
	delete(s.singles, messageID)
	snapshot := msg.Clone()
	s.mu.Unlock()

	s.persistParent(snapshot)
}

// RecordAssistantMessage appends an externally produced assistant turn (the
// SSE streaming path assembles content outside the store) and persists it.
func (s *Service) RecordAssistantMessage(ctx context.Context, conversationID, content, providerID, modelID string, tokensInput, tokensOutput int) (*chat.Message, error) {
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msg := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		Content:        content,
		ProviderID:     providerID,
		ModelID:        modelID,
		TokensInput:    tokensInput,
		TokensOutput:   tokensOutput,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.mu.Unlock()

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, conversationID, msg.CreatedAt); err != nil {
		log.Printf("[chat] touch conversation %s: %v", conversationID, err)
	}
	return msg.Clone(), nil
}

// RecordUserMessage appends and persists a user turn without triggering
// generation.
func (s *Service) RecordUserMessage(ctx context.Context, conversationID, content string) (*chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyPrompt
	}
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msg := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.maybeAutoTitleLocked(conversationID, content)
	s.mu.Unlock()

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	return msg.Clone(), nil
}

// History returns a prompt-ready snapshot of the conversation.
func (s *Service) History(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.snapshotLocked(conversationID), nil
}

// persistParent writes a settled message tree. Persistence is fire-and-
// forget relative to the UI: failures are logged, never rolled back.
func (s *Service) persistParent(snapshot *chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SaveMessage(ctx, snapshot); err != nil {
		log.Printf("[chat] persist message %s: %v", snapshot.ID, err)
		return
	}
	if err := s.store.TouchConversation(ctx, snapshot.ConversationID, time.Now().UTC()); err != nil {
		log.Printf("[chat] touch conversation %s: %v", snapshot.ConversationID, err)
	}
	s.mu.Lock()
	if conv, ok := s.conversations[snapshot.ConversationID]; ok {
		conv.UpdatedAt = time.Now().UTC()
		s.conversations[snapshot.ConversationID] = conv
	}
	s.mu.Unlock()
}

// ensureLoadedLocked hydrates a conversation's messages on first access.
// Workflows that were still running when the process died are coerced to
// error: no coordinator can exist for them anymore.
func (s *Service) ensureLoadedLocked(ctx context.Context, conversationID string) error {
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrConversationNotFound
	}
	if s.loaded[conversationID] {
		return nil
	}
	msgs, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("hydrate messages for %s: %w", conversationID, err)
	}
	for _, msg := range msgs {
		if msg.Workflow != nil && !msg.Workflow.Status.Terminal() {
			msg.Workflow.Advance(chat.WorkflowError)
		}
	}
	s.messages[conversationID] = msgs
	s.loaded[conversationID] = true
	return nil
}

// snapshotLocked deep-copies the tree for use as prompt history outside the
// lock.
func (s *Service) snapshotLocked(conversationID string) []*chat.Message {
	msgs := s.messages[conversationID]
	out := make([]*chat.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Clone())
	}
	return out
}

func (s *Service) findTopLevelLocked(messageID string) *chat.Message {
	for _, msgs := range s.messages {
		for _, msg := range msgs {
			if msg.ID == messageID {
				return msg
			}
		}
	}
	return nil
}

// locateLocked finds a message anywhere in the forest, children included.
func (s *Service) locateLocked(messageID string) (*chat.Message, string) {
	for conversationID, msgs := range s.messages {
		for _, msg := range msgs {
			if msg.ID == messageID {
				return msg, conversationID
			}
			if child := msg.Child(messageID); child != nil {
				return child, conversationID
			}
		}
	}
	return nil, ""
}

func (s *Service) anyStreamingLocked() bool {
	for _, msgs := range s.messages {
		for _, msg := range msgs {
			if msg.IsStreaming {
				return true
			}
			for _, child := range msg.Children {
				if child.IsStreaming {
					return true
				}
			}
		}
	}
	return false
}

// maybeAutoTitleLocked gives an untitled conversation a heuristic title from
// its opening prompt and, when a title model is configured, queues an LLM
// refinement.
func (s *Service) maybeAutoTitleLocked(conversationID, opening string) {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.Title != "" {
		return
	}
	conv.Title = summarize(opening)
	s.conversations[conversationID] = conv

	go func(conv chat.Conversation) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.store.SaveConversation(ctx, conv); err != nil {
			log.Printf("[chat] save conversation title %s: %v", conv.ID, err)
		}
		if s.titler == nil || s.titleModel == "" {
			return
		}
		handle, ok := s.registry.Resolve(s.titleModel)
		if !ok {
			return
		}
		title, err := s.titler.GenerateTitle(ctx, handle, opening)
		if err != nil || title == "" {
			if err != nil {
				log.Printf("[chat] title generation for %s: %v", conv.ID, err)
			}
			return
		}
		s.SetConversationTitle(ctx, conv.ID, title)
	}(conv)
}

// SetConversationTitle renames a conversation and persists the change.
func (s *Service) SetConversationTitle(ctx context.Context, conversationID, title string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Title = strings.TrimSpace(title)
	s.conversations[conversationID] = conv
	s.mu.Unlock()

	return s.store.SaveConversation(ctx, conv)
}

// summarize derives a title from the opening prompt: first 50 runes, one
// line.
func summarize(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	content = strings.ReplaceAll(content, "\r", "")
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > 50 {
		return string(runes[:47]) + "..."
	}
	if content == "" {
		return "New conversation"
	}
	return content
}
