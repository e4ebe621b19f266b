// Package stream serves completions over Server-Sent Events: token deltas
// for single turns and task settlements for fan-out workflows.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
	aiService "github.com/litechat/backend/internal/service/ai"
	chatService "github.com/litechat/backend/internal/service/chat"
)

type Handler struct {
	aiSvc    *aiService.Service
	chatSvc  *chatService.Service
	registry provider.Registry
}

func New(aiSvc *aiService.Service, chatSvc *chatService.Service, registry provider.Registry) *Handler {
	return &Handler{
		aiSvc:    aiSvc,
		chatSvc:  chatSvc,
		registry: registry,
	}
}

// StreamResponse is one SSE frame.
type StreamResponse struct {
	Event          string        `json:"event"`
	ConversationID string        `json:"conversationId,omitempty"`
	Content        string        `json:"content,omitempty"`
	Message        *chat.Message `json:"message,omitempty"`
	Status         string        `json:"status,omitempty"`
	Finished       bool          `json:"finished,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// HandleSingleTurn streams one completion as token deltas, then records the
// assembled assistant turn. modelID may be empty to use the default model.
func (h *Handler) HandleSingleTurn(ctx context.Context, w http.ResponseWriter, conversationID, userMessage, modelID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}
	setupHeaders(w)

	handle, ok := h.resolve(modelID)
	if !ok {
		h.sendError(w, flusher, "no completion model configured")
		return chatService.ErrNoDefaultModel
	}

	// History must not include the new turn; the prompt builder appends it.
	history, err := h.chatSvc.History(ctx, conversationID)
	if err != nil {
		h.sendError(w, flusher, err.Error())
		return err
	}
	if _, err := h.chatSvc.RecordUserMessage(ctx, conversationID, userMessage); err != nil {
		h.sendError(w, flusher, err.Error())
		return err
	}

	h.send(w, flusher, StreamResponse{Event: "start", ConversationID: conversationID})

	response, err := h.streamDeltas(ctx, w, flusher, handle, history, userMessage, conversationID)
	if err != nil {
		h.sendError(w, flusher, fmt.Sprintf("generation failed: %v", err))
		return err
	}

	var tokensIn, tokensOut int
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		tokensIn = response.ResponseMeta.Usage.PromptTokens
		tokensOut = response.ResponseMeta.Usage.CompletionTokens
	}
	saved, err := h.chatSvc.RecordAssistantMessage(ctx, conversationID, response.Content, handle.ProviderID, handle.ModelID, tokensIn, tokensOut)
	if err != nil {
		log.Printf("[stream] failed to record assistant message: %v", err)
	}

	h.send(w, flusher, StreamResponse{
		Event:          "message",
		ConversationID: conversationID,
		Content:        response.Content,
		Message:        saved,
	})
	h.send(w, flusher, StreamResponse{Event: "end", ConversationID: conversationID, Finished: true})

	log.Printf("[stream] completed turn for conversation=%s model=%s", conversationID, handle.ModelID)
	return nil
}

// HandleWorkflow starts a fan-out workflow and relays task settlements until
// the parent settles or the client disconnects. A disconnect does not cancel
// the workflow; it keeps running and persists.
func (h *Handler) HandleWorkflow(ctx context.Context, w http.ResponseWriter, conversationID, kind string, modelIDs []string, prompt string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}
	setupHeaders(w)

	obs := newFeed()
	parent, skipped, err := h.chatSvc.StartWorkflow(ctx, conversationID, kind, modelIDs, prompt, obs)
	if err != nil {
		h.sendError(w, flusher, err.Error())
		return err
	}

	start := StreamResponse{
		Event:          "workflow_start",
		ConversationID: conversationID,
		Message:        parent,
	}
	if len(skipped) > 0 {
		data, _ := json.Marshal(skipped)
		start.Content = string(data)
	}
	h.send(w, flusher, start)

	if parent.Workflow.Status.Terminal() {
		h.send(w, flusher, StreamResponse{
			Event:          "workflow_end",
			ConversationID: conversationID,
			Status:         string(parent.Workflow.Status),
			Finished:       true,
		})
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[stream] client left workflow %s feed, tasks continue", parent.ID)
			return nil
		case task := <-obs.tasks:
			h.send(w, flusher, StreamResponse{
				Event:          "task",
				ConversationID: conversationID,
				Message:        &task,
			})
		case status := <-obs.settled:
			// The final task frame is buffered before settlement fires.
			for drained := false; !drained; {
				select {
				case task := <-obs.tasks:
					h.send(w, flusher, StreamResponse{
						Event:          "task",
						ConversationID: conversationID,
						Message:        &task,
					})
				default:
					drained = true
				}
			}
			h.send(w, flusher, StreamResponse{
				Event:          "workflow_end",
				ConversationID: conversationID,
				Status:         string(status),
				Finished:       true,
			})
			return nil
		}
	}
}

// feed buffers observer callbacks for the SSE write loop. Buffers are sized
// so a slow client never blocks task settlement.
type feed struct {
	tasks   chan chat.Message
	settled chan chat.WorkflowStatus
}

func newFeed() *feed {
	return &feed{
		tasks:   make(chan chat.Message, 32),
		settled: make(chan chat.WorkflowStatus, 1),
	}
}

func (f *feed) WorkflowTaskSettled(_ string, task chat.Message) {
	select {
	case f.tasks <- task:
	default:
	}
}

func (f *feed) WorkflowSettled(_ string, status chat.WorkflowStatus) {
	select {
	case f.settled <- status:
	default:
	}
}

func (h *Handler) resolve(modelID string) (provider.Handle, bool) {
	if modelID != "" {
		return h.registry.Resolve(modelID)
	}
	return h.registry.Default()
}

func (h *Handler) streamDeltas(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, handle provider.Handle, history []*chat.Message, userMessage, conversationID string) (*schema.Message, error) {
	stream, err := h.aiSvc.Stream(ctx, handle, history, userMessage)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.send(w, flusher, StreamResponse{
				Event:          "delta",
				ConversationID: conversationID,
				Content:        chunk.Content,
			})
		}
	}

	return schema.ConcatMessages(chunks)
}

func setupHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		log.Printf("failed to marshal SSE response: %v", err)
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.send(w, flusher, StreamResponse{Event: "error", Error: errorMsg})
}
