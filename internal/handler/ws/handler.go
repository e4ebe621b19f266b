// Package ws serves a duplex chat feed: clients submit turns and workflow
// commands over one WebSocket and receive deltas and settlements back.
package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
	aiService "github.com/litechat/backend/internal/service/ai"
	chatService "github.com/litechat/backend/internal/service/chat"
)

type Handler struct {
	aiSvc    *aiService.Service
	chatSvc  *chatService.Service
	registry provider.Registry
	upgrader websocket.Upgrader
}

func New(aiSvc *aiService.Service, chatSvc *chatService.Service, registry provider.Registry) *Handler {
	return &Handler{
		aiSvc:    aiSvc,
		chatSvc:  chatSvc,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string   `json:"type"`
	Content   string   `json:"content,omitempty"`
	ModelID   string   `json:"modelId,omitempty"`
	ModelIDs  []string `json:"modelIds,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	ParentID  string   `json:"parentId,omitempty"`
}

type outgoingMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msgType, conversationID string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.conn.WriteJSON(outgoingMessage{
		Type:           msgType,
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func (c *wsConn) sendError(conversationID, msg string) {
	c.send("error", conversationID, map[string]string{"message": msg})
}

// feedObserver relays workflow progress onto the socket.
type feedObserver struct {
	conn           *wsConn
	conversationID string
}

func (o *feedObserver) WorkflowTaskSettled(parentID string, task chat.Message) {
	o.conn.send("task", o.conversationID, map[string]interface{}{
		"parentId": parentID,
		"task":     task,
	})
}

func (o *feedObserver) WorkflowSettled(parentID string, status chat.WorkflowStatus) {
	o.conn.send("workflow_end", o.conversationID, map[string]interface{}{
		"parentId": parentID,
		"status":   status,
	})
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	wc := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Printf("[ws] feed opened for conversation=%s", conversationID)
	wc.send("connected", conversationID, nil)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed: %v", err)
			}
			return
		}
		h.dispatch(ctx, wc, conversationID, inbound)
	}
}

func (h *Handler) dispatch(ctx context.Context, wc *wsConn, conversationID string, inbound inboundMessage) {
	switch inbound.Type {
	case "submit":
		go h.handleSubmit(ctx, wc, conversationID, inbound)
	case "workflow":
		h.handleWorkflow(ctx, wc, conversationID, inbound)
	case "stop":
		if err := h.chatSvc.StopStreaming(inbound.ParentID); err != nil {
			wc.sendError(conversationID, err.Error())
			return
		}
		wc.send("stopped", conversationID, map[string]string{"parentId": inbound.ParentID})
	case "regenerate":
		removed, err := h.chatSvc.Regenerate(ctx, inbound.MessageID)
		if err != nil {
			wc.sendError(conversationID, err.Error())
			return
		}
		wc.send("removed", conversationID, removed)
	default:
		wc.sendError(conversationID, "unknown message type: "+inbound.Type)
	}
}

// handleSubmit streams a single completion as delta frames, then records the
// assembled assistant turn.
func (h *Handler) handleSubmit(ctx context.Context, wc *wsConn, conversationID string, inbound inboundMessage) {
	handle, ok := h.resolve(inbound.ModelID)
	if !ok {
		wc.sendError(conversationID, "no completion model configured")
		return
	}

	history, err := h.chatSvc.History(ctx, conversationID)
	if err != nil {
		wc.sendError(conversationID, err.Error())
		return
	}
	user, err := h.chatSvc.RecordUserMessage(ctx, conversationID, inbound.Content)
	if err != nil {
		wc.sendError(conversationID, err.Error())
		return
	}
	wc.send("user_message", conversationID, user)

	stream, err := h.aiSvc.Stream(ctx, handle, history, inbound.Content)
	if err != nil {
		wc.sendError(conversationID, err.Error())
		return
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			wc.sendError(conversationID, recvErr.Error())
			return
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			wc.send("delta", conversationID, map[string]string{"content": chunk.Content})
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		wc.sendError(conversationID, err.Error())
		return
	}

	var tokensIn, tokensOut int
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		tokensIn = response.ResponseMeta.Usage.PromptTokens
		tokensOut = response.ResponseMeta.Usage.CompletionTokens
	}
	saved, err := h.chatSvc.RecordAssistantMessage(ctx, conversationID, response.Content, handle.ProviderID, handle.ModelID, tokensIn, tokensOut)
	if err != nil {
		wc.sendError(conversationID, err.Error())
		return
	}
	wc.send("message", conversationID, saved)
}

func (h *Handler) handleWorkflow(ctx context.Context, wc *wsConn, conversationID string, inbound inboundMessage) {
	obs := &feedObserver{conn: wc, conversationID: conversationID}
	parent, skipped, err := h.chatSvc.StartWorkflow(ctx, conversationID, "", inbound.ModelIDs, inbound.Content, obs)
	if err != nil {
		wc.sendError(conversationID, err.Error())
		return
	}

	data := map[string]interface{}{"parent": parent}
	if len(skipped) > 0 {
		data["skippedModels"] = skipped
	}
	wc.send("workflow_start", conversationID, data)
}

func (h *Handler) resolve(modelID string) (provider.Handle, bool) {
	if modelID != "" {
		return h.registry.Resolve(modelID)
	}
	return h.registry.Default()
}
