// Package chat exposes message submission, fan-out workflows and stream
// control over REST.
package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	chatService "github.com/litechat/backend/internal/service/chat"
	"github.com/litechat/backend/pkg/utils"
)

type Handler struct {
	chatSvc *chatService.Service
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/submit", h.handleSubmit)
	r.Post("/chat/workflow", h.handleWorkflow)
	r.Post("/chat/stop", h.handleStop)
	r.Post("/chat/regenerate", h.handleRegenerate)
}

// handleSubmit accepts either a plain prompt or a workflow command such as
// "/race model-a,model-b prompt" and dispatches accordingly.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	if cmd, ok := parseCommand(payload.Content); ok {
		if cmd.err != nil {
			utils.RespondError(w, http.StatusBadRequest, cmd.err.Error())
			return
		}
		parent, skipped, err := h.chatSvc.StartWorkflow(r.Context(), payload.ConversationID, cmd.kind, cmd.models, cmd.prompt, nil)
		if err != nil {
			utils.RespondError(w, statusFor(err), err.Error())
			return
		}
		utils.RespondJSON(w, http.StatusAccepted, workflowResponse(parent, skipped))
		return
	}

	msg, err := h.chatSvc.Submit(r.Context(), payload.ConversationID, payload.Content)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string   `json:"conversationId"`
		Type           string   `json:"type"`
		ModelIDs       []string `json:"modelIds"`
		Prompt         string   `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	parent, skipped, err := h.chatSvc.StartWorkflow(r.Context(), payload.ConversationID, payload.Type, payload.ModelIDs, payload.Prompt, nil)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, workflowResponse(parent, skipped))
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ParentID string `json:"parentId"`
	}
	// An empty body stops the most recent single-turn stream.
	_ = json.NewDecoder(r.Body).Decode(&payload)

	if err := h.chatSvc.StopStreaming(payload.ParentID); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.MessageID == "" {
		utils.RespondError(w, http.StatusBadRequest, "messageId is required")
		return
	}

	removed, err := h.chatSvc.Regenerate(r.Context(), payload.MessageID)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "removed",
		"removed": removed,
	})
}

func workflowResponse(parent interface{}, skipped []string) map[string]interface{} {
	resp := map[string]interface{}{"parent": parent}
	if len(skipped) > 0 {
		resp["skippedModels"] = skipped
	}
	return resp
}

// command is a parsed slash command.
type command struct {
	kind   string
	models []string
	prompt string
	err    error
}

// parseCommand recognizes "/race m1,m2 prompt". The second return is false
// for plain prompts; cmd.err carries malformed-command details.
func parseCommand(content string) (command, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/race") {
		return command{}, false
	}

	rest := strings.TrimSpace(strings.TrimPrefix(content, "/race"))
	fields := strings.SplitN(rest, " ", 2)
	if rest == "" || len(fields) < 2 {
		return command{err: errors.New("usage: /race model1,model2 prompt")}, true
	}

	var models []string
	for _, m := range strings.Split(fields[0], ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	prompt := strings.TrimSpace(fields[1])
	if len(models) == 0 || prompt == "" {
		return command{err: errors.New("usage: /race model1,model2 prompt")}, true
	}

	return command{kind: "race", models: models, prompt: prompt}, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrConversationNotFound),
		errors.Is(err, chatService.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrEmptyPrompt),
		errors.Is(err, chatService.ErrNoModels),
		errors.Is(err, chatService.ErrNotRegenerable):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrNotStreaming):
		return http.StatusConflict
	case errors.Is(err, chatService.ErrNoDefaultModel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
