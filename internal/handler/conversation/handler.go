// Package conversation exposes conversation CRUD and transcript reads.
package conversation

import (
	"encoding/json"
	"errors"
	"net/http"

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
	r.Post("/conversations", h.handleCreate)
	r.Get("/conversations", h.handleList)
	r.Delete("/conversations/{conversationID}", h.handleDelete)
	r.Put("/conversations/{conversationID}/title", h.handleRename)
	r.Get("/conversations/{conversationID}/messages", h.handleMessages)
	r.Get("/conversations/{conversationID}/usage", h.handleUsage)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	// An empty body creates an untitled conversation.
	_ = json.NewDecoder(r.Body).Decode(&payload)

	conv, err := h.chatSvc.CreateConversation(r.Context(), payload.Title)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Conversations())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.chatSvc.DeleteConversation(r.Context(), id); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Title == "" {
		utils.RespondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := h.chatSvc.SetConversationTitle(r.Context(), id, payload.Title); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	msgs, err := h.chatSvc.Messages(r.Context(), id)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	in, out, err := h.chatSvc.Usage(r.Context(), id)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{
		"tokensInput":  in,
		"tokensOutput": out,
		"tokensTotal":  in + out,
	})
}

func statusFor(err error) int {
	if errors.Is(err, chatService.ErrConversationNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
