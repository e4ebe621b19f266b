package handler

import (
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/litechat/backend/internal/handler/chat"
	"github.com/litechat/backend/internal/handler/conversation"
	"github.com/litechat/backend/internal/handler/stream"
	"github.com/litechat/backend/internal/handler/ws"
	middlewarePkg "github.com/litechat/backend/internal/middleware"
	"github.com/litechat/backend/internal/provider"
	aiService "github.com/litechat/backend/internal/service/ai"
	chatService "github.com/litechat/backend/internal/service/chat"
	"github.com/litechat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, aiSvc *aiService.Service, registry provider.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	conversationHandler := conversation.New(chatSvc)
	messageHandler := chatHandler.New(chatSvc)
	streamHandler := stream.New(aiSvc, chatSvc, registry)
	wsHandler := ws.New(aiSvc, chatSvc, registry)

	r.Route("/api", func(api chi.Router) {
		conversationHandler.RegisterRoutes(api)
		messageHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			type modelInfo struct {
				ProviderID string `json:"providerId"`
				ModelID    string `json:"modelId"`
			}
			handles := registry.List()
			models := make([]modelInfo, 0, len(handles))
			for _, h := range handles {
				models = append(models, modelInfo{ProviderID: h.ProviderID, ModelID: h.ModelID})
			}
			utils.RespondJSON(w, http.StatusOK, models)
		})

		api.Get("/stream/{conversationID}", func(w http.ResponseWriter, r *http.Request) {
			conversationID := chi.URLParam(r, "conversationID")
			userMessage := r.URL.Query().Get("message")
			modelID := r.URL.Query().Get("model")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleSingleTurn(r.Context(), w, conversationID, userMessage, modelID); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})

		api.Get("/stream/workflow/{conversationID}", func(w http.ResponseWriter, r *http.Request) {
			conversationID := chi.URLParam(r, "conversationID")
			userMessage := r.URL.Query().Get("message")
			modelsParam := r.URL.Query().Get("models")

			if userMessage == "" || modelsParam == "" {
				utils.RespondError(w, http.StatusBadRequest, "message and models query parameters are required")
				return
			}
			var modelIDs []string
			for _, m := range strings.Split(modelsParam, ",") {
				if m = strings.TrimSpace(m); m != "" {
					modelIDs = append(modelIDs, m)
				}
			}

			kind := r.URL.Query().Get("type")
			if err := streamHandler.HandleWorkflow(r.Context(), w, conversationID, kind, modelIDs, userMessage); err != nil {
				log.Printf("[stream] error handling workflow request: %v", err)
			}
		})
	})

	return r
}
