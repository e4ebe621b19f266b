package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
	chatService "github.com/litechat/backend/internal/service/chat"
	"github.com/litechat/backend/internal/service/workflow"
	"github.com/litechat/backend/internal/storage"
)

type instantClient struct{}

func (instantClient) Complete(_ context.Context, handle provider.Handle, _ []*chat.Message, prompt string) (workflow.Completion, error) {
	return workflow.Completion{Content: handle.ModelID + ": " + prompt}, nil
}

func newTestRouter(t *testing.T, modelIDs ...string) (chi.Router, *chatService.Service) {
	t.Helper()
	handles := make([]provider.Handle, 0, len(modelIDs))
	for _, id := range modelIDs {
		handles = append(handles, provider.Handle{ProviderID: "test", ModelID: id})
	}
	svc, err := chatService.NewService(context.Background(), provider.NewStaticRegistry(handles, nil), instantClient{}, storage.NewMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r, svc
}

func postJSON(t *testing.T, router http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand("/race gpt-x,claude-y which is faster?")
	if !ok || cmd.err != nil {
		t.Fatalf("expected valid command, got ok=%v err=%v", ok, cmd.err)
	}
	if cmd.kind != "race" || len(cmd.models) != 2 || cmd.models[1] != "claude-y" {
		t.Fatalf("parsed wrong: %+v", cmd)
	}
	if cmd.prompt != "which is faster?" {
		t.Fatalf("prompt = %q", cmd.prompt)
	}

	if _, ok := parseCommand("just a question about /race conditions"); ok {
		t.Fatal("mid-sentence slash must not parse as a command")
	}

	for _, bad := range []string{"/race", "/race m1,m2"} {
		cmd, ok := parseCommand(bad)
		if !ok || cmd.err == nil {
			t.Fatalf("%q must parse as malformed command, got ok=%v err=%v", bad, ok, cmd.err)
		}
	}
}

func TestSubmitRequiresConversation(t *testing.T) {
	router, _ := newTestRouter(t, "m1")

	rec := postJSON(t, router, "/chat/submit", map[string]string{"content": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/chat/submit", map[string]string{
		"conversationId": "missing", "content": "hi",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

func TestSubmitDispatchesRaceCommand(t *testing.T) {
	router, svc := newTestRouter(t, "m1", "m2")
	conv, err := svc.CreateConversation(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rec := postJSON(t, router, "/chat/submit", map[string]string{
		"conversationId": conv.ID,
		"content":        "/race m1,m2 compare yourselves",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Parent chat.Message `json:"parent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Parent.Workflow == nil || resp.Parent.Workflow.Type != chat.WorkflowRace {
		t.Fatalf("expected race parent, got %+v", resp.Parent.Workflow)
	}
	if len(resp.Parent.Workflow.ChildIDs) != 2 {
		t.Fatalf("expected two tasks, got %v", resp.Parent.Workflow.ChildIDs)
	}
}

func TestWorkflowEndpointReportsSkippedModels(t *testing.T) {
	router, svc := newTestRouter(t, "m1")
	conv, _ := svc.CreateConversation(context.Background(), "")

	rec := postJSON(t, router, "/chat/workflow", map[string]interface{}{
		"conversationId": conv.ID,
		"modelIds":       []string{"m1", "ghost"},
		"prompt":         "go",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Skipped []string `json:"skippedModels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Skipped) != 1 || resp.Skipped[0] != "ghost" {
		t.Fatalf("expected ghost skipped, got %v", resp.Skipped)
	}
}

func TestStopWithNothingStreaming(t *testing.T) {
	router, _ := newTestRouter(t, "m1")

	rec := postJSON(t, router, "/chat/stop", map[string]string{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
