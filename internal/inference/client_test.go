package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/peerlink-core/internal/model"
)

func testEnvelope() model.Envelope {
	now := time.Now()
	return model.Envelope{
		ConversationID: "c1",
		Messages: []model.RelayMessage{
			model.NewMessage("c1", model.RoleUser, "What is the capital of France?", now),
		},
		Parameters: map[string]string{ParamSystemPrompt: "Be brief."},
	}
}

// sentRequest is the part of a chat completion request the tests inspect.
type sentRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body)) //nolint:errcheck // Test server
}

func TestNewClient_Validation(t *testing.T) {
	for _, raw := range []string{"", "   ", "localhost:11434", "http://"} {
		if _, err := NewClient(Config{BaseURL: raw}); err == nil {
			t.Errorf("NewClient(%q) expected error", raw)
		}
	}
	if _, err := NewClient(Config{BaseURL: "http://127.0.0.1:11434/v1/"}); err != nil {
		t.Errorf("NewClient() error = %v", err)
	}
}

func TestGenerateReply(t *testing.T) {
	var got sentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		reply(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"<think>easy</think>Paris."}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/v1", Model: "llama3", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	text, err := client.GenerateReply(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("GenerateReply() error = %v", err)
	}
	if text != "<think>easy</think>Paris." {
		t.Errorf("reply = %q", text)
	}
	if got.Model != "llama3" || got.Stream {
		t.Errorf("request model/stream = %q/%v", got.Model, got.Stream)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != model.RoleSystem || got.Messages[1].Role != model.RoleUser {
		t.Errorf("request messages = %+v", got.Messages)
	}
}

func TestGenerateReply_ModelOverride(t *testing.T) {
	var got sentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		reply(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, Model: "default"}) //nolint:errcheck // Valid URL
	env := testEnvelope()
	env.Parameters[ParamModel] = "qwen2.5:14b"

	if _, err := client.GenerateReply(context.Background(), env); err != nil {
		t.Fatalf("GenerateReply() error = %v", err)
	}
	if got.Model != "qwen2.5:14b" {
		t.Errorf("model = %q, want qwen2.5:14b", got.Model)
	}
}

func TestGenerateReply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				reply(w, http.StatusServiceUnavailable, `{"error":{"message":"model loading"}}`)
			},
			wantErr: ErrNetwork,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				reply(w, http.StatusOK, `not json`)
			},
			wantErr: ErrDecode,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				reply(w, http.StatusOK, `{"choices":[]}`)
			},
			wantErr: ErrEmptyReply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client, _ := NewClient(Config{BaseURL: srv.URL}) //nolint:errcheck // Valid URL
			_, err := client.GenerateReply(context.Background(), testEnvelope())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GenerateReply() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateReply_APIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusBadRequest, `{"error":{"message":"unknown model"}}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL}) //nolint:errcheck // Valid URL
	_, err := client.GenerateReply(context.Background(), testEnvelope())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "unknown model" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestGenerateReply_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, _ := NewClient(Config{BaseURL: url, Timeout: time.Second}) //nolint:errcheck // Valid URL
	if _, err := client.GenerateReply(context.Background(), testEnvelope()); !errors.Is(err, ErrNetwork) {
		t.Errorf("GenerateReply() error = %v, want ErrNetwork", err)
	}
}

func TestBuildMessages_Roles(t *testing.T) {
	now := time.Now()
	env := model.Envelope{
		ConversationID: "c1",
		Messages: []model.RelayMessage{
			model.NewMessage("c1", model.RoleUser, "hi", now),
			model.NewMessage("c1", model.RoleAssistant, "hello", now),
			model.NewMessage("c1", model.RoleUser, "again", now),
		},
	}
	env.Messages[1].FullText = "<think>greet</think>hello"

	var got sentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		reply(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, Model: "m"}) //nolint:errcheck // Valid URL
	if _, err := client.GenerateReply(context.Background(), env); err != nil {
		t.Fatalf("GenerateReply() error = %v", err)
	}

	want := []struct{ role, content string }{
		{model.RoleUser, "hi"},
		{model.RoleAssistant, "<think>greet</think>hello"},
		{model.RoleUser, "again"},
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages = %+v, want %d", got.Messages, len(want))
	}
	for i, w := range want {
		if got.Messages[i].Role != w.role || got.Messages[i].Content != w.content {
			t.Errorf("messages[%d] = %+v, want %s %q", i, got.Messages[i], w.role, w.content)
		}
	}
}
