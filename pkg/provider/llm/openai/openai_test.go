package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "s"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: err=%v OfSystem=%v", err, sys.OfSystem)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "u"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: err=%v OfUser=%v", err, usr.OfUser)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "a"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: err=%v OfAssistant=%v", err, asst.OfAssistant)
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := convertMessage(llm.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestBuildParams_RequiresMessages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("expected error without messages")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for missing api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for missing model")
	}
	if _, err := New("sk-test", "gpt-4o", WithBaseURL("http://localhost"), WithOrganization("org"), WithTimeout(1)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestComplete_JSONMode(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"translation\":\"Hello\"}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Translate to English.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "こんにちは"}},
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"translation":"Hello"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", resp.Usage.TotalTokens)
	}

	body := <-bodies
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}
}
