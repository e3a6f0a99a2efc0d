package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/translate"
	"github.com/MrWong99/parley/pkg/provider/translate/gemini"
)

// generateRequest is the subset of the generateContent body that is checked.
type generateRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseMIMEType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

func newServer(t *testing.T, status int, answer string) (*httptest.Server, <-chan generateRequest, <-chan string) {
	t.Helper()
	bodies := make(chan generateRequest, 4)
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		var body generateRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
			return
		}
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": answer}},
				},
				"finishReason": "STOP",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, bodies, paths
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := gemini.New(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank api key")
	}
}

func TestTranslate_SendsPromptAndWAV(t *testing.T) {
	t.Parallel()

	answer := `{"transcription":"안녕하세요","translation":"こんにちは","detectedLanguage":"ko","confidence":0.9}`
	srv, bodies, paths := newServer(t, http.StatusOK, answer)

	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL), gemini.WithModel("gemini-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != "gemini-test" {
		t.Errorf("Model = %q", p.Model())
	}

	pcm := make([]byte, 3200)
	resp, err := p.Translate(context.Background(), translate.Request{
		Audio:          pcm,
		Format:         audio.CanonicalFormat,
		TargetLanguage: "ja",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if resp.Raw != answer {
		t.Errorf("Raw = %q, want %q", resp.Raw, answer)
	}
	if resp.Parsed != nil {
		t.Error("gemini must leave parsing to the caller")
	}

	if path := <-paths; !strings.HasSuffix(path, "/models/gemini-test:generateContent") {
		t.Errorf("path = %q", path)
	}
	body := <-bodies
	if len(body.Contents) != 1 || len(body.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents: %+v", body.Contents)
	}
	if body.Contents[0].Role != "user" {
		t.Errorf("role = %q, want user", body.Contents[0].Role)
	}
	if !strings.Contains(body.Contents[0].Parts[0].Text, "auto-detect language") {
		t.Errorf("prompt = %q, want auto-detect variant", body.Contents[0].Parts[0].Text)
	}
	inline := body.Contents[0].Parts[1].InlineData
	if inline == nil || inline.MIMEType != "audio/wav" {
		t.Fatalf("inline data = %+v, want audio/wav", inline)
	}
	wav, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		t.Fatalf("decode inline data: %v", err)
	}
	if len(wav) != 44+len(pcm) || string(wav[:4]) != "RIFF" {
		t.Errorf("wav = %d bytes starting %q", len(wav), wav[:4])
	}
	if body.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Errorf("responseMimeType = %q", body.GenerationConfig.ResponseMIMEType)
	}
}

func TestTranslate_DeclaredSourceLanguage(t *testing.T) {
	t.Parallel()

	srv, bodies, _ := newServer(t, http.StatusOK, `{}`)
	p, _ := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))

	_, err := p.Translate(context.Background(), translate.Request{
		Audio:          make([]byte, 320),
		TargetLanguage: "en",
		SourceLanguage: "de",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	body := <-bodies
	if got := body.Contents[0].Parts[0].Text; !strings.HasPrefix(got, "Transcribe the following audio in de and translate it to en.") {
		t.Errorf("prompt = %q", got)
	}
}

func TestTranslate_ServerError(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t, http.StatusInternalServerError, "")
	p, _ := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))

	if _, err := p.Translate(context.Background(), translate.Request{Audio: make([]byte, 320), TargetLanguage: "ja"}); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestTranslate_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, _ := gemini.New(context.Background(), "test-key", gemini.WithBaseURL("http://127.0.0.1:1"))
	if _, err := p.Translate(context.Background(), translate.Request{TargetLanguage: "ja"}); err == nil {
		t.Fatal("expected error for empty audio")
	}
}
