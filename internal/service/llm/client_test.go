package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kibot/internal/service"
)

type chatRequest struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
}

func TestChat(t *testing.T) {
	t.Parallel()
	var req chatRequest
	srv := completionServer(t, "  你好呀  ", &req)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "test-model"}, srv.Client())
	out, err := c.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "你好呀" {
		t.Fatalf("Chat = %q", out)
	}
	if req.Model != "test-model" || len(req.Messages) != 2 {
		t.Fatalf("request = %+v", req)
	}
	if req.Messages[0].Role != "system" || req.Messages[1].Content != "hi" {
		t.Fatalf("messages = %+v", req.Messages)
	}
}

func TestTemperature(t *testing.T) {
	t.Parallel()
	zero := 0.0
	for _, tc := range []struct {
		name string
		set  *float64
		want float64
	}{
		{"default", nil, 0.7},
		{"explicit zero", &zero, 0},
	} {
		var req chatRequest
		srv := completionServer(t, "ok", &req)
		c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Temperature: tc.set}, srv.Client())
		_, err := c.Chat(context.Background(), "hi")
		srv.Close()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if req.Temperature == nil || *req.Temperature != tc.want {
			t.Fatalf("%s: temperature = %v, want %v", tc.name, req.Temperature, tc.want)
		}
	}
}

func TestGreetingJoinsLines(t *testing.T) {
	t.Parallel()
	var req chatRequest
	srv := completionServer(t, "早上好", &req)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	if _, err := c.Greeting(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if req.Messages[1].Content != "a\nb" || req.Messages[0].Content != DefaultGreetingPrompt {
		t.Fatalf("messages = %+v", req.Messages)
	}
}

func TestEmptyReplyIsMalformed(t *testing.T) {
	t.Parallel()
	srv := completionServer(t, " ", nil)
	defer srv.Close()
	_, err := New(Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client()).Chat(context.Background(), "x")
	if !errors.Is(err, service.ErrMalformed) {
		t.Fatalf("err = %v", err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	_, err := New(Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client()).Chat(context.Background(), "x")
	if !errors.Is(err, service.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
