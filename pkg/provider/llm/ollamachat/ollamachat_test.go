package ollamachat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexhound/lexhound/pkg/provider/llm"
	"github.com/lexhound/lexhound/pkg/provider/llm/ollamachat"
)

func TestCompleteSingleObject(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"a gloss"}}`))
	}))
	defer srv.Close()

	p, err := ollamachat.New(srv.URL, "llama3.2")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	reply, err := p.Complete(context.Background(), []llm.Message{llm.User("explain backpropagation")})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if reply != "a gloss" {
		t.Errorf("reply = %q, want %q", reply, "a gloss")
	}

	if gotBody["model"] != "llama3.2" {
		t.Errorf("request model = %v, want llama3.2", gotBody["model"])
	}
	if gotBody["stream"] != false {
		t.Errorf("request stream = %v, want false", gotBody["stream"])
	}
}

func TestCompleteNDJSONFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(
			`{"message":{"content":"back"}}` + "\n" +
				`{"message":{"content":"propagation"}}` + "\n" +
				`{"response":" explained"}` + "\n",
		))
	}))
	defer srv.Close()

	p, err := ollamachat.New(srv.URL, "llama3.2")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	reply, err := p.Complete(context.Background(), []llm.Message{llm.User("hi")})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if reply != "backpropagation explained" {
		t.Errorf("reply = %q, want %q", reply, "backpropagation explained")
	}
}

func TestCompleteHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := ollamachat.New(srv.URL, "llama3.2")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := p.Complete(context.Background(), []llm.Message{llm.User("hi")}); err == nil {
		t.Fatal("Complete() should fail on a 500 response")
	}
}

func TestCompleteGarbageBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	p, err := ollamachat.New(srv.URL, "llama3.2")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := p.Complete(context.Background(), []llm.Message{llm.User("hi")}); err == nil {
		t.Fatal("Complete() should fail when no usable content is present")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := ollamachat.New("", "m"); err == nil {
		t.Error("New() should reject empty endpoint")
	}
	if _, err := ollamachat.New("http://localhost:11434/api/chat", ""); err == nil {
		t.Error("New() should reject empty model")
	}
}
