package whisperapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sri/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe_Success(t *testing.T) {
	var gotModel, gotLang, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" Halo Sri, apa kabar? "}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL), WithPrompt("Sri"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), []byte("RIFF"), "id-ID")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Halo Sri, apa kabar?" {
		t.Errorf("text = %q", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotLang != "id" {
		t.Errorf("language = %q, want id", gotLang)
	}
	if gotPrompt != "Sri" {
		t.Errorf("prompt = %q, want Sri", gotPrompt)
	}
}

func TestTranscribe_EmptyText_ReturnsErrNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  "}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), []byte("RIFF"), "en-US")
	if !errors.Is(err, stt.ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), []byte("RIFF"), "en-US")
	if err == nil || errors.Is(err, stt.ErrNoMatch) {
		t.Fatalf("err = %v, want transport error", err)
	}
}
