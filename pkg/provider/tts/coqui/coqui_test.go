package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/provider/tts"
)

// ---- test helpers ----

func buildTestWAV(t *testing.T, samples ...int16) []byte {
	t.Helper()
	wav, err := audio.EncodeWAV(audio.Clip{
		PCM:    audio.Bytes(samples),
		Format: audio.Format{SampleRate: 22050, Channels: 1},
	})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return wav
}

// ---- constructor ----

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []Option
		wantErr bool
	}{
		{"empty url", "", nil, true},
		{"defaults", "http://localhost:5002", nil, false},
		{"xtts without speaker", "http://localhost:8002", []Option{WithAPIMode(APIModeXTTS)}, true},
		{"xtts with speaker", "http://localhost:8002", []Option{WithAPIMode(APIModeXTTS), WithSpeaker("Ana Florence")}, false},
		{"unknown mode", "http://localhost:5002", []Option{WithAPIMode("grpc")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.url, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_DefaultAPIMode(t *testing.T) {
	p, err := New("http://localhost:5002/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("apiMode = %q, want standard", p.apiMode)
	}
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, trailing slash not trimmed", p.serverURL)
	}
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	wav := buildTestWAV(t, 100, -100, 200)
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		gotQuery = map[string]string{"text": q.Get("text"), "speaker_id": q.Get("speaker_id"), "language_id": q.Get("language_id")}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithLanguage("id"), WithSpeaker("p225"))
	clip, err := p.Synthesize(context.Background(), "Halo Kak")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotQuery["text"] != "Halo Kak" || gotQuery["speaker_id"] != "p225" || gotQuery["language_id"] != "id" {
		t.Errorf("query = %v", gotQuery)
	}
	if clip.Format != (audio.Format{SampleRate: 22050, Channels: 1}) {
		t.Errorf("format = %v", clip.Format)
	}
	if got := audio.Int16s(clip.PCM); len(got) != 3 || got[1] != -100 {
		t.Errorf("samples = %v", got)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	wav := buildTestWAV(t, 1, 2, 3, 4)
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("Ana Florence"), WithLanguage("en"))
	if _, err := p.Synthesize(context.Background(), "hello"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "hello" || got.SpeakerWav != "Ana Florence" || got.Language != "en" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "model not loaded")
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Synthesize(context.Background(), "hello")
	if tts.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("err = %v, want APIError 500", err)
	}
}

func TestSynthesize_NotWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not a wav file at all, just text")
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Synthesize(context.Background(), "hello")
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Fatalf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := New(srv.URL)
	if _, err := p.Synthesize(ctx, "hello"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"Zed":{},"Ana":{}}`)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("Ana"))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Ana" || voices[1].Name != "Zed" {
		t.Errorf("voices = %+v, want sorted [Ana Zed]", voices)
	}
}

func TestListVoices_StandardMultiSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model_name":"vctk","speakers":["p300","p225"]}`)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "p225" || voices[0].Labels["model_name"] != "vctk" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestListVoices_StandardSingleSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model_name":"tacotron2"}`)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "tacotron2" || voices[0].Category != "single-speaker" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.ListVoices(context.Background()); tts.StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want APIError 503", err)
	}
}
