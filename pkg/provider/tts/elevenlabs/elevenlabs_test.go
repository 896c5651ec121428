package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/provider/tts"
)

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_UnsupportedOutputFormat(t *testing.T) {
	if _, err := New("key", WithOutputFormat("ulaw_8000")); err == nil {
		t.Fatal("expected error for unsupported output format")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_turbo_v2_5" {
		t.Errorf("model = %q", p.model)
	}
	if p.settings != DefaultVoiceSettings {
		t.Errorf("settings = %+v", p.settings)
	}
}

// ---- Synthesize ----

func TestSynthesize_PCMFormat(t *testing.T) {
	var gotReq ttsRequest
	var gotPath, gotKey, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write(audio.Bytes([]int16{1, -1, 2, -2}))
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL), WithVoice("voice-1"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), "Halo Kak!")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/text-to-speech/voice-1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotFormat != "pcm_16000" {
		t.Errorf("output_format = %q", gotFormat)
	}
	if gotReq.Text != "Halo Kak!" || gotReq.ModelID != "eleven_turbo_v2_5" {
		t.Errorf("request = %+v", gotReq)
	}
	if !gotReq.VoiceSettings.UseSpeakerBoost || gotReq.VoiceSettings.Stability != 0.6 {
		t.Errorf("voice settings = %+v", gotReq.VoiceSettings)
	}
	if clip.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %v", clip.Format)
	}
	if len(clip.PCM) != 8 {
		t.Errorf("pcm length = %d, want 8", len(clip.PCM))
	}
}

func TestSynthesize_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"detail":{"status":"system_busy"}}`)
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL), WithVoice("v"), WithOutputFormat("pcm_16000"))
	_, err := p.Synthesize(context.Background(), "halo")
	if !errors.Is(err, tts.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if tts.StatusCode(err) != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", tts.StatusCode(err))
	}
}

func TestSynthesize_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithBaseURL(srv.URL), WithVoice("v"))
	_, err := p.Synthesize(context.Background(), "halo")
	if err == nil || errors.Is(err, tts.ErrRateLimited) {
		t.Fatalf("err = %v, want non-rate-limit API error", err)
	}
	if tts.StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", tts.StatusCode(err))
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("key", WithVoice("v"))
	if _, err := p.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL), WithVoice("v"), WithOutputFormat("pcm_22050"))
	if _, err := p.Synthesize(context.Background(), "halo"); err == nil {
		t.Fatal("expected error for empty audio body")
	}
}

// ---- voice selection ----

func TestSelectVoice(t *testing.T) {
	tests := []struct {
		name   string
		voices []tts.Voice
		want   string
		ok     bool
	}{
		{"empty", nil, "", false},
		{"first fallback", []tts.Voice{{ID: "a", Name: "Rachel"}, {ID: "b", Name: "Bella"}}, "a", true},
		{"indonesian", []tts.Voice{{ID: "a", Name: "Rachel"}, {ID: "b", Name: "Indonesian Female"}}, "b", true},
		{"multilingual", []tts.Voice{{ID: "a", Name: "Rachel"}, {ID: "c", Name: "Sarah MULTILINGUAL"}}, "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := SelectVoice(tt.voices)
			if ok != tt.ok || v.ID != tt.want {
				t.Errorf("SelectVoice = (%q, %v), want (%q, %v)", v.ID, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestVoice_AutoDetectOnce(t *testing.T) {
	var listCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/voices" {
			listCalls.Add(1)
			_, _ = io.WriteString(w, `{"voices":[{"voice_id":"x","name":"Rachel"},{"voice_id":"id1","name":"Indonesian Girl"}]}`)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/text-to-speech/id1") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write(audio.Bytes([]int16{5, 5}))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL), WithOutputFormat("pcm_16000"))
	for range 2 {
		if _, err := p.Synthesize(context.Background(), "halo"); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}
	if got := listCalls.Load(); got != 1 {
		t.Errorf("ListVoices called %d times, want 1", got)
	}
}

func TestVoice_DetectionFailureUsesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL))
	id, err := p.Voice(context.Background())
	if err != nil {
		t.Fatalf("Voice: %v", err)
	}
	if id != DefaultVoiceID {
		t.Errorf("voice = %q, want %q", id, DefaultVoiceID)
	}
}

// ---- ListVoices parsing ----

func TestParseVoicesResponse(t *testing.T) {
	raw := []byte(`{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`)
	voices, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	v := voices[0]
	if v.ID != "v1" || v.Name != "Rachel" || v.Category != "premade" || v.Labels["accent"] != "american" {
		t.Errorf("voice = %+v", v)
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	if _, err := parseVoicesResponse([]byte(`{bad`)); err == nil {
		t.Fatal("expected error")
	}
}
