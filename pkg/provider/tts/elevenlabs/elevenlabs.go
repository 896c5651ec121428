// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs REST text-to-speech API. It implements the tts.Provider
// interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io/v1"
	defaultModel     = "eleven_turbo_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// DefaultVoiceID is the stock "Rachel" voice used when auto-detection
	// fails.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// VoiceSettings mirrors the ElevenLabs voice_settings object.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings are tuned for a warm, expressive conversational voice.
var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.6,
	SimilarityBoost: 0.8,
	Style:           0.3,
	UseSpeakerBoost: true,
}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_turbo_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice pins the voice ID. Without it the voice is auto-detected from
// the account's catalogue on first use.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voiceID = voiceID
	}
}

// WithOutputFormat sets the audio output format. "mp3_*" formats are decoded
// locally; "pcm_<rate>" formats are used as-is.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoiceSettings overrides DefaultVoiceSettings.
func WithVoiceSettings(vs VoiceSettings) Option {
	return func(p *Provider) {
		p.settings = vs
	}
}

// WithBaseURL overrides the API base URL (default "https://api.elevenlabs.io/v1").
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	settings     VoiceSettings
	httpClient   *http.Client

	voiceMu sync.Mutex
	voiceID string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings:     DefaultVoiceSettings,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := pcmRate(p.outputFormat); err != nil && !isMP3(p.outputFormat) {
		return nil, fmt.Errorf("elevenlabs: unsupported output format %q", p.outputFormat)
	}
	return p, nil
}

// ttsRequest is the JSON body of POST /text-to-speech/{voice_id}.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, errors.New("elevenlabs: text must not be empty")
	}
	voiceID, err := p.Voice(ctx)
	if err != nil {
		return tts.Audio{}, err
	}

	body, err := json.Marshal(ttsRequest{Text: text, ModelID: p.model, VoiceSettings: p.settings})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}
	endpoint := p.baseURL + "/text-to-speech/" + voiceID + "?output_format=" + p.outputFormat
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if isMP3(p.outputFormat) {
		req.Header.Set("Accept", "audio/mpeg")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Audio{}, readAPIError(resp)
	}

	clip, err := p.decode(resp.Body)
	if err != nil {
		return tts.Audio{}, err
	}
	if clip.Empty() {
		return tts.Audio{}, errors.New("elevenlabs: empty audio in response")
	}
	return clip, nil
}

func (p *Provider) decode(r io.Reader) (audio.Clip, error) {
	if isMP3(p.outputFormat) {
		clip, err := audio.DecodeMP3(r)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("elevenlabs: %w", err)
		}
		return clip, nil
	}
	rate, _ := pcmRate(p.outputFormat)
	pcm, err := io.ReadAll(r)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return audio.Clip{PCM: pcm[:len(pcm)&^1], Format: audio.Format{SampleRate: rate, Channels: 1}}, nil
}

// Voice returns the voice used for synthesis, auto-detecting it on first
// call when none was configured. Detection failures fall back to
// DefaultVoiceID and are not retried.
func (p *Provider) Voice(ctx context.Context) (string, error) {
	p.voiceMu.Lock()
	defer p.voiceMu.Unlock()
	if p.voiceID != "" {
		return p.voiceID, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		slog.Warn("elevenlabs: voice auto-detection failed, using default voice", "err", err)
		p.voiceID = DefaultVoiceID
		return p.voiceID, nil
	}
	v, ok := SelectVoice(voices)
	if !ok {
		p.voiceID = DefaultVoiceID
	} else {
		p.voiceID = v.ID
		slog.Info("elevenlabs: selected voice", "name", v.Name, "id", v.ID)
	}
	return p.voiceID, nil
}

// SelectVoice picks the first voice whose name mentions "indonesian" or
// "multilingual", otherwise the first voice. ok is false for an empty list.
func SelectVoice(voices []tts.Voice) (tts.Voice, bool) {
	for _, v := range voices {
		name := strings.ToLower(v.Name)
		if strings.Contains(name, "indonesian") || strings.Contains(name, "multilingual") {
			return v, true
		}
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return tts.Voice{}, false
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	voices, err := parseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voices, nil
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of Voice values.
func parseVoicesResponse(data []byte) ([]tts.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Category: v.Category,
			Labels:   v.Labels,
		})
	}
	return voices, nil
}

// ---- helpers ----

func readAPIError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &tts.APIError{
		Provider:   "elevenlabs",
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
	}
}

func isMP3(format string) bool {
	return strings.HasPrefix(format, "mp3_")
}

// pcmRate parses the sample rate out of a "pcm_<rate>" output format.
func pcmRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("not a pcm format: %q", format)
	}
	return strconv.Atoi(rest)
}
