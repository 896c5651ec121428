// Package command provides a local TTS provider that shells out to the
// operating system's speech synthesizer and reads back the WAV it writes.
//
// Supported engines:
//
//   - EngineEspeak: espeak-ng (Linux, also available on macOS and Windows).
//   - EngineSay: the macOS say command.
//   - EnginePowerShell: Windows System.Speech (SAPI) via PowerShell.
//
// The provider has no quota and no network dependency, which makes it the
// terminal fallback of the speech pipeline.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// ErrNoEngine is returned by [Detect] when no supported synthesizer binary
// is on PATH.
var ErrNoEngine = errors.New("command: no speech synthesizer found")

// Engine identifies a command-line synthesizer.
type Engine string

const (
	EngineEspeak     Engine = "espeak-ng"
	EngineSay        Engine = "say"
	EnginePowerShell Engine = "powershell"
)

// Environment variables carrying values into the PowerShell script. Text
// from the model never becomes part of the script source.
const (
	envText   = "SRI_TTS_TEXT"
	envVoice  = "SRI_TTS_VOICE"
	envOutput = "SRI_TTS_OUT"
)

// invocation is one synthesizer process: argv plus extra environment.
type invocation struct {
	name string
	args []string
	env  []string
}

// runFunc executes a synthesizer command. Replaced in tests.
type runFunc func(ctx context.Context, inv invocation) error

func execRun(ctx context.Context, inv invocation) error {
	cmd := exec.CommandContext(ctx, inv.name, inv.args...)
	if len(inv.env) > 0 {
		cmd.Env = append(os.Environ(), inv.env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVoice sets the engine-specific voice: an espeak-ng voice name ("id",
// "en-us"), a say voice ("Damayanti") or a SAPI gender hint ("Female").
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithRate sets the speaking rate in words per minute (espeak-ng, say) or the
// SAPI rate in [-10, 10] (PowerShell). Zero keeps the engine default.
func WithRate(rate int) Option {
	return func(p *Provider) {
		p.rate = rate
	}
}

// Provider implements tts.Provider on top of a local synthesizer command.
type Provider struct {
	engine Engine
	voice  string
	rate   int
	run    runFunc
}

// New creates a Provider for the given engine.
func New(engine Engine, opts ...Option) (*Provider, error) {
	switch engine {
	case EngineEspeak, EngineSay, EnginePowerShell:
	default:
		return nil, fmt.Errorf("command: unknown engine %q", engine)
	}
	p := &Provider{engine: engine, run: execRun}
	for _, o := range opts {
		o(p)
	}
	if p.engine == EnginePowerShell && p.voice == "" {
		p.voice = "Female"
	}
	return p, nil
}

// Detect returns the first engine available on this machine, preferring the
// platform's native synthesizer.
func Detect() (Engine, error) {
	candidates := []Engine{EngineEspeak}
	switch runtime.GOOS {
	case "darwin":
		candidates = []Engine{EngineSay, EngineEspeak}
	case "windows":
		candidates = []Engine{EnginePowerShell, EngineEspeak}
	}
	for _, e := range candidates {
		if _, err := exec.LookPath(string(e)); err == nil {
			return e, nil
		}
	}
	return "", ErrNoEngine
}

// Engine returns the configured engine.
func (p *Provider) Engine() Engine { return p.engine }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, errors.New("command: text must not be empty")
	}

	dir, err := os.MkdirTemp("", "sri-tts-*")
	if err != nil {
		return tts.Audio{}, fmt.Errorf("command: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "speech.wav")

	if err := p.run(ctx, p.commandLine(text, out)); err != nil {
		return tts.Audio{}, fmt.Errorf("command: %s: %w", p.engine, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("command: read output: %w", err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("command: %w", err)
	}
	if clip.Empty() {
		return tts.Audio{}, errors.New("command: synthesizer produced no audio")
	}
	return clip, nil
}

// commandLine builds the process that renders text into the WAV file at out.
func (p *Provider) commandLine(text, out string) invocation {
	switch p.engine {
	case EngineSay:
		args := []string{"-o", out, "--data-format=LEI16@22050"}
		if p.voice != "" {
			args = append(args, "-v", p.voice)
		}
		if p.rate != 0 {
			args = append(args, "-r", fmt.Sprint(p.rate))
		}
		return invocation{name: "say", args: append(args, "--", text)}
	case EnginePowerShell:
		script := strings.Join([]string{
			"Add-Type -AssemblyName System.Speech",
			"$s = New-Object System.Speech.Synthesis.SpeechSynthesizer",
			"$s.SelectVoiceByHints($env:" + envVoice + ")",
			fmt.Sprintf("$s.Rate = %d", max(-10, min(10, p.rate))),
			"$s.SetOutputToWaveFile($env:" + envOutput + ")",
			"$s.Speak($env:" + envText + ")",
			"$s.Dispose()",
		}, "; ")
		return invocation{
			name: "powershell",
			args: []string{"-NoProfile", "-NonInteractive", "-Command", script},
			env: []string{
				envText + "=" + text,
				envVoice + "=" + p.voice,
				envOutput + "=" + out,
			},
		}
	default:
		args := []string{"-w", out}
		if p.voice != "" {
			args = append(args, "-v", p.voice)
		}
		if p.rate != 0 {
			args = append(args, "-s", fmt.Sprint(p.rate))
		}
		return invocation{name: "espeak-ng", args: append(args, "--", text)}
	}
}
