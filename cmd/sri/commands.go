package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sri/internal/app"
	"github.com/MrWong99/sri/internal/config"
	"github.com/MrWong99/sri/pkg/keyboard"
	"github.com/MrWong99/sri/pkg/provider/tts"
	"github.com/MrWong99/sri/pkg/provider/tts/elevenlabs"
)

func newVoicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by the primary TTS provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, cfg)
			p, err := reg.CreateTTS(cfg.Providers.TTS)
			if err != nil {
				return fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
			}
			lister, ok := p.(tts.VoiceLister)
			if !ok {
				return fmt.Errorf("tts provider %q cannot list voices", cfg.Providers.TTS.Name)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			voices, err := lister.ListVoices(ctx)
			if err != nil {
				return fmt.Errorf("list voices: %w", err)
			}
			printVoices(cmd.OutOrStdout(), voices, cfg.Providers.TTS.OptionString("voice_id", ""))
			return nil
		},
	}
}

// printVoices writes one row per voice and marks the voice that would be
// used: the configured one, else the automatic choice.
func printVoices(w io.Writer, voices []tts.Voice, configured string) {
	selected := configured
	if selected == "" {
		if v, ok := elevenlabs.SelectVoice(voices); ok {
			selected = v.ID
		}
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tCATEGORY")
	for _, v := range voices {
		mark := ""
		if v.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, v.ID, v.Name, v.Category)
	}
	_ = tw.Flush()
	if len(voices) == 0 {
		fmt.Fprintln(w, "no voices available")
	}
}

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the key names accepted for trigger.key",
		Run: func(cmd *cobra.Command, _ []string) {
			printKeys(cmd.OutOrStdout())
		},
	}
}

func printKeys(w io.Writer) {
	fmt.Fprintf(w, "Default: %s\n", keyboard.DefaultKey)
	fmt.Fprintf(w, "Recommended: %s\n", strings.Join(keyboard.Recommended, ", "))
	fmt.Fprintf(w, "Keys: %s\n", strings.Join(keyboard.Supported(), ", "))
	fmt.Fprintln(w, "Prefix a key with ctrl+ and/or shift+ to add modifiers.")
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers, discord bool) {
	w := os.Stdout
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║           Sri - startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM, ps.LLM != nil)
	printProvider(w, "STT", cfg.Providers.STT, ps.STT != nil)
	printProvider(w, "STT fallback", cfg.Providers.STTFallback, ps.STTFallback != nil)
	printProvider(w, "TTS", cfg.Providers.TTS, ps.TTS != nil)
	printProvider(w, "TTS fallback", cfg.Providers.TTSFallback, ps.TTSFallback != nil)
	printRow(w, "Trigger", fmt.Sprintf("%s (%s)", cfg.Trigger.Key, cfg.Trigger.Mode))
	if discord {
		printRow(w, "Discord", "connected")
	} else {
		printRow(w, "Discord", "(disabled)")
	}
	if cfg.Server.MetricsAddr != "" {
		printRow(w, "Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind string, entry config.ProviderEntry, ok bool) {
	value := entry.Name
	switch {
	case value == "":
		value = "(not configured)"
	case !ok:
		value += " (unavailable)"
	case entry.Model != "":
		value += " / " + entry.Model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
