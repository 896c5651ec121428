// Package discord provides the Discord bot layer for Sri. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, turns guild messages into conversation turns and
// follows members in and out of the configured voice channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sri/internal/config"
	discordaudio "github.com/MrWong99/sri/pkg/audio/discord"
)

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	cfg config.DiscordConfig

	mu        sync.RWMutex
	session   *discordgo.Session
	voice     *discordaudio.Voice
	text      *TextSender
	router    *CommandRouter
	perms     *PermissionChecker
	events    *Events
	removers  []func()
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg config.DiscordConfig) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		cfg:     cfg,
		session: session,
		voice:   discordaudio.New(session),
		text:    NewTextSender(session, session.State, cfg.GuildID),
		router:  NewCommandRouter(),
		perms:   NewPermissionChecker(cfg.ControlRoleID),
	}
	b.removers = append(b.removers, session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	}))
	slog.Info("discord: connected", "user", session.State.User.Username)
	return b, nil
}

// Voice returns the voice output used as the session's remote sink.
func (b *Bot) Voice() *discordaudio.Voice { return b.voice }

// Text returns the text delivery for session replies.
func (b *Bot) Text() *TextSender { return b.text }

// GuildID returns the configured guild ID, or "" for global commands.
func (b *Bot) GuildID() string { return b.cfg.GuildID }

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter { return b.router }

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// Bind attaches the message and voice state handlers that drive ctl.
func (b *Bot) Bind(ctx context.Context, ctl Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = NewEvents(ctx, EventsConfig{
		Controller:   ctl,
		State:        b.session.State,
		VoiceChannel: b.cfg.VoiceChannel,
		AutoJoin:     b.cfg.AutoJoinEnabled(),
		LeaveDelay:   b.cfg.LeaveDelay,
	})
	b.removers = append(b.removers,
		b.session.AddHandler(b.events.OnMessage),
		b.session.AddHandler(b.events.OnVoiceState),
	)
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for _, remove := range b.removers {
			remove()
		}
		if b.events != nil {
			b.events.Close()
		}

		if len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.cfg.GuildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord: bot closed")
	})
	return closeErr
}
