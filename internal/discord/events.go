package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sri/internal/session"
)

// Controller is the voice session driven by the bot.
// *session.Orchestrator implements it.
type Controller interface {
	Start(ctx context.Context, channel string) error
	StopListening()
	Listening() (session.Mode, bool)
	Channel() string
	Connect(ctx context.Context, target session.Target) bool
	Disconnect()
	IsConnected() bool
	VoiceTarget() session.Target
	VoiceLost()
	HandleText(ctx context.Context, channel, speaker, text string) (string, bool)
}

var _ Controller = (*session.Orchestrator)(nil)

// EventsConfig configures [Events].
type EventsConfig struct {
	Controller Controller
	State      *discordgo.State

	// VoiceChannel is the channel name that triggers auto-join. Matching is
	// case-insensitive.
	VoiceChannel string

	// AutoJoin enables joining VoiceChannel when a member enters it.
	AutoJoin bool

	// LeaveDelay is how long to wait after a member leaves before checking
	// whether any humans remain.
	LeaveDelay time.Duration
}

// Events handles gateway events: guild text messages become passive
// conversation turns, and voice state changes drive auto-join, auto-leave
// and reconnect after unexpected drops.
type Events struct {
	ctx context.Context
	cfg EventsConfig

	mu         sync.Mutex
	leaveTimer *time.Timer
}

// NewEvents returns an Events handler. ctx bounds the work started from
// gateway callbacks.
func NewEvents(ctx context.Context, cfg EventsConfig) *Events {
	return &Events{ctx: ctx, cfg: cfg}
}

// OnMessage handles a MessageCreate event.
func (e *Events) OnMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == e.botID() || m.GuildID == "" {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}
	speaker := displayName(m.Member, m.Author)
	if _, ok := e.cfg.Controller.HandleText(e.ctx, m.ChannelID, speaker, text); ok {
		slog.Debug("discord: replied to message", "channel", m.ChannelID, "speaker", speaker)
	}
}

// OnVoiceState handles a VoiceStateUpdate event.
func (e *Events) OnVoiceState(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	if v.UserID == e.botID() {
		e.onOwnVoiceState(v)
		return
	}
	if v.Member != nil && v.Member.User != nil && v.Member.User.Bot {
		return
	}

	var before string
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	if v.ChannelID != "" && v.ChannelID != before && e.isWatched(v.ChannelID) {
		e.onMemberJoined(v.GuildID, v.ChannelID)
		return
	}
	if before != "" && before != v.ChannelID && before == e.cfg.Controller.VoiceTarget().ChannelID {
		e.scheduleLeave(v.GuildID, before)
	}
}

// onOwnVoiceState detects the platform dropping the bot out of the channel
// it is supposed to be in. Replacing a connection also produces a leave
// event, so the drop is only reported if the bot is still outside any voice
// channel after the leave delay.
func (e *Events) onOwnVoiceState(v *discordgo.VoiceStateUpdate) {
	if v.ChannelID != "" || e.cfg.Controller.VoiceTarget().IsZero() {
		return
	}
	guildID := v.GuildID
	time.AfterFunc(e.cfg.LeaveDelay, func() {
		target := e.cfg.Controller.VoiceTarget()
		if target.IsZero() || e.botInVoice(guildID) {
			return
		}
		slog.Warn("discord: voice connection dropped", "channel_id", target.ChannelID)
		e.cfg.Controller.VoiceLost()
	})
}

func (e *Events) botInVoice(guildID string) bool {
	if e.cfg.State == nil {
		return false
	}
	vs, err := e.cfg.State.VoiceState(guildID, e.botID())
	return err == nil && vs.ChannelID != ""
}

func (e *Events) onMemberJoined(guildID, channelID string) {
	e.cancelLeave()
	if !e.cfg.AutoJoin {
		return
	}
	ctl := e.cfg.Controller
	if !ctl.IsConnected() || ctl.VoiceTarget().ChannelID != channelID {
		if !ctl.Connect(e.ctx, session.Target{GuildID: guildID, ChannelID: channelID}) {
			return
		}
	}
	if _, listening := ctl.Listening(); !listening {
		if err := ctl.Start(e.ctx, ctl.Channel()); err != nil {
			slog.Warn("discord: auto-join could not start listening", "err", err)
		}
	}
}

func (e *Events) scheduleLeave(guildID, channelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leaveTimer != nil {
		e.leaveTimer.Stop()
	}
	e.leaveTimer = time.AfterFunc(e.cfg.LeaveDelay, func() {
		if e.cfg.Controller.VoiceTarget().ChannelID != channelID {
			return
		}
		if n := e.humansIn(guildID, channelID); n > 0 {
			slog.Debug("discord: members still in voice channel", "count", n)
			return
		}
		slog.Info("discord: no humans left, leaving voice channel", "channel_id", channelID)
		e.cfg.Controller.Disconnect()
	})
}

func (e *Events) cancelLeave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leaveTimer != nil {
		e.leaveTimer.Stop()
		e.leaveTimer = nil
	}
}

// Close stops a pending auto-leave.
func (e *Events) Close() { e.cancelLeave() }

func (e *Events) isWatched(channelID string) bool {
	if e.cfg.VoiceChannel == "" || e.cfg.State == nil {
		return false
	}
	ch, err := e.cfg.State.Channel(channelID)
	if err != nil {
		return false
	}
	return strings.EqualFold(ch.Name, e.cfg.VoiceChannel)
}

// humansIn counts non-bot members in a voice channel.
func (e *Events) humansIn(guildID, channelID string) int {
	if e.cfg.State == nil {
		return 0
	}
	g, err := e.cfg.State.Guild(guildID)
	if err != nil {
		return 0
	}
	botID := e.botID()

	type occupant struct {
		userID string
		member *discordgo.Member
	}
	e.cfg.State.RLock()
	var occupants []occupant
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != botID {
			occupants = append(occupants, occupant{vs.UserID, vs.Member})
		}
	}
	e.cfg.State.RUnlock()

	humans := 0
	for _, o := range occupants {
		m := o.member
		if m == nil || m.User == nil {
			m, _ = e.cfg.State.Member(guildID, o.userID)
		}
		if m != nil && m.User != nil && m.User.Bot {
			continue
		}
		humans++
	}
	return humans
}

func (e *Events) botID() string {
	if e.cfg.State == nil || e.cfg.State.User == nil {
		return ""
	}
	return e.cfg.State.User.ID
}

// displayName picks the name a member is shown with in the guild.
func displayName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
