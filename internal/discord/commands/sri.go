// Package commands implements the /sri slash command group.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sri/internal/capture"
	"github.com/MrWong99/sri/internal/discord"
	"github.com/MrWong99/sri/internal/session"
	"github.com/MrWong99/sri/internal/speech"
)

// commandTimeout bounds voice joins started from a command.
const commandTimeout = 20 * time.Second

// Embed sidebar colours.
const (
	embedColorGreen = 0x2ECC71
	embedColorRed   = 0xE74C3C
)

// UsageReporter reports the primary speech quota. *speech.Manager
// implements it.
type UsageReporter interface {
	UsageInfo() speech.Usage
	IsAvailable() bool
}

// VoiceLocator returns the voice channel a guild member is in.
type VoiceLocator func(guildID, userID string) (channelID string, ok bool)

// StateLocator returns a VoiceLocator backed by the gateway state cache.
func StateLocator(state *discordgo.State) VoiceLocator {
	return func(guildID, userID string) (string, bool) {
		vs, err := state.VoiceState(guildID, userID)
		if err != nil || vs == nil || vs.ChannelID == "" {
			return "", false
		}
		return vs.ChannelID, true
	}
}

// SriCommands holds the dependencies for /sri slash commands.
type SriCommands struct {
	ctl    discord.Controller
	usage  UsageReporter
	perms  *discord.PermissionChecker
	locate VoiceLocator
}

// NewSriCommands creates a SriCommands and registers its handlers with the
// bot's router.
func NewSriCommands(bot *discord.Bot, ctl discord.Controller, usage UsageReporter) *SriCommands {
	sc := &SriCommands{
		ctl:    ctl,
		usage:  usage,
		perms:  bot.Permissions(),
		locate: StateLocator(bot.Session().State),
	}
	sc.Register(bot.Router())
	return sc
}

// Register registers the /sri command group with the router.
func (sc *SriCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("sri", sc.Definition(), func(s discord.Interactor, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand, e.g. `/sri join`.")
	})
	router.RegisterHandler("sri/join", sc.handleJoin)
	router.RegisterHandler("sri/leave", sc.handleLeave)
	router.RegisterHandler("sri/listen/start", sc.handleListenStart)
	router.RegisterHandler("sri/listen/stop", sc.handleListenStop)
	router.RegisterHandler("sri/usage", sc.handleUsage)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *SriCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "sri",
		Description: "Control the Sri voice assistant",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "join",
				Description: "Join your current voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leave",
				Description: "Leave the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "listen",
				Description: "Push-to-talk capture on the host machine",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "start",
						Description: "Start listening; replies are posted in this channel",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "stop",
						Description: "Stop listening",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "usage",
				Description: "Show today's speech quota",
			},
		},
	}
}

// handleJoin handles /sri join.
func (sc *SriCommands) handleJoin(s discord.Interactor, i *discordgo.InteractionCreate) {
	if !sc.perms.CanControl(i) {
		discord.RespondEphemeral(s, i, "You need the control role to move Sri around.")
		return
	}
	channelID, ok := sc.locate(i.GuildID, interactionUserID(i))
	if !ok {
		discord.RespondEphemeral(s, i, "Join a voice channel first.")
		return
	}

	// Connecting may take longer than the interaction deadline.
	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if !sc.ctl.Connect(ctx, session.Target{GuildID: i.GuildID, ChannelID: channelID}) {
		discord.FollowUp(s, i, "Could not join voice, replies stay text-only for now.")
		return
	}

	msg := fmt.Sprintf("Joined <#%s>.", channelID)
	if _, listening := sc.ctl.Listening(); !listening {
		if err := sc.ctl.Start(ctx, i.ChannelID); err != nil {
			msg += " " + listenFailure(err)
		}
	}
	discord.FollowUp(s, i, msg)
}

// handleLeave handles /sri leave.
func (sc *SriCommands) handleLeave(s discord.Interactor, i *discordgo.InteractionCreate) {
	if !sc.perms.CanControl(i) {
		discord.RespondEphemeral(s, i, "You need the control role to move Sri around.")
		return
	}
	if !sc.ctl.IsConnected() {
		discord.RespondEphemeral(s, i, "Sri is not in a voice channel.")
		return
	}
	sc.ctl.Disconnect()
	discord.Respond(s, i, "Left the voice channel.")
}

// handleListenStart handles /sri listen start.
func (sc *SriCommands) handleListenStart(s discord.Interactor, i *discordgo.InteractionCreate) {
	if !sc.perms.CanControl(i) {
		discord.RespondEphemeral(s, i, "You need the control role to start listening.")
		return
	}
	if err := sc.ctl.Start(context.Background(), i.ChannelID); err != nil {
		discord.RespondEphemeral(s, i, listenFailure(err))
		return
	}
	discord.Respond(s, i, "Listening. Replies will be posted here.")
}

// handleListenStop handles /sri listen stop.
func (sc *SriCommands) handleListenStop(s discord.Interactor, i *discordgo.InteractionCreate) {
	if !sc.perms.CanControl(i) {
		discord.RespondEphemeral(s, i, "You need the control role to stop listening.")
		return
	}
	if _, listening := sc.ctl.Listening(); !listening {
		discord.RespondEphemeral(s, i, "Sri is not listening.")
		return
	}
	sc.ctl.StopListening()
	discord.Respond(s, i, "Stopped listening.")
}

// handleUsage handles /sri usage.
func (sc *SriCommands) handleUsage(s discord.Interactor, i *discordgo.InteractionCreate) {
	if sc.usage == nil {
		discord.RespondEphemeral(s, i, "Speech is disabled.")
		return
	}
	discord.RespondEmbed(s, i, usageEmbed(sc.usage.UsageInfo(), sc.usage.IsAvailable()))
}

func usageEmbed(u speech.Usage, available bool) *discordgo.MessageEmbed {
	color := embedColorGreen
	status := "available"
	if !available {
		color = embedColorRed
		status = "unavailable"
	} else if u.Remaining <= 0 {
		status = "fallback voice only"
	}
	return &discordgo.MessageEmbed{
		Title: "Speech usage",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Characters", Value: fmt.Sprintf("%d / %d", u.Used, u.Limit), Inline: true},
			{Name: "Remaining", Value: fmt.Sprintf("%d", u.Remaining), Inline: true},
			{Name: "Estimated cost", Value: fmt.Sprintf("$%.4f", u.EstimatedCost), Inline: true},
			{Name: "Voice", Value: status, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Resets daily · " + u.Day},
	}
}

func listenFailure(err error) string {
	if errors.Is(err, capture.ErrUnavailable) {
		return "Push-to-talk is not available on the host machine."
	}
	if errors.Is(err, session.ErrShutdown) {
		return "Sri is shutting down."
	}
	return fmt.Sprintf("Could not start listening: %v", err)
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
