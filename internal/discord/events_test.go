package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sri/internal/discord/mock"
	"github.com/MrWong99/sri/internal/session"
)

var _ Controller = (*mock.Controller)(nil)

const testDelay = 20 * time.Millisecond

func newTestEvents(t *testing.T, ctl *mock.Controller) (*Events, *discordgo.State) {
	t.Helper()
	st := newTestState(t, &discordgo.Guild{
		ID: "g",
		Channels: []*discordgo.Channel{
			{ID: "v1", Name: "Sri-Voice", Type: discordgo.ChannelTypeGuildVoice},
			{ID: "v2", Name: "Lobby", Type: discordgo.ChannelTypeGuildVoice},
		},
	})
	st.User = &discordgo.User{ID: "bot"}
	e := NewEvents(context.Background(), EventsConfig{
		Controller:   ctl,
		State:        st,
		VoiceChannel: "sri-voice",
		AutoJoin:     true,
		LeaveDelay:   testDelay,
	})
	t.Cleanup(e.Close)
	return e, st
}

func setVoiceStates(t *testing.T, st *discordgo.State, states ...*discordgo.VoiceState) {
	t.Helper()
	g, err := st.Guild("g")
	if err != nil {
		t.Fatal(err)
	}
	st.Lock()
	g.VoiceStates = states
	st.Unlock()
}

func voiceUpdate(userID, channelID, before string, bot bool) *discordgo.VoiceStateUpdate {
	v := &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID:   "g",
		UserID:    userID,
		ChannelID: channelID,
		Member:    &discordgo.Member{User: &discordgo.User{ID: userID, Bot: bot}},
	}}
	if before != "" {
		v.BeforeUpdate = &discordgo.VoiceState{GuildID: "g", UserID: userID, ChannelID: before}
	}
	return v
}

func TestEvents_OnMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     *discordgo.Message
		wantLen int
		speaker string
	}{
		{
			name:    "guild message uses nickname",
			msg:     &discordgo.Message{GuildID: "g", ChannelID: "c", Content: " halo sri ", Author: &discordgo.User{ID: "u", Username: "ani"}, Member: &discordgo.Member{Nick: "Kak Ani"}},
			wantLen: 1,
			speaker: "Kak Ani",
		},
		{
			name:    "global name without nickname",
			msg:     &discordgo.Message{GuildID: "g", ChannelID: "c", Content: "halo", Author: &discordgo.User{ID: "u", Username: "ani", GlobalName: "Ani"}},
			wantLen: 1,
			speaker: "Ani",
		},
		{name: "bot author", msg: &discordgo.Message{GuildID: "g", Content: "halo", Author: &discordgo.User{ID: "x", Bot: true}}},
		{name: "own message", msg: &discordgo.Message{GuildID: "g", Content: "halo", Author: &discordgo.User{ID: "bot"}}},
		{name: "direct message", msg: &discordgo.Message{Content: "halo", Author: &discordgo.User{ID: "u"}}},
		{name: "blank", msg: &discordgo.Message{GuildID: "g", Content: "  ", Author: &discordgo.User{ID: "u"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctl := &mock.Controller{Reply: "hai"}
			e, _ := newTestEvents(t, ctl)
			e.OnMessage(nil, &discordgo.MessageCreate{Message: tt.msg})

			got := ctl.Texts()
			if len(got) != tt.wantLen {
				t.Fatalf("HandleText called %d times, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen == 1 && (got[0].Speaker != tt.speaker || got[0].Channel != "c") {
				t.Errorf("HandleText(%+v), want speaker %q in channel c", got[0], tt.speaker)
			}
		})
	}
}

func TestEvents_AutoJoinWatchedChannel(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{ConnectResult: true}
	e, _ := newTestEvents(t, ctl)

	e.OnVoiceState(nil, voiceUpdate("u", "v2", "", false))
	if n := len(ctl.Connects()); n != 0 {
		t.Fatalf("joined an unwatched channel (%d connects)", n)
	}

	e.OnVoiceState(nil, voiceUpdate("u", "v1", "", false))
	connects := ctl.Connects()
	if len(connects) != 1 || connects[0] != (session.Target{GuildID: "g", ChannelID: "v1"}) {
		t.Fatalf("Connects() = %v", connects)
	}
	if starts := ctl.Starts(); len(starts) != 1 {
		t.Errorf("Start called %d times, want 1", len(starts))
	}

	// A second member joining does not reconnect.
	e.OnVoiceState(nil, voiceUpdate("u2", "v1", "", false))
	if n := len(ctl.Connects()); n != 1 {
		t.Errorf("Connect called %d times, want 1", n)
	}
}

func TestEvents_AutoJoinDisabledAndBots(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{ConnectResult: true}
	e, _ := newTestEvents(t, ctl)
	e.OnVoiceState(nil, voiceUpdate("music-bot", "v1", "", true))
	e.cfg.AutoJoin = false
	e.OnVoiceState(nil, voiceUpdate("u", "v1", "", false))
	if n := len(ctl.Connects()); n != 0 {
		t.Errorf("Connect called %d times, want 0", n)
	}
}

func TestEvents_AutoLeaveWhenEmpty(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{}
	ctl.SetConnected(session.Target{GuildID: "g", ChannelID: "v1"})
	e, st := newTestEvents(t, ctl)

	setVoiceStates(t, st,
		&discordgo.VoiceState{UserID: "bot", ChannelID: "v1"},
		&discordgo.VoiceState{UserID: "music-bot", ChannelID: "v1", Member: &discordgo.Member{User: &discordgo.User{ID: "music-bot", Bot: true}}},
	)
	e.OnVoiceState(nil, voiceUpdate("u", "", "v1", false))

	deadline := time.Now().Add(2 * time.Second)
	for ctl.Disconnects() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("did not leave the empty channel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_StaysWhileHumansRemain(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{}
	ctl.SetConnected(session.Target{GuildID: "g", ChannelID: "v1"})
	e, st := newTestEvents(t, ctl)

	setVoiceStates(t, st,
		&discordgo.VoiceState{UserID: "bot", ChannelID: "v1"},
		&discordgo.VoiceState{UserID: "u2", ChannelID: "v1"},
	)
	e.OnVoiceState(nil, voiceUpdate("u", "", "v1", false))
	time.Sleep(5 * testDelay)
	if n := ctl.Disconnects(); n != 0 {
		t.Errorf("left a channel with humans (%d disconnects)", n)
	}
}

func TestEvents_RejoinCancelsLeave(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{ConnectResult: true}
	ctl.SetConnected(session.Target{GuildID: "g", ChannelID: "v1"})
	e, _ := newTestEvents(t, ctl)

	e.OnVoiceState(nil, voiceUpdate("u", "", "v1", false))
	e.OnVoiceState(nil, voiceUpdate("u", "v1", "", false))
	time.Sleep(5 * testDelay)
	if n := ctl.Disconnects(); n != 0 {
		t.Errorf("left after the member came back (%d disconnects)", n)
	}
}

func TestEvents_OwnDropReportsVoiceLost(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{}
	ctl.SetConnected(session.Target{GuildID: "g", ChannelID: "v1"})
	e, _ := newTestEvents(t, ctl)

	e.OnVoiceState(nil, voiceUpdate("bot", "", "v1", true))
	deadline := time.Now().Add(2 * time.Second)
	for ctl.Lost() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("VoiceLost not reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_OwnLeaveDuringRejoinIgnored(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{}
	ctl.SetConnected(session.Target{GuildID: "g", ChannelID: "v1"})
	e, st := newTestEvents(t, ctl)

	e.OnVoiceState(nil, voiceUpdate("bot", "", "v1", true))
	setVoiceStates(t, st, &discordgo.VoiceState{GuildID: "g", UserID: "bot", ChannelID: "v1"})
	time.Sleep(5 * testDelay)
	if n := ctl.Lost(); n != 0 {
		t.Errorf("VoiceLost reported %d times while back in the channel", n)
	}
}

func TestEvents_DeliberateLeaveIgnored(t *testing.T) {
	t.Parallel()

	ctl := &mock.Controller{}
	e, _ := newTestEvents(t, ctl)
	e.OnVoiceState(nil, voiceUpdate("bot", "", "v1", true))
	time.Sleep(5 * testDelay)
	if n := ctl.Lost(); n != 0 {
		t.Errorf("VoiceLost reported %d times without a target", n)
	}
}
