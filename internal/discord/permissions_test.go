package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestPermissionChecker_CanControl(t *testing.T) {
	t.Parallel()

	member := func(roles ...string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{Member: &discordgo.Member{Roles: roles}},
		}
	}

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{name: "member with role", roleID: "role-123", inter: member("role-456", "role-123"), want: true},
		{name: "member without role", roleID: "role-123", inter: member("role-456"), want: false},
		{name: "empty role allows all", roleID: "", inter: member(), want: true},
		{
			name:   "nil Member returns false",
			roleID: "role-123",
			inter:  &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewPermissionChecker(tt.roleID).CanControl(tt.inter); got != tt.want {
				t.Errorf("CanControl() = %v, want %v", got, tt.want)
			}
		})
	}
}
