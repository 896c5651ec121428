package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord member holds the control role
// before executing commands that change the voice session.
type PermissionChecker struct {
	roleID string
}

// NewPermissionChecker creates a PermissionChecker for the given role ID.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{roleID: roleID}
}

// CanControl reports whether the interaction author may control the
// session. If no role is configured everyone may. Interactions without a
// Member (direct messages) are refused when a role is configured.
func (p *PermissionChecker) CanControl(i *discordgo.InteractionCreate) bool {
	if p.roleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.roleID)
}
