package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord user holds the manager role
// before executing commands that change a translation session.
type PermissionChecker struct {
	managerRoleID string
}

// NewPermissionChecker creates a PermissionChecker with the given role ID.
func NewPermissionChecker(managerRoleID string) *PermissionChecker {
	return &PermissionChecker{managerRoleID: managerRoleID}
}

// IsManager checks whether the interaction author has the configured role.
// If no role is configured, every guild member is a manager.
// Returns false if the interaction has no Member (e.g., DM channel interactions).
func (p *PermissionChecker) IsManager(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if p.managerRoleID == "" {
		return true
	}
	return slices.Contains(i.Member.Roles, p.managerRoleID)
}
