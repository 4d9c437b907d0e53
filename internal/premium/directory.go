package premium

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Directory is the slice of Discord the premium engine needs. The bot package
// provides a session-backed implementation; tests provide a fake.
type Directory interface {
	// Member returns the guild member, or nil when the user is not in the
	// guild.
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)

	// Members fetches several members at once; ids that are not in the
	// guild are simply absent from the result.
	Members(ctx context.Context, guildID string, userIDs []string) ([]*discordgo.Member, error)

	// RoleMemberIDs returns the IDs of every guild member holding the role.
	RoleMemberIDs(ctx context.Context, guildID, roleID string) ([]string, error)

	// GuildRoles returns all roles of the guild.
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)

	// BotMember returns the bot's own membership in the guild.
	BotMember(ctx context.Context, guildID string) (*discordgo.Member, error)

	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}
