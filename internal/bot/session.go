package bot

import (
	"context"
	"errors"
	"slices"

	"github.com/bwmarrin/discordgo"

	"veebee/internal/premium"
)

const memberPageSize = 1000

// sessionDirectory adapts a discordgo session to the directory surface the
// premium engine consumes. Missing guilds, members and roles come back as
// nil/empty rather than errors.
type sessionDirectory struct {
	session *discordgo.Session
}

func NewDirectory(session *discordgo.Session) premium.Directory {
	return &sessionDirectory{session: session}
}

func (d *sessionDirectory) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if member, err := d.session.State.Member(guildID, userID); err == nil && member != nil {
		return member, nil
	}
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (d *sessionDirectory) Members(ctx context.Context, guildID string, userIDs []string) ([]*discordgo.Member, error) {
	members := make([]*discordgo.Member, 0, len(userIDs))
	for _, id := range userIDs {
		member, err := d.Member(ctx, guildID, id)
		if err != nil {
			return nil, err
		}
		if member != nil {
			members = append(members, member)
		}
	}
	return members, nil
}

func (d *sessionDirectory) RoleMemberIDs(ctx context.Context, guildID, roleID string) ([]string, error) {
	var ids []string
	after := ""
	for {
		members, err := d.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			break
		}
		for _, member := range members {
			if slices.Contains(member.Roles, roleID) {
				ids = append(ids, member.User.ID)
			}
		}
		after = members[len(members)-1].User.ID
		if len(members) < memberPageSize {
			break
		}
	}
	return ids, nil
}

func (d *sessionDirectory) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return nil, nil
	}
	return roles, err
}

func (d *sessionDirectory) BotMember(ctx context.Context, guildID string) (*discordgo.Member, error) {
	if d.session.State == nil || d.session.State.User == nil {
		return nil, errors.New("session state not ready")
	}
	return d.Member(ctx, guildID, d.session.State.User.ID)
}

func (d *sessionDirectory) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *sessionDirectory) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownGuild,
			discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownRole:
			return true
		}
	}
	return rest.Response != nil && rest.Response.StatusCode == 404
}
