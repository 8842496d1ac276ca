package auth

import (
	"context"
	"errors"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

// ActorResolver resolves a guild member's roles and administrator flag.
type ActorResolver interface {
	ResolveActor(ctx context.Context, guildID, userID string) (*domain.Actor, error)
}

// MemberResolver resolves actors from live guild membership.
type MemberResolver struct {
	members platform.MemberDirectory
}

// NewMemberResolver builds a resolver over the platform member directory.
func NewMemberResolver(members platform.MemberDirectory) *MemberResolver {
	return &MemberResolver{members: members}
}

// ResolveActor looks the member up on every call so role changes apply immediately.
func (r *MemberResolver) ResolveActor(ctx context.Context, guildID, userID string) (*domain.Actor, error) {
	member, err := r.members.Member(ctx, guildID, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, errorutil.NewForbidden("not a member of this guild")
		}
		return nil, err
	}
	username := member.Nick
	if username == "" {
		username = member.User.DisplayName()
	}
	return &domain.Actor{
		ID:            member.User.ID,
		GuildID:       guildID,
		Username:      username,
		RoleIDs:       append([]string(nil), member.RoleIDs...),
		Administrator: member.Administrator,
	}, nil
}
