package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/guild-tickets/internal/domain"
	apperrors "github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

const (
	principalKey = "auth_principal"

	HeaderServiceKey = "X-Service-Key"
	HeaderActorID    = "X-Actor-ID"
	HeaderGuildID    = "X-Guild-ID"
)

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	Actor       domain.Actor
}

// AuthMiddleware authenticates dashboard tokens and the bot service key, then
// resolves the acting member.
type AuthMiddleware struct {
	tokens     *TokenManager
	serviceKey *ServiceKeyVerifier
	resolver   ActorResolver
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, serviceKey *ServiceKeyVerifier, resolver ActorResolver) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, serviceKey: serviceKey, resolver: resolver}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	var (
		subject          domain.SubjectType
		guildID, actorID string
	)

	if key := c.Get(HeaderServiceKey); key != "" {
		if !m.serviceKey.Verify(key) {
			return apperrors.NewUnauthorized("invalid service key")
		}
		subject = domain.SubjectTypeService
		actorID, guildID = c.Get(HeaderActorID), c.Get(HeaderGuildID)
		if actorID == "" || guildID == "" {
			return apperrors.NewUnauthorized("service calls must name the acting member and guild")
		}
	} else {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return apperrors.NewUnauthorized("missing authorization header")
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return apperrors.NewUnauthorized("invalid authorization header")
		}
		claims, err := m.tokens.ParseToken(parts[1])
		if err != nil {
			return apperrors.NewUnauthorized("invalid token")
		}
		subject = domain.SubjectTypeUser
		actorID, guildID = claims.UserID, claims.GuildID
	}

	actor, err := m.resolver.ResolveActor(c.UserContext(), guildID, actorID)
	if err != nil {
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, &Principal{SubjectType: subject, Actor: *actor})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// ActorFromContext returns the acting member of an authenticated request.
func ActorFromContext(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal.Actor, nil
}
