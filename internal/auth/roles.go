package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

// RequireAdministrator ensures the actor holds the guild administrator permission.
func RequireAdministrator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := ActorFromContext(c)
		if err != nil {
			return err
		}
		if !actor.Administrator {
			return apperrors.NewForbidden("administrator permission required")
		}
		return c.Next()
	}
}

// RequireGuild ensures the route's guild parameter is the actor's guild.
func RequireGuild(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := ActorFromContext(c)
		if err != nil {
			return err
		}
		if c.Params(param) != actor.GuildID {
			return apperrors.NewForbidden("guild does not match the authenticated member")
		}
		return c.Next()
	}
}
