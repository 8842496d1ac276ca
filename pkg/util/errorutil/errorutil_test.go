package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	t.Run("passes domain errors through wrapping", func(t *testing.T) {
		err := fmt.Errorf("claim: %w", NewConflict("ticket already claimed", nil))
		de := ToDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, CodeConflict, de.Code)
		assert.Equal(t, http.StatusConflict, de.HTTPStatus)
	})

	t.Run("maps missing rows to not found", func(t *testing.T) {
		de := ToDomainError(fmt.Errorf("load: %w", pgx.ErrNoRows))
		assert.Equal(t, CodeNotFound, de.Code)
		assert.Equal(t, http.StatusNotFound, de.HTTPStatus)
	})

	t.Run("hides unknown errors", func(t *testing.T) {
		de := ToDomainError(errors.New("boom"))
		assert.Equal(t, CodeInternal, de.Code)
		assert.Equal(t, "internal server error", de.Message)
		assert.ErrorContains(t, de, "boom")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, ToDomainError(nil))
		assert.NoError(t, MapError(nil))
	})
}

func TestStructuredDetails(t *testing.T) {
	limit := ToDomainError(NewLimitExceeded("member", 1))
	assert.Equal(t, CodeLimitExceeded, limit.Code)
	assert.Equal(t, "member", limit.Details["scope"])
	assert.Equal(t, 1, limit.Details["limit"])

	cooldown := ToDomainError(NewCooldownActive(42))
	assert.Equal(t, CodeCooldownActive, cooldown.Code)
	assert.Equal(t, 42, cooldown.Details["remaining_seconds"])

	assert.True(t, HasCode(NewNotReady("transcript not ready", nil), CodeNotReady))
	assert.False(t, HasCode(errors.New("plain"), CodeNotReady))

	external := NewExternalServiceError("discord", errors.New("503"))
	assert.True(t, HasCode(external, CodeExternalService))
	assert.ErrorContains(t, external, "discord request failed")
}
