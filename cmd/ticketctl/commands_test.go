package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/guild-tickets/internal/auth"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestServiceKeyHash(t *testing.T) {
	out := execute(t, "servicekey", "hash", "bot-secret", "--cost", "4")

	verifier := auth.NewServiceKeyVerifier(strings.TrimSpace(out))
	assert.True(t, verifier.Verify("bot-secret"))
	assert.False(t, verifier.Verify("other"))
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "cli-secret")

	out := execute(t, "token", "issue", "--user", "42", "--guild", "100")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	claims, err := auth.NewTokenManager("cli-secret", 60).ParseToken(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "100", claims.GuildID)
	assert.True(t, strings.HasPrefix(lines[1], "expires "))
}
