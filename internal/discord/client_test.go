package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/config"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.DiscordConfig{
		Token:          "token",
		APIBase:        srv.URL,
		RetryCount:     2,
		RetryWaitMs:    1,
		RetryMaxWaitMs: 20,
		TimeoutSeconds: 5,
	}, zap.NewNop())
}

func TestCreateChannelRetriesRateLimit(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot token", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.01,"code":0}`))
			return
		}

		var body createChannelPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/guilds/g1/channels", r.URL.Path)
		assert.Equal(t, "ticket-1", body.Name)
		require.Len(t, body.PermissionOverwrites, 1)
		assert.Equal(t, "1024", body.PermissionOverwrites[0].Deny)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","guild_id":"g1","name":"ticket-1"}`))
	}))

	ch, err := client.CreateChannel(context.Background(), platform.ChannelSpec{
		GuildID: "g1",
		Name:    "ticket-1",
		Overwrites: []platform.PermissionOverwrite{
			{SubjectID: "g1", Type: platform.OverwriteRole, Deny: platform.PermissionViewChannel},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", ch.ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestServerErrorsSurfaceAfterRetries(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.DeleteChannel(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, errorutil.HasCode(err, errorutil.CodeExternalService))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
	}))

	_, err := client.Channel(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrNotFound))
	assert.True(t, IsAPIError(err, 10003))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchMessagePageOrdersOldestFirst(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("after"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1000","author":{"id":"u1","username":"alice"},"content":"third","timestamp":"2024-01-01T00:00:03Z"},
			{"id":"999","author":{"id":"u1","username":"alice"},"content":"second","timestamp":"2024-01-01T00:00:02Z"},
			{"id":"98","author":{"id":"u2","username":"bob","avatar":"abc"},"content":"first","timestamp":"2024-01-01T00:00:01Z"}
		]`))
	}))

	page, err := client.FetchMessagePage(context.Background(), "c1", platform.PageOptions{Limit: 500})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"98", "999", "1000"}, []string{page[0].ID, page[1].ID, page[2].ID})
	assert.Equal(t, "https://cdn.discordapp.com/avatars/u2/abc.png", page[0].Author.AvatarURL)
}

func TestMemberResolvesAdministrator(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/guilds/g1/members/u1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":"u1","username":"alice"},"roles":["r-admin"]}`))
	})
	mux.HandleFunc("/guilds/g1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"g1","owner_id":"owner"}`))
	})
	mux.HandleFunc("/guilds/g1/roles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"g1","name":"@everyone","permissions":"1024"},{"id":"r-admin","name":"Admin","permissions":"8"}]`))
	})
	client := newTestClient(t, mux)

	member, err := client.Member(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.True(t, member.Administrator)
	assert.Equal(t, []string{"r-admin"}, member.RoleIDs)
}
