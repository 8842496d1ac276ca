package http

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/api/http/handlers"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/cache"
	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/platform/platformtest"
	"github.com/spec-kit/guild-tickets/internal/repository/memory"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/internal/transcript"
)

const guildID = "100"

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repos := memory.New().Repositories()
	require.NoError(t, repos.Categories.Create(context.Background(), &domain.TicketCategory{
		ID: "cat-1", GuildID: guildID, Name: "Support", ChannelName: "ticket-{number}",
		StaffRoleIDs: []string{"200"}, CooldownSeconds: 60,
	}))

	fake := platformtest.New()
	fake.SetMember(guildID, platform.Member{User: platform.User{ID: "1", Username: "alice"}})
	fake.SetMember(guildID, platform.Member{User: platform.User{ID: "50", Username: "mod"}, RoleIDs: []string{"200"}})
	fake.SetMember(guildID, platform.Member{User: platform.User{ID: "9", Username: "owner"}, Administrator: true})

	c := cache.NewMemoryCache()
	renderer, err := transcript.NewRenderer()
	require.NoError(t, err)
	categories := service.NewCategoryService(service.CategoryDependencies{CategoryRepo: repos.Categories, TicketRepo: repos.Tickets})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo: repos.Tickets,
		Categories: categories,
		Counters:   service.NewCounterService(service.CounterDependencies{TicketRepo: repos.Tickets, Cache: c}),
		Cooldowns:  service.NewCooldownGuard(c, nil),
		Channels:   fake,
		Dispatcher: events.NewInMemoryDispatcher(nil),
	})
	archives := service.NewArchiveService(service.ArchiveDependencies{
		TicketRepo: repos.Tickets, ArchiveRepo: repos.Archives, History: fake, Channels: fake, Renderer: renderer,
	})

	tokens := auth.NewTokenManager("test-secret", 5)
	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("guild-tickets", "test", nil),
		Tickets:        handlers.NewTicketsHandler(tickets, archives),
		Categories:     handlers.NewCategoriesHandler(categories),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, auth.NewServiceKeyVerifier(""), auth.NewMemberResolver(fake)),
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) (*nethttp.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		token, _, err := s.tokens.GenerateToken(userID, guildID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, nethttp.MethodPost, "/v1/tickets", "1", `{"category_id":"cat-1","topic":"refund"}`)
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	var ticket struct {
		ID     string `json:"id"`
		Number int64  `json:"number"`
		Open   bool   `json:"open"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ticket))
	assert.Equal(t, "100-1", ticket.ID)
	assert.True(t, ticket.Open)

	resp, env = s.do(t, nethttp.MethodPost, "/v1/tickets", "1", `{"category_id":"cat-1"}`)
	assert.Equal(t, nethttp.StatusTooManyRequests, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "COOLDOWN_ACTIVE", env.Error.Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = s.do(t, nethttp.MethodPost, "/v1/tickets/100-1/claim", "1", "")
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)
	resp, _ = s.do(t, nethttp.MethodPost, "/v1/tickets/100-1/claim", "50", "")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	resp, env = s.do(t, nethttp.MethodPost, "/v1/tickets/100-1/claim", "50", "")
	assert.Equal(t, nethttp.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	resp, _ = s.do(t, nethttp.MethodGet, "/v1/tickets/100-1/transcript", "1", "")
	assert.Equal(t, nethttp.StatusTooEarly, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))

	resp, _ = s.do(t, nethttp.MethodPost, "/v1/tickets/100-1/close", "1", `{"reason":"thanks"}`)
	assert.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	resp, _ = s.do(t, nethttp.MethodPost, "/v1/tickets/100-1/close", "1", "")
	assert.Equal(t, nethttp.StatusConflict, resp.StatusCode)

	resp, env = s.do(t, nethttp.MethodGet, "/v1/guilds/100/tickets?open=false", "1", "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestAuthenticationAndRouting(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, nethttp.MethodGet, "/v1/tickets/100-1", "", "")
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	resp, _ = s.do(t, nethttp.MethodGet, "/v1/guilds/999/tickets", "1", "")
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)

	resp, env = s.do(t, nethttp.MethodGet, "/v1/tickets/100-404", "1", "")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, env = s.do(t, nethttp.MethodGet, "/nowhere", "", "")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, _ = s.do(t, nethttp.MethodGet, "/health/live", "", "")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, nethttp.MethodGet, "/metrics", "", "")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestCategoryAdministration(t *testing.T) {
	s := newTestServer(t)
	body := `{"name":"Billing","channel_name":"billing-{number}","staff_role_ids":["200"]}`

	resp, _ := s.do(t, nethttp.MethodPost, "/v1/guilds/100/categories", "1", body)
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)

	resp, env := s.do(t, nethttp.MethodPost, "/v1/guilds/100/categories", "9", `{"channel_name":"x"}`)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.Contains(t, env.Error.Details, "name")

	resp, env = s.do(t, nethttp.MethodPost, "/v1/guilds/100/categories", "9", body)
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	var category struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &category))

	resp, env = s.do(t, nethttp.MethodPost, "/v1/categories/"+category.ID+"/questions", "9", `{"label":"Order id","required":true}`)
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)

	resp, env = s.do(t, nethttp.MethodPost, "/v1/tickets", "1", `{"category_id":"`+category.ID+`"}`)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ANSWERS_REQUIRED", env.Error.Code)
	assert.Len(t, env.Error.Details["questions"], 1)

	resp, _ = s.do(t, nethttp.MethodGet, "/v1/guilds/100/categories", "1", "")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, nethttp.MethodDelete, "/v1/categories/"+category.ID, "9", "")
	assert.Equal(t, nethttp.StatusNoContent, resp.StatusCode)
}
