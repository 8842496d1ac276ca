// Package discord implements the platform interfaces over the Discord REST API.
package discord

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/config"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

const maxPageSize = 100

// Client talks to Discord with bounded retries on rate limits and server errors.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

var _ platform.Client = (*Client)(nil)

// NewClient builds a REST client from configuration.
func NewClient(cfg config.DiscordConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.APIBase).
		SetHeader("Authorization", "Bot "+cfg.Token).
		SetHeader("User-Agent", "DiscordBot (guild-tickets, 1.0)").
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMs)*time.Millisecond).
		SetRetryMaxWaitTime(time.Duration(cfg.RetryMaxWaitMs)*time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || retryable(resp.StatusCode())
		}).
		SetRetryAfter(retryAfter).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.Error(err)}
			if resp != nil && resp.Request != nil {
				fields = append(fields, zap.String("url", resp.Request.URL), zap.Int("status", resp.StatusCode()))
			}
			logger.Warn("retrying discord request", fields...)
		})

	return &Client{http: httpClient, logger: logger}
}

// retryAfter honours the Retry-After header or the JSON retry_after field; zero falls back to backoff.
func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}
	if header := resp.Header().Get("Retry-After"); header != "" {
		if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second)), nil
		}
	}
	if apiErr, ok := resp.Error().(*APIError); ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter * float64(time.Second)), nil
	}
	return 0, nil
}

func (c *Client) request(ctx context.Context, body, result any) *resty.Request {
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	return req
}

// send executes req and converts transport failures and error statuses that
// survived the retries into ExternalServiceError.
func (c *Client) send(req *resty.Request, method, path string) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return errorutil.NewExternalServiceError("discord", err)
	}
	if resp.IsError() {
		apiErr, _ := resp.Error().(*APIError)
		if apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		c.logger.Debug("discord request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", apiErr.StatusCode),
			zap.Int("code", apiErr.Code))
		return errorutil.NewExternalServiceError("discord", apiErr)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.send(c.request(ctx, body, result), method, path)
}

func (c *Client) CreateChannel(ctx context.Context, spec platform.ChannelSpec) (*platform.Channel, error) {
	payload := createChannelPayload{
		Name:     spec.Name,
		Type:     channelTypeGuildText,
		Topic:    spec.Topic,
		ParentID: spec.ParentID,
	}
	for _, o := range spec.Overwrites {
		payload.PermissionOverwrites = append(payload.PermissionOverwrites, toOverwrite(o))
	}

	var channel channelPayload
	if err := c.do(ctx, http.MethodPost, "/guilds/"+spec.GuildID+"/channels", payload, &channel); err != nil {
		return nil, err
	}
	return channel.toPlatform(), nil
}

func (c *Client) SetPermission(ctx context.Context, channelID string, overwrite platform.PermissionOverwrite) error {
	payload := toOverwrite(overwrite)
	return c.do(ctx, http.MethodPut, "/channels/"+channelID+"/permissions/"+overwrite.SubjectID, payload, nil)
}

func (c *Client) RenameChannel(ctx context.Context, channelID, name string) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+channelID, map[string]string{"name": name}, nil)
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
}

// FetchMessagePage returns messages after opts.After in ascending id order.
// An empty After starts from the beginning of the channel.
func (c *Client) FetchMessagePage(ctx context.Context, channelID string, opts platform.PageOptions) ([]platform.Message, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	after := opts.After
	if after == "" {
		after = "0"
	}

	var page []messagePayload
	req := c.request(ctx, nil, &page).SetQueryParams(map[string]string{
		"after": after,
		"limit": strconv.Itoa(limit),
	})
	if err := c.send(req, http.MethodGet, "/channels/"+channelID+"/messages"); err != nil {
		return nil, err
	}

	sort.Slice(page, func(i, j int) bool { return snowflakeLess(page[i].ID, page[j].ID) })
	result := make([]platform.Message, 0, len(page))
	for _, m := range page {
		result = append(result, m.toPlatform())
	}
	return result, nil
}

func (c *Client) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	var channel channelPayload
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &channel); err != nil {
		return nil, err
	}
	return channel.toPlatform(), nil
}

func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]platform.Role, error) {
	var roles []rolePayload
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &roles); err != nil {
		return nil, err
	}
	result := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		result = append(result, r.toPlatform())
	}
	return result, nil
}

// Member resolves roles and the administrator flag. Owners and holders of a
// role with the Administrator permission count as administrators.
func (c *Client) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	var member memberPayload
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil, &member); err != nil {
		return nil, err
	}
	var guild guildPayload
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID, nil, &guild); err != nil {
		return nil, err
	}
	roles, err := c.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}

	held := map[string]bool{guildID: true}
	for _, id := range member.Roles {
		held[id] = true
	}
	admin := guild.OwnerID == userID
	for _, role := range roles {
		if held[role.ID] && role.Permissions&platform.PermissionAdministrator != 0 {
			admin = true
		}
	}

	return &platform.Member{
		User:          member.User.toPlatform(),
		Nick:          member.Nick,
		RoleIDs:       member.Roles,
		Administrator: admin,
	}, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	payload := messageCreatePayload{Content: content, AllowedMentions: allowedMentions{Parse: []string{}}}
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", payload, nil)
}
