// Package platformtest provides an in-memory chat platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spec-kit/guild-tickets/internal/platform"
)

// SentMessage records a SendMessage call.
type SentMessage struct {
	ChannelID string
	Content   string
}

// Fake implements platform.Client. Exported fields may be set before use;
// guard later reads with the accessor methods.
type Fake struct {
	mu sync.Mutex

	// CreateErr fails every CreateChannel call while set.
	CreateErr error
	// FixedChannelID makes every created channel reuse one id.
	FixedChannelID string
	// FetchErr is consulted before each page fetch with the 1-based call number.
	FetchErr func(call int, after string) error

	nextID      int
	channels    map[string]platform.ChannelSpec
	deleted     []string
	overwrites  map[string][]platform.PermissionOverwrite
	history     map[string][]platform.Message
	roles       map[string][]platform.Role
	members     map[string]platform.Member
	sent        []SentMessage
	fetchCalls  int
	createCalls int
}

var _ platform.Client = (*Fake)(nil)

// New returns an empty fake platform.
func New() *Fake {
	return &Fake{
		channels:   map[string]platform.ChannelSpec{},
		overwrites: map[string][]platform.PermissionOverwrite{},
		history:    map[string][]platform.Message{},
		roles:      map[string][]platform.Role{},
		members:    map[string]platform.Member{},
	}
}

// SetCreateErr changes the CreateChannel failure.
func (f *Fake) SetCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateErr = err
}

// AddMessages appends history to a channel. Ids must sort as snowflakes.
func (f *Fake) AddMessages(channelID string, msgs ...platform.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channelID] = append(f.history[channelID], msgs...)
	sort.Slice(f.history[channelID], func(i, j int) bool {
		return idLess(f.history[channelID][i].ID, f.history[channelID][j].ID)
	})
}

// SetRoles sets a guild's roles.
func (f *Fake) SetRoles(guildID string, roles ...platform.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = roles
}

// SetMember registers a guild member.
func (f *Fake) SetMember(guildID string, member platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[guildID+"/"+member.User.ID] = member
}

// Channel spec of a live channel.
func (f *Fake) Spec(channelID string) (platform.ChannelSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.channels[channelID]
	return spec, ok
}

// LiveChannels counts channels created and not deleted.
func (f *Fake) LiveChannels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// Deleted lists deleted channel ids in call order.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// Overwrites lists SetPermission calls for a channel.
func (f *Fake) Overwrites(channelID string) []platform.PermissionOverwrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.PermissionOverwrite(nil), f.overwrites[channelID]...)
}

// Sent lists posted messages.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// FetchCalls counts FetchMessagePage calls.
func (f *Fake) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *Fake) CreateChannel(_ context.Context, spec platform.ChannelSpec) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	id := f.FixedChannelID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("%d", 900000+f.nextID)
	}
	f.channels[id] = spec
	return &platform.Channel{ID: id, GuildID: spec.GuildID, Name: spec.Name, Topic: spec.Topic, ParentID: spec.ParentID}, nil
}

func (f *Fake) SetPermission(_ context.Context, channelID string, overwrite platform.PermissionOverwrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.overwrites[channelID] = append(f.overwrites[channelID], overwrite)
	return nil
}

func (f *Fake) RenameChannel(_ context.Context, channelID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.channels[channelID]
	if !ok {
		return platform.ErrNotFound
	}
	spec.Name = name
	f.channels[channelID] = spec
	return nil
}

func (f *Fake) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelID)
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.channels, channelID)
	return nil
}

func (f *Fake) FetchMessagePage(_ context.Context, channelID string, opts platform.PageOptions) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.FetchErr != nil {
		if err := f.FetchErr(f.fetchCalls, opts.After); err != nil {
			return nil, err
		}
	}
	if _, ok := f.channels[channelID]; !ok {
		if _, hasHistory := f.history[channelID]; !hasHistory {
			return nil, platform.ErrNotFound
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var page []platform.Message
	for _, m := range f.history[channelID] {
		if opts.After != "" && !idLess(opts.After, m.ID) {
			continue
		}
		page = append(page, m)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *Fake) Channel(_ context.Context, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.channels[channelID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &platform.Channel{ID: channelID, GuildID: spec.GuildID, Name: spec.Name, Topic: spec.Topic}, nil
}

func (f *Fake) GuildRoles(_ context.Context, guildID string) ([]platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Role(nil), f.roles[guildID]...), nil
}

func (f *Fake) Member(_ context.Context, guildID, userID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID+"/"+userID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &m, nil
}

func (f *Fake) SendMessage(_ context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{ChannelID: channelID, Content: content})
	return nil
}

func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
