package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

func TestCreateTicket(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ctx := context.Background()

	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1"), Topic: strPtr("  refund  ")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.Number)
	assert.Equal(t, testGuild+"-1", ticket.ID)
	assert.True(t, ticket.Open)
	require.NotNil(t, ticket.Topic)
	assert.Equal(t, "refund", *ticket.Topic)

	spec, ok := h.platform.Spec(ticket.ChannelID)
	require.True(t, ok)
	assert.Equal(t, "ticket-0001", spec.Name)
	assert.Contains(t, spec.Overwrites, platform.PermissionOverwrite{
		SubjectID: testGuild, Type: platform.OverwriteRole, Deny: platform.PermissionViewChannel,
	})
	assert.Contains(t, spec.Overwrites, platform.PermissionOverwrite{
		SubjectID: "200", Type: platform.OverwriteRole, Allow: platform.TicketParticipant,
	})

	created := h.eventsOf(events.EventTicketCreated)
	require.Len(t, created, 1)
	assert.Equal(t, ticket.ID, created[0].TicketID)

	byChannel, err := h.tickets.GetByChannel(ctx, ticket.ChannelID, member("1"))
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, byChannel.ID)
}

func TestCreateRejectsUnknownCategoryAndMissingRoles(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{RequiredRoleIDs: []string{"300"}})
	ctx := context.Background()

	_, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "missing", Actor: member("1")})
	assert.True(t, errorutil.HasCode(err, errorutil.CodeValidation))

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	assert.True(t, errorutil.HasCode(err, errorutil.CodeForbidden))

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1", "300")})
	assert.NoError(t, err)
}

func TestCreateRequiresTopic(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{RequireTopic: true})

	_, err := h.tickets.Create(context.Background(), CreateTicketInput{CategoryID: "cat-1", Actor: member("1"), Topic: strPtr("   ")})
	assert.True(t, errorutil.HasCode(err, errorutil.CodeValidation))
	assert.Zero(t, h.platform.LiveChannels())
}

func TestTotalLimitUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{TotalLimit: 2, MemberLimit: 1})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		numbers  []int64
		failures []error
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member(id)})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			numbers = append(numbers, ticket.Number)
		}(fmt.Sprint(i))
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	assert.Equal(t, []int64{1, 2}, numbers)
	require.Len(t, failures, 1)
	de := errorutil.ToDomainError(failures[0])
	assert.Equal(t, errorutil.CodeLimitExceeded, de.Code)
	assert.Equal(t, "total", de.Details["scope"])
	assert.Equal(t, 2, h.platform.LiveChannels())
}

func TestStaleCachedCountsDoNotReject(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{TotalLimit: 2, MemberLimit: 1})
	ctx := context.Background()

	first, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)
	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("2")})
	require.NoError(t, err)
	_, err = h.tickets.Close(ctx, first.ID, member("1"), nil)
	require.NoError(t, err)

	// Counts written before the close landed, as a lagging replica would leave them.
	require.NoError(t, h.cache.Set(ctx, categoryKey("cat-1"), "2", time.Minute))
	require.NoError(t, h.cache.Set(ctx, memberKey("cat-1", "1"), "1", time.Minute))

	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ticket.Number)

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("3")})
	de := errorutil.ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, errorutil.CodeLimitExceeded, de.Code)
	assert.Equal(t, "total", de.Details["scope"])
}

func TestLockedRecheckUsesStoredLimits(t *testing.T) {
	h := newHarness(t)
	category := h.seedCategory(t, domain.TicketCategory{TotalLimit: 1})
	ctx := context.Background()

	_, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	// Limits changed behind the service's category cache.
	category.TotalLimit = 2
	require.NoError(t, h.repos.Categories.Update(ctx, category))
	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("2")})
	require.NoError(t, err)

	category.TotalLimit = 5
	require.NoError(t, h.repos.Categories.Update(ctx, category))
	_, err = h.categories.Get(ctx, "cat-1", true)
	require.NoError(t, err)
	category.TotalLimit = 2
	require.NoError(t, h.repos.Categories.Update(ctx, category))

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("3")})
	de := errorutil.ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, errorutil.CodeLimitExceeded, de.Code)
	assert.Equal(t, 2, de.Details["limit"])
	assert.Equal(t, 2, h.platform.LiveChannels())
}

func TestMemberLimitUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{MemberLimit: 3})
	ctx := context.Background()

	var succeeded, limited int
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := h.tickets.Create(gctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("7")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errorutil.HasCode(err, errorutil.CodeLimitExceeded):
				limited++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, limited)

	open, err := h.repos.Tickets.CountOpenByMember(ctx, "cat-1", "7")
	require.NoError(t, err)
	assert.Equal(t, 3, open)
}

func TestCooldownBlocksSecondTicket(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{CooldownSeconds: 60})
	ctx := context.Background()

	_, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	de := errorutil.ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, errorutil.CodeCooldownActive, de.Code)
	remaining, ok := de.Details["remaining_seconds"].(int)
	require.True(t, ok)
	assert.Greater(t, remaining, 0)
	assert.LessOrEqual(t, remaining, 60)

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("2")})
	assert.NoError(t, err, "cooldown is per member")
}

func TestCreateWithQuestions(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{Questions: []domain.TicketQuestion{
		{ID: "q1", CategoryID: "cat-1", Label: "Order id", Required: true, Style: domain.QuestionStyleShort, MinLength: 3, MaxLength: 10},
		{ID: "q2", CategoryID: "cat-1", Label: "Details", Style: domain.QuestionStyleParagraph, Order: 1},
	}})
	ctx := context.Background()

	_, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	de := errorutil.ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, errorutil.CodeAnswersRequired, de.Code)
	questions, ok := de.Details["questions"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, questions, 2)
	assert.Zero(t, h.platform.LiveChannels())

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1"), Answers: map[string]string{"q2": "hi"}})
	assert.True(t, errorutil.HasCode(err, errorutil.CodeValidation))

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1"), Answers: map[string]string{"q1": "ab"}})
	assert.True(t, errorutil.HasCode(err, errorutil.CodeValidation))

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1"), Answers: map[string]string{"q1": "A-100", "q9": "x"}})
	assert.True(t, errorutil.HasCode(err, errorutil.CodeValidation))

	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1"), Answers: map[string]string{"q1": " A-100 "}})
	require.NoError(t, err)
	answers, err := h.tickets.Answers(ctx, ticket.ID, member("1"))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.TicketQuestionAnswer{TicketID: ticket.ID, QuestionID: "q1", UserID: "1", Value: "A-100"}, answers[0])
}

func TestProvisioningFailureLeavesNoTicket(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{})
	ctx := context.Background()

	h.platform.SetCreateErr(errors.New("discord unavailable"))
	_, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.Error(t, err)
	assert.Empty(t, h.eventsOf(events.EventTicketCreated))

	list, err := h.tickets.List(ctx, admin("9"), TicketListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	h.platform.SetCreateErr(nil)
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.Number, "a failed creation must not consume a number")
}

func TestFailedInsertRemovesProvisionedChannel(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{})
	ctx := context.Background()

	h.platform.FixedChannelID = "555"
	_, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("2")})
	require.Error(t, err)
	assert.Equal(t, []string{"555"}, h.platform.Deleted())

	h.platform.FixedChannelID = ""
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("2")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ticket.Number)
}

func TestClaimRace(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ctx := context.Background()
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.tickets.Claim(ctx, ticket.ID, member(fmt.Sprint(50+i), "200"))
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errorutil.HasCode(err, errorutil.CodeConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, h.eventsOf(events.EventTicketClaimed), 1)
}

func TestClaimAndUnclaimRules(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}, ClaimingEnabled: true})
	ctx := context.Background()
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	_, err = h.tickets.Claim(ctx, ticket.ID, member("1"))
	assert.True(t, errorutil.HasCode(err, errorutil.CodeForbidden))

	_, err = h.tickets.Unclaim(ctx, ticket.ID, member("50", "200"))
	assert.True(t, errorutil.HasCode(err, errorutil.CodeConflict))

	claimed, err := h.tickets.Claim(ctx, ticket.ID, member("50", "200"))
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "50", *claimed.ClaimedBy)

	overwrites := h.platform.Overwrites(ticket.ChannelID)
	assert.Contains(t, overwrites, platform.PermissionOverwrite{
		SubjectID: "200", Type: platform.OverwriteRole,
		Allow: platform.TicketParticipant &^ platform.PermissionSendMessages, Deny: platform.PermissionSendMessages,
	})
	assert.Contains(t, overwrites, platform.PermissionOverwrite{
		SubjectID: "50", Type: platform.OverwriteMember, Allow: platform.TicketParticipant,
	})

	_, err = h.tickets.Unclaim(ctx, ticket.ID, member("51", "200"))
	assert.True(t, errorutil.HasCode(err, errorutil.CodeForbidden))

	unclaimed, err := h.tickets.Unclaim(ctx, ticket.ID, admin("9"))
	require.NoError(t, err)
	assert.Nil(t, unclaimed.ClaimedBy)

	overwrites = h.platform.Overwrites(ticket.ChannelID)
	assert.Equal(t, platform.PermissionOverwrite{SubjectID: "50", Type: platform.OverwriteMember}, overwrites[len(overwrites)-1])
}

func TestCloseIsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ctx := context.Background()
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	_, err = h.tickets.Close(ctx, ticket.ID, member("2"), nil)
	assert.True(t, errorutil.HasCode(err, errorutil.CodeForbidden))

	closed, err := h.tickets.Close(ctx, ticket.ID, member("1"), strPtr(" solved "))
	require.NoError(t, err)
	assert.False(t, closed.Open)
	assert.True(t, closed.Deleted)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, "solved", *closed.CloseReason)

	require.NoError(t, h.archives.Run(ctx, ticket.ID))
	first, err := h.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)

	_, err = h.tickets.Close(ctx, ticket.ID, member("50", "200"), nil)
	assert.True(t, errorutil.HasCode(err, errorutil.CodeConflict))
	assert.Len(t, h.eventsOf(events.EventTicketClosed), 1)

	again, err := h.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, first.MessageCount, again.MessageCount)

	_, err = h.tickets.Claim(ctx, ticket.ID, member("50", "200"))
	assert.True(t, errorutil.HasCode(err, errorutil.CodeConflict))
}

func TestUnclaimAfterCloseIsRejected(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ctx := context.Background()
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	_, err = h.tickets.Claim(ctx, ticket.ID, member("50", "200"))
	require.NoError(t, err)
	_, err = h.tickets.Close(ctx, ticket.ID, member("1"), nil)
	require.NoError(t, err)

	_, err = h.tickets.Unclaim(ctx, ticket.ID, member("50", "200"))
	assert.True(t, errorutil.HasCode(err, errorutil.CodeConflict))
	assert.Empty(t, h.eventsOf(events.EventTicketUnclaimed))

	stored, err := h.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClaimedBy)
	assert.Equal(t, "50", *stored.ClaimedBy)
}

// blockingMessenger holds every send until released or its context ends.
type blockingMessenger struct {
	release chan struct{}
	started chan struct{}

	mu   sync.Mutex
	sent []string
	errs []error
}

func (m *blockingMessenger) SendMessage(ctx context.Context, _ string, content string) error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	select {
	case <-m.release:
	case <-ctx.Done():
		m.mu.Lock()
		m.errs = append(m.errs, ctx.Err())
		m.mu.Unlock()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, content)
	return nil
}

func TestCloseDoesNotWaitForNotifications(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{LogChannelID: strPtr("777")})
	messenger := &blockingMessenger{release: make(chan struct{}), started: make(chan struct{}, 1)}
	NewNotificationService(NotificationDependencies{
		Dispatcher: h.dispatcher,
		Categories: h.categories,
		Messenger:  messenger,
	}).RegisterHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	select {
	case <-messenger.started:
	case <-time.After(5 * time.Second):
		t.Fatal("created notification never started")
	}

	closed := make(chan error, 1)
	go func() {
		_, err := h.tickets.Close(ctx, ticket.ID, member("1"), strPtr("done"))
		closed <- err
	}()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close waited on notification delivery")
	}

	state, err := h.repos.Archives.GetState(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveStatusPending, state.Status)

	// The request ends before the queued notifications are delivered.
	cancel()
	close(messenger.release)
	h.dispatcher.Wait()

	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	assert.Empty(t, messenger.errs)
	require.Len(t, messenger.sent, 2)
	assert.Contains(t, messenger.sent[0], "opened by <@1>")
	assert.Equal(t, "Ticket 100-1 closed by <@1>: done", messenger.sent[1])
}

func TestDeleteClosesOpenTicketAndIsRepeatable(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ctx := context.Background()
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	assert.True(t, errorutil.HasCode(h.tickets.Delete(ctx, ticket.ID, member("1")), errorutil.CodeForbidden))

	require.NoError(t, h.tickets.Delete(ctx, ticket.ID, member("50", "200")))
	require.NoError(t, h.tickets.Delete(ctx, ticket.ID, admin("9")))

	stored, err := h.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, stored.Open)
	assert.True(t, stored.Deleted)
	assert.Len(t, h.eventsOf(events.EventTicketClosed), 1)
	assert.Len(t, h.eventsOf(events.EventTicketDeleted), 1)
}

func TestVisibility(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ctx := context.Background()
	mine, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)
	_, err = h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("2")})
	require.NoError(t, err)

	_, err = h.tickets.Get(ctx, mine.ID, member("2"))
	assert.True(t, errorutil.HasCode(err, errorutil.CodeForbidden))

	foreign := member("1")
	foreign.GuildID = "999"
	_, err = h.tickets.Get(ctx, mine.ID, foreign)
	assert.True(t, errorutil.HasCode(err, errorutil.CodeNotFound))

	own, err := h.tickets.List(ctx, member("1"), TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	category := "cat-1"
	staffView, err := h.tickets.List(ctx, member("50", "200"), TicketListFilter{CategoryID: &category})
	require.NoError(t, err)
	assert.Len(t, staffView, 2)

	all, err := h.tickets.List(ctx, admin("9"), TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
