package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestService(t *testing.T, p *fakeProvider, window int) (*Service, *fakeProvider) {
	t.Helper()
	if p == nil {
		p = &fakeProvider{reply: "ok"}
	}
	gw := openTestGateway(t)
	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	svc := NewService(gw, registryWith(p), Options{Provider: "fake", ContextWindowSize: window}, nil)
	return svc, p
}

func TestEnsureConversation_ConcurrentCallsCreateOneRow(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			c, err := svc.EnsureConversation(ctx, "alice", "conv-1")
			if err != nil {
				return err
			}
			if c.ID != "conv-1" || c.UserID != "alice" {
				return errors.New("unexpected conversation returned")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var n int64
	require.NoError(t, svc.gw.DB(ctx).Model(&Conversation{}).Where("id = ?", "conv-1").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestEnsureConversation_DefaultsAndIdempotent(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	first, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, first.Title)

	require.NoError(t, svc.repo.UpdateTitle(ctx, "c1", "Renamed"))
	again, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Title, "existing row must not be overwritten")
}

func TestEnsureConversation_ForeignOwnerIsHidden(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	_, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)

	_, err = svc.EnsureConversation(ctx, "bob", "c1")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	c, err := svc.repo.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", c.UserID)
}

func TestEnsureConversation_InvalidID(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	_, err := svc.EnsureConversation(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrInvalidConversation)
}

func TestAppendMessage_IsNotIdempotent(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()
	_, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)

	m1, err := svc.AppendMessage(ctx, "c1", RoleUser, "same")
	require.NoError(t, err)
	m2, err := svc.AppendMessage(ctx, "c1", RoleUser, "same")
	require.NoError(t, err)
	assert.NotEqual(t, m1.ID, m2.ID)

	msgs, err := svc.ListMessages(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, m2.ID, msgs[1].ID)
}

func TestAppendMessage_RejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	_, err := svc.AppendMessage(context.Background(), "c1", "system", "x")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestListMessages_OrderedAndOwnerScoped(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()
	_, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)

	want := []string{"one", "two", "three", "four"}
	for i, content := range want {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := svc.AppendMessage(ctx, "c1", role, content)
		require.NoError(t, err)
	}

	msgs, err := svc.ListMessages(ctx, "alice", "c1")
	require.NoError(t, err)
	got := make([]string, 0, len(msgs))
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	assert.Equal(t, want, got)

	other, err := svc.ListMessages(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.NotNil(t, other)
	assert.Empty(t, other)

	missing, err := svc.ListMessages(ctx, "alice", "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestListConversations_OnlyOwn(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2"} {
		_, err := svc.EnsureConversation(ctx, "alice", id)
		require.NoError(t, err)
	}
	_, err := svc.EnsureConversation(ctx, "bob", "b1")
	require.NoError(t, err)

	convs, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	ids := []string{}
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}

func TestBeginTurn_StatelessByDefault(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	_, err := svc.BeginTurn(ctx, "alice", "c1", "first")
	require.NoError(t, err)
	turn, err := svc.BeginTurn(ctx, "alice", "c1", "second")
	require.NoError(t, err)

	assert.Equal(t, "c1", turn.Conversation.ID)
	assert.Equal(t, RoleUser, turn.UserMessage.Role)
	require.Len(t, turn.History, 1)
	assert.Equal(t, "second", turn.History[0].Content)
}

func TestBeginTurn_UsesContextWindow(t *testing.T) {
	svc, _ := newTestService(t, nil, 3)
	ctx := context.Background()

	_, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := svc.AppendMessage(ctx, "c1", role, "seed")
		require.NoError(t, err)
	}

	turn, err := svc.BeginTurn(ctx, "alice", "c1", "new")
	require.NoError(t, err)
	require.Len(t, turn.History, 3)
	last := turn.History[len(turn.History)-1]
	assert.Equal(t, RoleUser, last.Role)
	assert.Equal(t, "new", last.Content)
}

func TestBeginTurn_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	_, err := svc.BeginTurn(ctx, "alice", "c1", "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = svc.BeginTurn(ctx, "alice", "c1", "hi")
	require.NoError(t, err)
	_, err = svc.BeginTurn(ctx, "bob", "c1", "hi")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	msgs, err := svc.ListMessages(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "rejected turn must not write a message")
}

func TestGenerateTitle(t *testing.T) {
	svc, prov := newTestService(t, &fakeProvider{reply: "  \"Trip Planning Ideas\"\nextra"}, 0)
	ctx := context.Background()

	_, err := svc.EnsureConversation(ctx, "alice", "c1")
	require.NoError(t, err)
	_, err = svc.GenerateTitle(ctx, "alice", "c1")
	assert.ErrorIs(t, err, ErrNothingToTitle)

	_, err = svc.AppendMessage(ctx, "c1", RoleUser, "help me plan a trip")
	require.NoError(t, err)

	conv, err := svc.GenerateTitle(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning Ideas", conv.Title)
	require.Len(t, prov.last, 2)
	assert.Equal(t, "help me plan a trip", prov.last[1].Content)

	stored, err := svc.repo.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning Ideas", stored.Title)

	_, err = svc.GenerateTitle(ctx, "bob", "c1")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestTitleJobLifecycle(t *testing.T) {
	svc, prov := newTestService(t, &fakeProvider{reply: "Weather Chat"}, 0)
	ctx := context.Background()

	_, err := svc.BeginTurn(ctx, "alice", "c1", "what's the weather")
	require.NoError(t, err)

	_, err = svc.CreateTitleJob(ctx, "bob", "c1")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	job, err := svc.CreateTitleJob(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)

	require.NoError(t, svc.ProcessJob(ctx, job.ID))
	got, err := svc.GetJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Weather Chat", *got.Result)

	// a second delivery of the same job is a no-op
	require.NoError(t, svc.ProcessJob(ctx, job.ID))

	_, err = svc.GetJob(ctx, "bob", job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	prov.err = errors.New("upstream down")
	job2, err := svc.CreateTitleJob(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.ProcessJob(ctx, job2.ID), ErrJobFailed)
	got2, err := svc.GetJob(ctx, "alice", job2.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got2.Status)
	require.NotNil(t, got2.Error)
	assert.Contains(t, *got2.Error, "upstream down")
}

func TestReleaseJob_AllowsReclaim(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	_, err := svc.BeginTurn(ctx, "alice", "c1", "hi")
	require.NoError(t, err)
	job, err := svc.CreateTitleJob(ctx, "alice", "c1")
	require.NoError(t, err)

	claimed, err := svc.repo.MarkJobRunning(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = svc.repo.MarkJobRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, svc.repo.ReleaseJob(ctx, job.ID))
	claimed, err = svc.repo.MarkJobRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Hello World", cleanTitle("  'Hello   World.'  "))
	assert.Equal(t, "", cleanTitle("   "))
	long := "a very long title that keeps going and going well past the sixty rune limit"
	assert.LessOrEqual(t, len([]rune(cleanTitle(long))), 60)
}
