package social

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/apperr"
	"github.com/bountydotnew/querykit/provider/lru"
)

// remoteAs routes client calls to svc under sess. Procedures listed in
// failing return an unavailable error instead. A non-nil gate holds
// AddComment until it is closed.
func remoteAs(svc *Service, sess func() context.Context, failing map[string]bool, gate <-chan struct{}) Remote {
	fail := func(name string) error {
		if failing[name] {
			return apperr.Unavailable("Service unavailable", errors.New("reset"))
		}
		return nil
	}
	return Remote{
		Vote: func(_ context.Context, in BountyRef) (Votes, error) {
			if err := fail(ProcVote); err != nil {
				return Votes{}, err
			}
			return svc.Vote(sess(), in)
		},
		Votes: func(_ context.Context, in BountyRef) (Votes, error) { return svc.Votes(sess(), in) },
		ToggleBookmark: func(_ context.Context, in BountyRef) (Bookmark, error) {
			return svc.ToggleBookmark(sess(), in)
		},
		Bookmark: func(_ context.Context, in BountyRef) (Bookmark, error) { return svc.Bookmark(sess(), in) },
		Comments: func(_ context.Context, in BountyRef) ([]Comment, error) { return svc.Comments(sess(), in) },
		AddComment: func(_ context.Context, in AddCommentInput) (Comment, error) {
			if gate != nil {
				<-gate
			}
			if err := fail(ProcAddComment); err != nil {
				return Comment{}, err
			}
			return svc.AddComment(sess(), in)
		},
		UpdateComment: func(_ context.Context, in UpdateCommentInput) (Comment, error) {
			return svc.UpdateComment(sess(), in)
		},
		DeleteComment: func(_ context.Context, in CommentRef) (Deleted, error) {
			return svc.DeleteComment(sess(), in)
		},
		ToggleLike: func(_ context.Context, in CommentRef) (LikeResult, error) {
			if err := fail(ProcToggleLike); err != nil {
				return LikeResult{}, err
			}
			return svc.ToggleLike(sess(), in)
		},
		JoinWaitlist: func(_ context.Context, in WaitlistInput) (WaitlistResult, error) {
			return svc.JoinWaitlist(sess(), in)
		},
		WaitlistCount: func(_ context.Context, in querykit.NoInput) (WaitlistCount, error) {
			return svc.WaitlistCount(sess(), in)
		},
	}
}

type errLog struct {
	mu    sync.Mutex
	procs []string
}

func (l *errLog) add(proc string, _ error) {
	l.mu.Lock()
	l.procs = append(l.procs, proc)
	l.mu.Unlock()
}

func (l *errLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.procs...)
}

func newTestClient(t *testing.T, svc *Service, failing map[string]bool, gate <-chan struct{}) (*Client, *errLog) {
	t.Helper()
	p, err := lru.New(lru.Config{Size: 256})
	require.NoError(t, err)
	cache, err := querykit.New(querykit.Options{Namespace: "social", Provider: p})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	errs := &errLog{}
	c, err := NewClient(cache, remoteAs(svc, func() context.Context { return as(alice) }, failing, gate),
		ClientOptions{OnError: errs.add})
	require.NoError(t, err)
	t.Cleanup(c.Wait)
	return c, errs
}

func TestNewClientRequiresRemote(t *testing.T) {
	_, err := NewClient(nil, Remote{}, ClientOptions{})
	assert.Error(t, err)
}

func TestVoteIsOptimistic(t *testing.T) {
	svc := newTestService(t)
	c, _ := newTestClient(t, svc, nil, nil)
	ctx := context.Background()

	_, err := svc.Vote(as(bob), BountyRef{"b1"})
	require.NoError(t, err)

	v, err := c.Votes(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 1}, v)

	call := c.Vote(ctx, "b1")
	// optimistic value visible before the call returns
	v, st, err := c.votes.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	require.True(t, st.Found)
	assert.Equal(t, Votes{Count: 2, IsVoted: true}, v)

	got, err := call.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 2, IsVoted: true}, got)

	// "bounties" was invalidated; the next read reloads
	_, st, err = c.votes.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	assert.True(t, st.Stale)
	v, err = c.Votes(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 2, IsVoted: true}, v)
}

func TestFailedVoteRollsBack(t *testing.T) {
	svc := newTestService(t)
	c, errs := newTestClient(t, svc, map[string]bool{ProcVote: true}, nil)
	ctx := context.Background()

	_, err := c.Votes(ctx, "b1")
	require.NoError(t, err)
	_, err = c.Vote(ctx, "b1").Wait(ctx)
	assert.True(t, apperr.IsTemporary(err))

	v, _, err := c.votes.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	assert.Equal(t, Votes{}, v)
	assert.Equal(t, []string{ProcVote}, errs.list())
}

func TestBookmarkToggle(t *testing.T) {
	svc := newTestService(t)
	c, _ := newTestClient(t, svc, nil, nil)
	ctx := context.Background()

	b, err := c.Bookmark(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, b.Bookmarked)

	res, err := c.ToggleBookmark(ctx, "b1").Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Bookmarked)
	b, err = c.Bookmark(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, b.Bookmarked)
}

func TestAddCommentShowsTemporaryComment(t *testing.T) {
	svc := newTestService(t)
	gate := make(chan struct{})
	c, errs := newTestClient(t, svc, map[string]bool{ProcAddComment: true}, gate)
	ctx := context.Background()

	_, err := svc.AddComment(as(bob), AddCommentInput{BountyID: "b1", Content: "hello"})
	require.NoError(t, err)
	cs, err := c.Comments(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, cs, 1)

	call := c.AddComment(ctx, "b1", "mine", nil)
	cs, _, err = c.comments.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.True(t, strings.HasPrefix(cs[0].ID, "temp-"))
	assert.Equal(t, "You", cs[0].User.Name)
	assert.Equal(t, "mine", cs[0].Content)

	close(gate)
	_, err = call.Wait(ctx)
	require.Error(t, err)
	cs, _, err = c.comments.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	assert.Len(t, cs, 1, "temporary comment removed on failure")
	assert.Equal(t, []string{ProcAddComment}, errs.list())

	_, err = c.AddComment(ctx, "b1", "", nil).Wait(ctx)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCommentEditsAreOptimistic(t *testing.T) {
	svc := newTestService(t)
	c, _ := newTestClient(t, svc, nil, nil)
	ctx := context.Background()

	mine, err := svc.AddComment(as(alice), AddCommentInput{BountyID: "b1", Content: "draft"})
	require.NoError(t, err)
	other, err := svc.AddComment(as(bob), AddCommentInput{BountyID: "b1", Content: "other"})
	require.NoError(t, err)
	_, err = c.Comments(ctx, "b1")
	require.NoError(t, err)

	call := c.ToggleLike(ctx, "b1", other.ID)
	cs, _, err := c.comments.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	assert.True(t, cs[0].IsLiked)
	assert.Equal(t, 1, cs[0].LikeCount)
	_, err = call.Wait(ctx)
	require.NoError(t, err)

	_, err = c.Comments(ctx, "b1")
	require.NoError(t, err)
	upd := c.UpdateComment(ctx, "b1", mine.ID, "final")
	cs, _, err = c.comments.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	assert.Equal(t, "final", cs[1].Content)
	assert.Equal(t, 1, cs[1].EditCount)
	_, err = upd.Wait(ctx)
	require.NoError(t, err)

	_, err = c.UpdateComment(ctx, "b1", mine.ID, strings.Repeat("x", MaxCommentLen+1)).Wait(ctx)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.Comments(ctx, "b1")
	require.NoError(t, err)
	del := c.DeleteComment(ctx, "b1", mine.ID)
	cs, _, err = c.comments.Get(ctx, BountyRef{"b1"})
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, other.ID, cs[0].ID)
	_, err = del.Wait(ctx)
	require.NoError(t, err)

	cs, err = c.Comments(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.True(t, cs[0].IsLiked)
}

func TestJoinWaitlistBumpsCachedCount(t *testing.T) {
	svc := newTestService(t)
	c, _ := newTestClient(t, svc, nil, nil)
	ctx := context.Background()

	n, err := c.WaitlistCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	res, err := c.JoinWaitlist(ctx, "ada@example.com").Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Added())
	n, err = c.WaitlistCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err = c.JoinWaitlist(ctx, "ada@example.com").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgWaitlistAlready, res.Message)
	n, err = c.WaitlistCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = c.JoinWaitlist(ctx, "not-an-email").Wait(ctx)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
