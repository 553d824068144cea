package social

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountydotnew/querykit/apperr"
	"github.com/bountydotnew/querykit/auth"
	"github.com/bountydotnew/querykit/internal/sqlitedb"
)

var (
	alice = auth.Session{UserID: "u-alice", Name: "Alice", Role: auth.RoleUser}
	bob   = auth.Session{UserID: "u-bob", Name: "Bob", Role: auth.RoleUser}
)

func as(s auth.Session) context.Context { return auth.WithSession(context.Background(), s) }

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "social.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(ctx, db)
	require.NoError(t, err)

	svc := NewService(store, nil)
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return svc
}

func TestVoteToggles(t *testing.T) {
	svc := newTestService(t)
	ref := BountyRef{BountyID: "b1"}

	_, err := svc.Vote(context.Background(), ref)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	v, err := svc.Vote(as(alice), ref)
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 1, IsVoted: true}, v)
	v, err = svc.Vote(as(bob), ref)
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 2, IsVoted: true}, v)
	v, err = svc.Vote(as(alice), ref)
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 1, IsVoted: false}, v)

	v, err = svc.Votes(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 1}, v)
	v, err = svc.Votes(as(bob), ref)
	require.NoError(t, err)
	assert.Equal(t, Votes{Count: 1, IsVoted: true}, v)

	_, err = svc.Votes(context.Background(), BountyRef{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBookmarkToggles(t *testing.T) {
	svc := newTestService(t)
	ref := BountyRef{BountyID: "b1"}

	b, err := svc.Bookmark(as(alice), ref)
	require.NoError(t, err)
	assert.False(t, b.Bookmarked)

	b, err = svc.ToggleBookmark(as(alice), ref)
	require.NoError(t, err)
	assert.True(t, b.Bookmarked)
	b, err = svc.Bookmark(as(alice), ref)
	require.NoError(t, err)
	assert.True(t, b.Bookmarked)
	b, err = svc.Bookmark(as(bob), ref)
	require.NoError(t, err)
	assert.False(t, b.Bookmarked)

	_, err = svc.Bookmark(context.Background(), ref)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCommentLifecycle(t *testing.T) {
	svc := newTestService(t)
	ref := BountyRef{BountyID: "b1"}

	first, err := svc.AddComment(as(alice), AddCommentInput{BountyID: "b1", Content: "  first!  "})
	require.NoError(t, err)
	assert.Equal(t, "first!", first.Content)
	reply, err := svc.AddComment(as(bob), AddCommentInput{BountyID: "b1", Content: "reply", ParentID: &first.ID})
	require.NoError(t, err)

	cs, err := svc.Comments(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, reply.ID, cs[0].ID, "newest first")
	assert.Equal(t, "Bob", cs[0].User.Name)
	require.NotNil(t, cs[0].ParentID)
	assert.Equal(t, first.ID, *cs[0].ParentID)

	like, err := svc.ToggleLike(as(bob), CommentRef{CommentID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, LikeResult{LikeCount: 1, IsLiked: true}, like)
	cs, err = svc.Comments(as(bob), ref)
	require.NoError(t, err)
	assert.True(t, cs[1].IsLiked)
	assert.Equal(t, 1, cs[1].LikeCount)
	cs, err = svc.Comments(as(alice), ref)
	require.NoError(t, err)
	assert.False(t, cs[1].IsLiked)

	_, err = svc.UpdateComment(as(bob), UpdateCommentInput{CommentID: first.ID, Content: "hijack"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	upd, err := svc.UpdateComment(as(alice), UpdateCommentInput{CommentID: first.ID, Content: "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", upd.Content)
	assert.Equal(t, 1, upd.EditCount)
	assert.Equal(t, 1, upd.LikeCount)

	_, err = svc.DeleteComment(as(bob), CommentRef{CommentID: first.ID})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	del, err := svc.DeleteComment(as(alice), CommentRef{CommentID: first.ID})
	require.NoError(t, err)
	assert.True(t, del.Success)

	cs, err = svc.Comments(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Nil(t, cs[0].ParentID)

	_, err = svc.ToggleLike(as(bob), CommentRef{CommentID: first.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.DeleteComment(as(alice), CommentRef{CommentID: first.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddCommentValidation(t *testing.T) {
	svc := newTestService(t)
	long := make([]rune, MaxCommentLen+1)
	for i := range long {
		long[i] = 'é'
	}
	missing := "nope"
	cases := []AddCommentInput{
		{BountyID: "b1", Content: "   "},
		{BountyID: "b1", Content: string(long)},
		{Content: "hello"},
	}
	for _, in := range cases {
		_, err := svc.AddComment(as(alice), in)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%+v", in)
	}
	_, err := svc.AddComment(as(alice), AddCommentInput{BountyID: "b1", Content: string(long[:MaxCommentLen])})
	assert.NoError(t, err)
	_, err = svc.AddComment(as(alice), AddCommentInput{BountyID: "b1", Content: "x", ParentID: &missing})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWaitlist(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.JoinWaitlist(ctx, WaitlistInput{Email: "Ada@Example.com"})
	require.NoError(t, err)
	assert.True(t, res.Added())
	assert.Equal(t, MsgWaitlistAdded, res.Message)

	res, err = svc.JoinWaitlist(ctx, WaitlistInput{Email: "ada@example.com "})
	require.NoError(t, err)
	assert.False(t, res.Added())
	assert.Equal(t, MsgWaitlistAlready, res.Message)

	for _, bad := range []string{"", "ada", "Ada <ada@example.com>"} {
		_, err = svc.JoinWaitlist(ctx, WaitlistInput{Email: bad})
		assert.ErrorIs(t, err, apperr.ErrValidation, bad)
	}

	n, err := svc.WaitlistCount(ctx, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Count)
}
