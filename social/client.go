package social

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/codec"
	"github.com/bountydotnew/querykit/mutation"
	"github.com/bountydotnew/querykit/rpc"
)

var (
	// BountiesPrefix covers every bounty query; votes and bookmarks
	// invalidate it.
	BountiesPrefix = querykit.MustKey("bounties")
	commentsPrefix = querykit.MustKey("bounties", "getBountyComments")
)

// Cached comment lists larger than this are treated as corrupt; a shared
// redis cache may hold entries written by other processes.
const maxCommentsPayload = 4 << 20

// Remote is the set of procedures the client calls.
type Remote struct {
	Vote           querykit.Operation[BountyRef, Votes]
	Votes          querykit.Operation[BountyRef, Votes]
	ToggleBookmark querykit.Operation[BountyRef, Bookmark]
	Bookmark       querykit.Operation[BountyRef, Bookmark]
	Comments       querykit.Operation[BountyRef, []Comment]
	AddComment     querykit.Operation[AddCommentInput, Comment]
	UpdateComment  querykit.Operation[UpdateCommentInput, Comment]
	DeleteComment  querykit.Operation[CommentRef, Deleted]
	ToggleLike     querykit.Operation[CommentRef, LikeResult]
	JoinWaitlist   querykit.Operation[WaitlistInput, WaitlistResult]
	WaitlistCount  querykit.Operation[querykit.NoInput, WaitlistCount]
}

func RemoteOf(c *rpc.Client) Remote {
	return Remote{
		Vote:           rpc.Procedure[BountyRef, Votes](c, ProcVote),
		Votes:          rpc.Procedure[BountyRef, Votes](c, ProcVotes),
		ToggleBookmark: rpc.Procedure[BountyRef, Bookmark](c, ProcToggleBookmark),
		Bookmark:       rpc.Procedure[BountyRef, Bookmark](c, ProcBookmark),
		Comments:       rpc.Procedure[BountyRef, []Comment](c, ProcComments),
		AddComment:     rpc.Procedure[AddCommentInput, Comment](c, ProcAddComment),
		UpdateComment:  rpc.Procedure[UpdateCommentInput, Comment](c, ProcUpdateComment),
		DeleteComment:  rpc.Procedure[CommentRef, Deleted](c, ProcDeleteComment),
		ToggleLike:     rpc.Procedure[CommentRef, LikeResult](c, ProcToggleLike),
		JoinWaitlist:   rpc.Procedure[WaitlistInput, WaitlistResult](c, ProcJoinWaitlist),
		WaitlistCount:  rpc.Procedure[querykit.NoInput, WaitlistCount](c, ProcWaitlistCount),
	}
}

func (r Remote) validate() error {
	if r.Vote == nil || r.Votes == nil || r.ToggleBookmark == nil || r.Bookmark == nil ||
		r.Comments == nil || r.AddComment == nil || r.UpdateComment == nil ||
		r.DeleteComment == nil || r.ToggleLike == nil || r.JoinWaitlist == nil || r.WaitlistCount == nil {
		return errors.New("social: every remote procedure is required")
	}
	return nil
}

type ClientOptions struct {
	Logger querykit.Logger
	// OnError receives the error of any failed mutation after the cache was
	// reconciled, labelled with the procedure name.
	OnError func(proc string, err error)
}

// commentTarget addresses one comment in a bounty's cached list.
type commentTarget struct {
	BountyID  string
	CommentID string
	Content   string
}

// Client caches bounty interactions and applies the user's own changes
// optimistically.
type Client struct {
	votes     *querykit.Query[BountyRef, Votes]
	bookmark  *querykit.Query[BountyRef, Bookmark]
	comments  *querykit.Query[BountyRef, []Comment]
	waitCount *querykit.Query[querykit.NoInput, *wrapperspb.Int64Value]

	vote          *mutation.Mutation[BountyRef, Votes]
	toggleMark    *mutation.Mutation[BountyRef, Bookmark]
	addComment    *mutation.Mutation[AddCommentInput, Comment]
	toggleLike    *mutation.Mutation[commentTarget, LikeResult]
	updateComment *mutation.Mutation[commentTarget, Comment]
	deleteComment *mutation.Mutation[commentTarget, Deleted]
	joinWaitlist  *mutation.Mutation[WaitlistInput, WaitlistResult]

	log querykit.Logger
	now func() time.Time
}

func NewClient(cache querykit.Cache, r Remote, opts ClientOptions) (*Client, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	c := &Client{log: opts.Logger, now: time.Now}
	if c.log == nil {
		c.log = querykit.NopLogger{}
	}
	onErr := func(proc string) func(error) {
		return func(err error) {
			if opts.OnError != nil {
				opts.OnError(proc, err)
			}
		}
	}

	var err error
	if c.votes, err = querykit.NewQuery(cache, ProcVotes, r.Votes,
		querykit.QueryOptions[Votes]{Logger: opts.Logger}); err != nil {
		return nil, err
	}
	if c.bookmark, err = querykit.NewQuery(cache, ProcBookmark, r.Bookmark,
		querykit.QueryOptions[Bookmark]{Logger: opts.Logger}); err != nil {
		return nil, err
	}
	if c.comments, err = querykit.NewQuery(cache, ProcComments, r.Comments,
		querykit.QueryOptions[[]Comment]{
			Codec:  codec.Limit[[]Comment]{Inner: codec.Msgpack[[]Comment]{}, MaxDecode: maxCommentsPayload},
			Logger: opts.Logger,
		}); err != nil {
		return nil, err
	}
	countOp := func(ctx context.Context, in querykit.NoInput) (*wrapperspb.Int64Value, error) {
		n, err := r.WaitlistCount(ctx, in)
		if err != nil {
			return nil, err
		}
		return wrapperspb.Int64(n.Count), nil
	}
	if c.waitCount, err = querykit.NewQuery(cache, ProcWaitlistCount, countOp,
		querykit.QueryOptions[*wrapperspb.Int64Value]{
			Codec:  codec.NewProtobuf(func() *wrapperspb.Int64Value { return &wrapperspb.Int64Value{} }),
			Logger: opts.Logger,
		}); err != nil {
		return nil, err
	}

	if c.vote, err = mutation.New(cache, r.Vote, mutation.Options[BountyRef, Votes]{
		Name:     ProcVote,
		Validate: BountyRef.Validate,
		OptimisticUpdate: func(ctx context.Context, p *querykit.Patch, in BountyRef) error {
			return c.votes.Update(ctx, p, in, func(v Votes, found bool) (Votes, bool) {
				return v.Toggled(), found
			})
		},
		OnError:           func(err error, _ BountyRef) { onErr(ProcVote)(err) },
		InvalidateQueries: []querykit.Key{BountiesPrefix},
		Logger:            opts.Logger,
	}); err != nil {
		return nil, err
	}

	if c.toggleMark, err = mutation.New(cache, r.ToggleBookmark, mutation.Options[BountyRef, Bookmark]{
		Name:     ProcToggleBookmark,
		Validate: BountyRef.Validate,
		OptimisticUpdate: func(ctx context.Context, p *querykit.Patch, in BountyRef) error {
			return c.bookmark.Update(ctx, p, in, func(b Bookmark, found bool) (Bookmark, bool) {
				return Bookmark{Bookmarked: !b.Bookmarked}, found
			})
		},
		OnError:           func(err error, _ BountyRef) { onErr(ProcToggleBookmark)(err) },
		InvalidateQueries: []querykit.Key{BountiesPrefix},
		Logger:            opts.Logger,
	}); err != nil {
		return nil, err
	}

	if c.addComment, err = mutation.New(cache, r.AddComment, mutation.Options[AddCommentInput, Comment]{
		Name:     ProcAddComment,
		Validate: AddCommentInput.Validate,
		OptimisticUpdate: func(ctx context.Context, p *querykit.Patch, in AddCommentInput) error {
			temp := Comment{
				ID:        "temp-" + uuid.NewString(),
				BountyID:  in.BountyID,
				Content:   in.Content,
				ParentID:  in.ParentID,
				CreatedAt: c.now().UTC(),
				User:      CommentUser{ID: "me", Name: "You"},
			}
			return c.comments.Update(ctx, p, BountyRef{in.BountyID}, func(cs []Comment, _ bool) ([]Comment, bool) {
				return append([]Comment{temp}, cs...), true
			})
		},
		OnError:           func(err error, _ AddCommentInput) { onErr(ProcAddComment)(err) },
		InvalidateQueries: []querykit.Key{commentsPrefix},
		Logger:            opts.Logger,
	}); err != nil {
		return nil, err
	}

	c.toggleLike, err = newCommentMutation(cache, c, ProcToggleLike,
		func(ctx context.Context, t commentTarget) (LikeResult, error) {
			return r.ToggleLike(ctx, CommentRef{CommentID: t.CommentID})
		},
		func(cs []Comment, t commentTarget) []Comment {
			return mapComment(cs, t.CommentID, Comment.Liked)
		}, nil, onErr(ProcToggleLike), opts.Logger)
	if err != nil {
		return nil, err
	}
	c.updateComment, err = newCommentMutation(cache, c, ProcUpdateComment,
		func(ctx context.Context, t commentTarget) (Comment, error) {
			return r.UpdateComment(ctx, UpdateCommentInput{CommentID: t.CommentID, Content: t.Content})
		},
		func(cs []Comment, t commentTarget) []Comment {
			return mapComment(cs, t.CommentID, func(cm Comment) Comment {
				cm.Content = t.Content
				cm.EditCount++
				return cm
			})
		},
		func(t commentTarget) error {
			return UpdateCommentInput{CommentID: t.CommentID, Content: t.Content}.Validate()
		}, onErr(ProcUpdateComment), opts.Logger)
	if err != nil {
		return nil, err
	}
	c.deleteComment, err = newCommentMutation(cache, c, ProcDeleteComment,
		func(ctx context.Context, t commentTarget) (Deleted, error) {
			return r.DeleteComment(ctx, CommentRef{CommentID: t.CommentID})
		},
		func(cs []Comment, t commentTarget) []Comment {
			out := make([]Comment, 0, len(cs))
			for _, cm := range cs {
				if cm.ID != t.CommentID {
					out = append(out, cm)
				}
			}
			return out
		}, nil, onErr(ProcDeleteComment), opts.Logger)
	if err != nil {
		return nil, err
	}

	if c.joinWaitlist, err = mutation.New(cache, r.JoinWaitlist, mutation.Options[WaitlistInput, WaitlistResult]{
		Name: ProcJoinWaitlist,
		Validate: func(in WaitlistInput) error {
			_, err := in.Normalize()
			return err
		},
		OnSuccess: func(res WaitlistResult, _ WaitlistInput) {
			if res.Added() {
				c.bumpWaitlistCount()
			}
		},
		OnError: func(err error, _ WaitlistInput) { onErr(ProcJoinWaitlist)(err) },
		Logger:  opts.Logger,
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func newCommentMutation[O any](
	cache querykit.Cache,
	c *Client,
	name string,
	op querykit.Operation[commentTarget, O],
	edit func([]Comment, commentTarget) []Comment,
	check func(commentTarget) error,
	onErr func(error),
	log querykit.Logger,
) (*mutation.Mutation[commentTarget, O], error) {
	return mutation.New(cache, op, mutation.Options[commentTarget, O]{
		Name: name,
		Validate: func(t commentTarget) error {
			if err := (BountyRef{t.BountyID}).Validate(); err != nil {
				return err
			}
			if err := (CommentRef{t.CommentID}).Validate(); err != nil {
				return err
			}
			if check != nil {
				return check(t)
			}
			return nil
		},
		OptimisticUpdate: func(ctx context.Context, p *querykit.Patch, t commentTarget) error {
			return c.comments.Update(ctx, p, BountyRef{t.BountyID}, func(cs []Comment, found bool) ([]Comment, bool) {
				if !found {
					return cs, false
				}
				return edit(cs, t), true
			})
		},
		OnError:           func(err error, _ commentTarget) { onErr(err) },
		InvalidateQueries: []querykit.Key{commentsPrefix},
		Logger:            log,
	})
}

func mapComment(cs []Comment, id string, fn func(Comment) Comment) []Comment {
	out := make([]Comment, len(cs))
	for i, cm := range cs {
		if cm.ID == id {
			cm = fn(cm)
		}
		out[i] = cm
	}
	return out
}

func (c *Client) bumpWaitlistCount() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.waitCount.Update(ctx, nil, querykit.NoInput{},
		func(old *wrapperspb.Int64Value, found bool) (*wrapperspb.Int64Value, bool) {
			if !found || old == nil {
				return wrapperspb.Int64(1), true
			}
			return wrapperspb.Int64(old.GetValue() + 1), true
		})
	if err != nil {
		c.log.Warn("waitlist count update failed", querykit.Fields{"err": err})
	}
}

func (c *Client) Votes(ctx context.Context, bountyID string) (Votes, error) {
	return c.votes.Ensure(ctx, BountyRef{bountyID})
}

func (c *Client) Vote(ctx context.Context, bountyID string) *mutation.Call[Votes] {
	return c.vote.Invoke(ctx, BountyRef{bountyID})
}

func (c *Client) Bookmark(ctx context.Context, bountyID string) (Bookmark, error) {
	return c.bookmark.Ensure(ctx, BountyRef{bountyID})
}

func (c *Client) ToggleBookmark(ctx context.Context, bountyID string) *mutation.Call[Bookmark] {
	return c.toggleMark.Invoke(ctx, BountyRef{bountyID})
}

func (c *Client) Comments(ctx context.Context, bountyID string) ([]Comment, error) {
	return c.comments.Ensure(ctx, BountyRef{bountyID})
}

// CommentsQuery exposes the comments query, e.g. to observe a bounty.
func (c *Client) CommentsQuery() *querykit.Query[BountyRef, []Comment] { return c.comments }

func (c *Client) AddComment(ctx context.Context, bountyID, content string, parentID *string) *mutation.Call[Comment] {
	return c.addComment.Invoke(ctx, AddCommentInput{BountyID: bountyID, Content: content, ParentID: parentID})
}

func (c *Client) ToggleLike(ctx context.Context, bountyID, commentID string) *mutation.Call[LikeResult] {
	return c.toggleLike.Invoke(ctx, commentTarget{BountyID: bountyID, CommentID: commentID})
}

func (c *Client) UpdateComment(ctx context.Context, bountyID, commentID, content string) *mutation.Call[Comment] {
	return c.updateComment.Invoke(ctx, commentTarget{BountyID: bountyID, CommentID: commentID, Content: content})
}

func (c *Client) DeleteComment(ctx context.Context, bountyID, commentID string) *mutation.Call[Deleted] {
	return c.deleteComment.Invoke(ctx, commentTarget{BountyID: bountyID, CommentID: commentID})
}

func (c *Client) WaitlistCount(ctx context.Context) (int64, error) {
	v, err := c.waitCount.Ensure(ctx, querykit.NoInput{})
	return v.GetValue(), err
}

func (c *Client) JoinWaitlist(ctx context.Context, email string) *mutation.Call[WaitlistResult] {
	return c.joinWaitlist.Invoke(ctx, WaitlistInput{Email: email})
}

// Wait blocks until every mutation started by c has finished.
func (c *Client) Wait() {
	c.vote.Wait()
	c.toggleMark.Wait()
	c.addComment.Wait()
	c.toggleLike.Wait()
	c.updateComment.Wait()
	c.deleteComment.Wait()
	c.joinWaitlist.Wait()
}
