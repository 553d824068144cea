package social

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/apperr"
	"github.com/bountydotnew/querykit/auth"
	"github.com/bountydotnew/querykit/rpc"
)

// Procedure names.
const (
	ProcVote           = "bounties.voteBounty"
	ProcVotes          = "bounties.getBountyVotes"
	ProcToggleBookmark = "bounties.toggleBountyBookmark"
	ProcBookmark       = "bounties.getBountyBookmark"
	ProcComments       = "bounties.getBountyComments"
	ProcAddComment     = "bounties.addBountyComment"
	ProcUpdateComment  = "bounties.updateBountyComment"
	ProcDeleteComment  = "bounties.deleteBountyComment"
	ProcToggleLike     = "bounties.toggleCommentLike"
	ProcJoinWaitlist   = "earlyAccess.joinWaitlist"
	ProcWaitlistCount  = "earlyAccess.getWaitlistCount"
)

type Service struct {
	store *Store
	log   querykit.Logger
	now   func() time.Time
	newID func() string
}

func NewService(store *Store, log querykit.Logger) *Service {
	if log == nil {
		log = querykit.NopLogger{}
	}
	return &Service{store: store, log: log, now: time.Now, newID: uuid.NewString}
}

func (s *Service) Register(srv *rpc.Server) {
	rpc.Handle(srv, ProcVote, s.Vote)
	rpc.Handle(srv, ProcVotes, s.Votes)
	rpc.Handle(srv, ProcToggleBookmark, s.ToggleBookmark)
	rpc.Handle(srv, ProcBookmark, s.Bookmark)
	rpc.Handle(srv, ProcComments, s.Comments)
	rpc.Handle(srv, ProcAddComment, s.AddComment)
	rpc.Handle(srv, ProcUpdateComment, s.UpdateComment)
	rpc.Handle(srv, ProcDeleteComment, s.DeleteComment)
	rpc.Handle(srv, ProcToggleLike, s.ToggleLike)
	rpc.Handle(srv, ProcJoinWaitlist, s.JoinWaitlist)
	rpc.Handle(srv, ProcWaitlistCount, s.WaitlistCount)
}

func internalErr(msg string, err error) error { return apperr.Wrap(apperr.KindInternal, msg, err) }

// Vote toggles the caller's vote.
func (s *Service) Vote(ctx context.Context, in BountyRef) (Votes, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return Votes{}, err
	}
	if err := in.Validate(); err != nil {
		return Votes{}, err
	}
	v, err := s.store.ToggleVote(ctx, in.BountyID, sess.UserID, s.now())
	if err != nil {
		return Votes{}, internalErr("vote", err)
	}
	return v, nil
}

// Votes is public; IsVoted reflects the caller when signed in.
func (s *Service) Votes(ctx context.Context, in BountyRef) (Votes, error) {
	if err := in.Validate(); err != nil {
		return Votes{}, err
	}
	sess, _ := auth.FromContext(ctx)
	v, err := s.store.Votes(ctx, in.BountyID, sess.UserID)
	if err != nil {
		return Votes{}, internalErr("votes", err)
	}
	return v, nil
}

func (s *Service) ToggleBookmark(ctx context.Context, in BountyRef) (Bookmark, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return Bookmark{}, err
	}
	if err := in.Validate(); err != nil {
		return Bookmark{}, err
	}
	b, err := s.store.ToggleBookmark(ctx, in.BountyID, sess.UserID, s.now())
	if err != nil {
		return Bookmark{}, internalErr("bookmark", err)
	}
	return b, nil
}

func (s *Service) Bookmark(ctx context.Context, in BountyRef) (Bookmark, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return Bookmark{}, err
	}
	if err := in.Validate(); err != nil {
		return Bookmark{}, err
	}
	b, err := s.store.Bookmarked(ctx, in.BountyID, sess.UserID)
	if err != nil {
		return Bookmark{}, internalErr("bookmark", err)
	}
	return b, nil
}

// Comments is public; IsLiked reflects the caller when signed in.
func (s *Service) Comments(ctx context.Context, in BountyRef) ([]Comment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	sess, _ := auth.FromContext(ctx)
	cs, err := s.store.Comments(ctx, in.BountyID, sess.UserID)
	if err != nil {
		return nil, internalErr("comments", err)
	}
	return cs, nil
}

func (s *Service) AddComment(ctx context.Context, in AddCommentInput) (Comment, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return Comment{}, err
	}
	if err := in.Validate(); err != nil {
		return Comment{}, err
	}
	if in.ParentID != nil {
		if _, err := s.store.CommentAuthor(ctx, *in.ParentID); err != nil {
			return Comment{}, s.commentErr(err)
		}
	}
	if err := s.store.SaveUser(ctx, sess); err != nil {
		return Comment{}, internalErr("save user", err)
	}
	c := Comment{
		ID:        s.newID(),
		BountyID:  in.BountyID,
		Content:   strings.TrimSpace(in.Content),
		ParentID:  in.ParentID,
		CreatedAt: s.now().UTC(),
		User:      CommentUser{ID: sess.UserID, Name: sess.Name},
	}
	if err := s.store.AddComment(ctx, c); err != nil {
		return Comment{}, internalErr("add comment", err)
	}
	return c, nil
}

func (s *Service) UpdateComment(ctx context.Context, in UpdateCommentInput) (Comment, error) {
	sess, err := s.requireAuthor(ctx, in.CommentID, in.Validate)
	if err != nil {
		return Comment{}, err
	}
	if err := s.store.UpdateComment(ctx, in.CommentID, strings.TrimSpace(in.Content), s.now()); err != nil {
		return Comment{}, s.commentErr(err)
	}
	c, err := s.store.Comment(ctx, in.CommentID, sess.UserID)
	if err != nil {
		return Comment{}, s.commentErr(err)
	}
	return c, nil
}

func (s *Service) DeleteComment(ctx context.Context, in CommentRef) (Deleted, error) {
	if _, err := s.requireAuthor(ctx, in.CommentID, in.Validate); err != nil {
		return Deleted{}, err
	}
	if err := s.store.DeleteComment(ctx, in.CommentID); err != nil {
		return Deleted{}, s.commentErr(err)
	}
	return Deleted{Success: true}, nil
}

func (s *Service) ToggleLike(ctx context.Context, in CommentRef) (LikeResult, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return LikeResult{}, err
	}
	if err := in.Validate(); err != nil {
		return LikeResult{}, err
	}
	r, err := s.store.ToggleLike(ctx, in.CommentID, sess.UserID)
	if err != nil {
		return LikeResult{}, s.commentErr(err)
	}
	return r, nil
}

func (s *Service) JoinWaitlist(ctx context.Context, in WaitlistInput) (WaitlistResult, error) {
	in, err := in.Normalize()
	if err != nil {
		return WaitlistResult{}, err
	}
	added, err := s.store.JoinWaitlist(ctx, in.Email, s.now())
	if err != nil {
		return WaitlistResult{}, internalErr("join waitlist", err)
	}
	if !added {
		return WaitlistResult{Success: true, Message: MsgWaitlistAlready}, nil
	}
	s.log.Info("waitlist joined", querykit.Fields{"email_domain": domainOf(in.Email)})
	return WaitlistResult{Success: true, Message: MsgWaitlistAdded}, nil
}

func (s *Service) WaitlistCount(ctx context.Context, _ querykit.NoInput) (WaitlistCount, error) {
	n, err := s.store.WaitlistCount(ctx)
	if err != nil {
		return WaitlistCount{}, internalErr("waitlist count", err)
	}
	return WaitlistCount{Count: n}, nil
}

// requireAuthor checks the session, validates, and checks that the caller
// wrote commentID.
func (s *Service) requireAuthor(ctx context.Context, commentID string, validate func() error) (auth.Session, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	if err := validate(); err != nil {
		return auth.Session{}, err
	}
	author, err := s.store.CommentAuthor(ctx, commentID)
	if err != nil {
		return auth.Session{}, s.commentErr(err)
	}
	if author != sess.UserID {
		return auth.Session{}, apperr.Forbidden("You can only change your own comments")
	}
	return sess, nil
}

func (s *Service) commentErr(err error) error {
	if errors.Is(err, ErrCommentNotFound) {
		return apperr.NotFound("Comment not found")
	}
	return internalErr("comment", err)
}

func domainOf(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}
