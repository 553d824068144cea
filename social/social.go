// Package social holds the interactions around a bounty: votes, bookmarks,
// comments with likes, and the early-access waitlist.
package social

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bountydotnew/querykit/apperr"
)

const MaxCommentLen = 245

const (
	MsgWaitlistAdded   = "You've been added to the waitlist!"
	MsgWaitlistAlready = "You're already on the waitlist!"
)

type BountyRef struct {
	BountyID string `json:"bountyId"`
}

func (r BountyRef) Validate() error {
	if strings.TrimSpace(r.BountyID) == "" {
		return apperr.Validation("invalid bountyId", map[string]string{"bountyId": "is required"})
	}
	return nil
}

type Votes struct {
	Count   int  `json:"count"`
	IsVoted bool `json:"isVoted"`
}

// Toggled is the value after the caller flipped their vote.
func (v Votes) Toggled() Votes {
	if v.IsVoted {
		return Votes{Count: max(0, v.Count-1), IsVoted: false}
	}
	return Votes{Count: v.Count + 1, IsVoted: true}
}

type Bookmark struct {
	Bookmarked bool `json:"bookmarked"`
}

type CommentUser struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

type Comment struct {
	ID        string      `json:"id"`
	BountyID  string      `json:"bountyId"`
	Content   string      `json:"content"`
	ParentID  *string     `json:"parentId"`
	CreatedAt time.Time   `json:"createdAt"`
	User      CommentUser `json:"user"`
	LikeCount int         `json:"likeCount"`
	IsLiked   bool        `json:"isLiked"`
	EditCount int         `json:"editCount"`
}

// Liked is c after the caller flipped their like.
func (c Comment) Liked() Comment {
	if c.IsLiked {
		c.LikeCount = max(0, c.LikeCount-1)
	} else {
		c.LikeCount++
	}
	c.IsLiked = !c.IsLiked
	return c
}

type AddCommentInput struct {
	BountyID string  `json:"bountyId"`
	Content  string  `json:"content"`
	ParentID *string `json:"parentId,omitempty"`
}

func (in AddCommentInput) Validate() error {
	fe := apperr.FieldErrors{}
	if strings.TrimSpace(in.BountyID) == "" {
		fe.Add("bountyId", "is required")
	}
	checkContent(fe, in.Content)
	if in.ParentID != nil && *in.ParentID == "" {
		fe.Add("parentId", "must not be empty")
	}
	return fe.Err()
}

type CommentRef struct {
	CommentID string `json:"commentId"`
}

func (r CommentRef) Validate() error {
	if strings.TrimSpace(r.CommentID) == "" {
		return apperr.Validation("invalid commentId", map[string]string{"commentId": "is required"})
	}
	return nil
}

type UpdateCommentInput struct {
	CommentID string `json:"commentId"`
	Content   string `json:"content"`
}

func (in UpdateCommentInput) Validate() error {
	fe := apperr.FieldErrors{}
	if strings.TrimSpace(in.CommentID) == "" {
		fe.Add("commentId", "is required")
	}
	checkContent(fe, in.Content)
	return fe.Err()
}

type LikeResult struct {
	LikeCount int  `json:"likeCount"`
	IsLiked   bool `json:"isLiked"`
}

type Deleted struct {
	Success bool `json:"success"`
}

type WaitlistInput struct {
	Email string `json:"email"`
}

// Normalize lowercases and validates the address.
func (in WaitlistInput) Normalize() (WaitlistInput, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	a, err := mail.ParseAddress(email)
	if err != nil || a.Address != email {
		return in, apperr.Validation("invalid email", map[string]string{"email": "must be a valid email address"})
	}
	return WaitlistInput{Email: email}, nil
}

type WaitlistResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Added reports whether the call put a new address on the list.
func (r WaitlistResult) Added() bool { return r.Success && r.Message == MsgWaitlistAdded }

type WaitlistCount struct {
	Count int64 `json:"count"`
}

func checkContent(fe apperr.FieldErrors, content string) {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	switch {
	case n == 0:
		fe.Add("content", "is required")
	case n > MaxCommentLen:
		fe.Add("content", "must be at most 245 characters")
	}
}
