// Package beta implements the beta-application review workflow: users apply
// once, admins list applications and approve or reject pending ones, and a
// decision is mirrored onto the applicant's beta access flag.
package beta

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bountydotnew/querykit/apperr"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Access is the beta access status a review decision grants.
func (s Status) Access() AccessStatus {
	switch s {
	case StatusApproved:
		return AccessApproved
	case StatusRejected:
		return AccessDenied
	default:
		return AccessNone
	}
}

// AccessStatus is the beta access flag on a user.
type AccessStatus string

const (
	AccessNone     AccessStatus = "none"
	AccessApproved AccessStatus = "approved"
	AccessDenied   AccessStatus = "denied"
)

type Application struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Twitter     string     `json:"twitter"`
	ProjectName string     `json:"projectName"`
	ProjectLink string     `json:"projectLink"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`
	ReviewedBy  string     `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Applicant is the user an application belongs to. Fields are empty when the
// user row is gone.
type Applicant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Listed is one row of the admin listing.
type Listed struct {
	Application
	User Applicant `json:"user"`
}

type CheckResult struct {
	HasSubmitted bool         `json:"hasSubmitted"`
	Application  *Application `json:"application"`
}

type CreateInput struct {
	Name        string `json:"name"`
	Twitter     string `json:"twitter"`
	ProjectName string `json:"projectName"`
	ProjectLink string `json:"projectLink"`
	Description string `json:"description"`
}

func (in CreateInput) Validate() error {
	fe := apperr.FieldErrors{}
	checkLen(fe, "name", in.Name, 1, 100)
	checkLen(fe, "twitter", in.Twitter, 1, 50)
	checkLen(fe, "projectName", in.ProjectName, 1, 200)
	checkLen(fe, "description", in.Description, 10, 1000)
	if !isHTTPURL(in.ProjectLink) {
		fe.Add("projectLink", "must be an absolute http(s) URL")
	}
	return fe.Err()
}

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

type ListInput struct {
	Status Status `json:"status,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Normalize fills defaults and validates ranges. Zero page and limit mean the
// defaults.
func (in ListInput) Normalize() (ListInput, error) {
	if in.Page == 0 {
		in.Page = DefaultPage
	}
	if in.Limit == 0 {
		in.Limit = DefaultLimit
	}
	fe := apperr.FieldErrors{}
	if in.Status != "" && !in.Status.Valid() {
		fe.Add("status", "must be pending, approved or rejected")
	}
	if in.Page < 1 {
		fe.Add("page", "must be at least 1")
	}
	if in.Limit < 1 || in.Limit > MaxLimit {
		fe.Add("limit", "must be between 1 and 100")
	}
	return in, fe.Err()
}

func (in ListInput) Offset() int { return (in.Page - 1) * in.Limit }

type ListResult struct {
	Applications []Listed `json:"applications"`
	Total        int      `json:"total"`
	Page         int      `json:"page"`
	Limit        int      `json:"limit"`
	TotalPages   int      `json:"totalPages"`
}

// pageCount is the number of pages of limit rows needed for total rows.
func pageCount(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

type UpdateStatusInput struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	ReviewNotes string `json:"reviewNotes,omitempty"`
}

func (in UpdateStatusInput) Validate() error {
	fe := apperr.FieldErrors{}
	if strings.TrimSpace(in.ID) == "" {
		fe.Add("id", "is required")
	}
	if in.Status != StatusApproved && in.Status != StatusRejected {
		fe.Add("status", "must be approved or rejected")
	}
	return fe.Err()
}

func checkLen(fe apperr.FieldErrors, field, v string, lo, hi int) {
	n := utf8.RuneCountInString(v)
	switch {
	case n < lo && lo == 1:
		fe.Add(field, "is required")
	case n < lo:
		fe.Add(field, "is too short")
	case n > hi:
		fe.Add(field, "is too long")
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
