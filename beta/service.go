package beta

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/apperr"
	"github.com/bountydotnew/querykit/auth"
)

// Service is the server side of the workflow. Every operation reads the
// caller's session from the context.
type Service struct {
	store Store
	log   querykit.Logger
	now   func() time.Time
	newID func() string
}

func NewService(store Store, log querykit.Logger) *Service {
	if log == nil {
		log = querykit.NopLogger{}
	}
	return &Service{store: store, log: log, now: time.Now, newID: uuid.NewString}
}

// CheckExisting reports whether the caller already applied.
func (s *Service) CheckExisting(ctx context.Context, _ querykit.NoInput) (CheckResult, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	app, found, err := s.store.ByUser(ctx, sess.UserID)
	if err != nil {
		return CheckResult{}, apperr.Wrap(apperr.KindInternal, "check application", err)
	}
	if !found {
		return CheckResult{}, nil
	}
	return CheckResult{HasSubmitted: true, Application: &app}, nil
}

// Create files the caller's application. A user applies at most once.
func (s *Service) Create(ctx context.Context, in CreateInput) (Application, error) {
	sess, err := auth.RequireUser(ctx)
	if err != nil {
		return Application{}, err
	}
	if err := in.Validate(); err != nil {
		return Application{}, err
	}

	_, found, err := s.store.ByUser(ctx, sess.UserID)
	if err != nil {
		return Application{}, apperr.Wrap(apperr.KindInternal, "check application", err)
	}
	if found {
		return Application{}, errAlreadyApplied()
	}
	if err := s.store.SaveUser(ctx, sess); err != nil {
		return Application{}, apperr.Wrap(apperr.KindInternal, "save user", err)
	}

	now := s.now().UTC()
	app := Application{
		ID:          s.newID(),
		UserID:      sess.UserID,
		Name:        in.Name,
		Twitter:     in.Twitter,
		ProjectName: in.ProjectName,
		ProjectLink: in.ProjectLink,
		Description: in.Description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch err := s.store.Insert(ctx, app); {
	case errors.Is(err, ErrDuplicate):
		return Application{}, errAlreadyApplied()
	case err != nil:
		return Application{}, apperr.Wrap(apperr.KindInternal, "create application", err)
	}
	s.log.Info("beta application submitted", querykit.Fields{"id": app.ID, "user": sess.UserID})
	return app, nil
}

// List pages through applications, newest first. Admins only.
func (s *Service) List(ctx context.Context, in ListInput) (ListResult, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return ListResult{}, err
	}
	in, err := in.Normalize()
	if err != nil {
		return ListResult{}, err
	}

	var (
		apps  []Listed
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apps, err = s.store.List(gctx, in.Status, in.Limit, in.Offset())
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, in.Status)
		return err
	})
	if err := g.Wait(); err != nil {
		return ListResult{}, apperr.Wrap(apperr.KindInternal, "list applications", err)
	}

	return ListResult{
		Applications: apps,
		Total:        total,
		Page:         in.Page,
		Limit:        in.Limit,
		TotalPages:   pageCount(total, in.Limit),
	}, nil
}

// UpdateStatus approves or rejects a pending application. Reviewed
// applications are final.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (Application, error) {
	admin, err := auth.RequireAdmin(ctx)
	if err != nil {
		return Application{}, err
	}
	if err := in.Validate(); err != nil {
		return Application{}, err
	}

	app, err := s.store.Review(ctx, Review{
		ID:         in.ID,
		Status:     in.Status,
		Notes:      in.ReviewNotes,
		ReviewerID: admin.UserID,
		At:         s.now().UTC(),
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return Application{}, apperr.NotFound("Beta application not found")
	case errors.Is(err, ErrNotPending):
		return Application{}, apperr.Conflict("Beta application has already been reviewed")
	case err != nil:
		return Application{}, apperr.Wrap(apperr.KindInternal, "update application", err)
	}
	s.log.Info("beta application reviewed", querykit.Fields{
		"id": app.ID, "status": string(app.Status), "reviewer": admin.UserID,
	})
	return app, nil
}

func errAlreadyApplied() error {
	return apperr.Conflict("You have already submitted a beta application")
}
