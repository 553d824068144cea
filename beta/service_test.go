package beta

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountydotnew/querykit/apperr"
	"github.com/bountydotnew/querykit/auth"
	"github.com/bountydotnew/querykit/internal/sqlitedb"
)

var (
	admin = auth.Session{UserID: "admin-1", Name: "Grace", Email: "grace@bounty.new", Role: auth.RoleAdmin}
	alice = auth.Session{UserID: "user-1", Name: "Alice", Email: "alice@example.com", Role: auth.RoleUser}
)

func as(s auth.Session) context.Context { return auth.WithSession(context.Background(), s) }

func userN(i int) auth.Session {
	return auth.Session{UserID: fmt.Sprintf("user-%d", i), Name: fmt.Sprintf("User %d", i), Role: auth.RoleUser}
}

func validInput() CreateInput {
	return CreateInput{
		Name:        "Alice",
		Twitter:     "@alice",
		ProjectName: "Bounty Hunter",
		ProjectLink: "https://github.com/alice/hunter",
		Description: "A tool that hunts bounties.",
	}
}

// fakeClock advances one second per reading so rows have distinct times.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(t *testing.T) (*Service, *SQLStore) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "bounty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewSQLStore(ctx, db)
	require.NoError(t, err)

	svc := NewService(store, nil)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return svc, store
}

func TestCreateRequiresSession(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), validInput())
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = svc.CheckExisting(context.Background(), struct{}{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	in := validInput()
	in.Description = "too short"
	in.ProjectLink = "github.com/alice"
	in.Twitter = ""

	_, err := svc.Create(as(alice), in)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	fields := apperr.FieldsOf(err)
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "projectLink")
	assert.Contains(t, fields, "twitter")
	assert.NotContains(t, fields, "name")

	res, err := svc.CheckExisting(as(alice), struct{}{})
	require.NoError(t, err)
	assert.False(t, res.HasSubmitted)
}

func TestCreateOncePerUser(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CheckExisting(as(alice), struct{}{})
	require.NoError(t, err)
	assert.False(t, res.HasSubmitted)
	assert.Nil(t, res.Application)

	app, err := svc.Create(as(alice), validInput())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, app.Status)
	assert.Equal(t, alice.UserID, app.UserID)
	assert.NotEmpty(t, app.ID)

	second := validInput()
	second.ProjectName = "Something else"
	_, err = svc.Create(as(alice), second)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "You have already submitted a beta application", err.Error())

	res, err = svc.CheckExisting(as(alice), struct{}{})
	require.NoError(t, err)
	require.True(t, res.HasSubmitted)
	assert.Equal(t, app.ID, res.Application.ID)
	assert.Equal(t, "Bounty Hunter", res.Application.ProjectName)
}

func TestInsertDuplicateUserIsDetected(t *testing.T) {
	_, store := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	a := Application{ID: "a", UserID: "u", Name: "n", Twitter: "t", ProjectName: "p",
		ProjectLink: "https://x.dev", Description: "0123456789", Status: StatusPending,
		CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Insert(ctx, a))
	a.ID = "b"
	assert.ErrorIs(t, store.Insert(ctx, a), ErrDuplicate)
}

func TestListIsAdminOnly(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.List(context.Background(), ListInput{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = svc.List(as(alice), ListInput{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.UpdateStatus(as(alice), UpdateStatusInput{ID: "x", Status: StatusApproved})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	var ids []string
	for i := 1; i <= 5; i++ {
		app, err := svc.Create(as(userN(i)), validInput())
		require.NoError(t, err)
		ids = append(ids, app.ID)
	}

	res, err := svc.List(as(admin), ListInput{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, DefaultPage, res.Page)
	assert.Equal(t, DefaultLimit, res.Limit)
	assert.Equal(t, 1, res.TotalPages)
	require.Len(t, res.Applications, 5)
	assert.Equal(t, ids[4], res.Applications[0].ID)
	assert.Equal(t, "User 5", res.Applications[0].User.Name)

	res, err = svc.List(as(admin), ListInput{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Applications, 1)
	assert.Equal(t, ids[0], res.Applications[0].ID)

	res, err = svc.List(as(admin), ListInput{Page: 4, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Applications)
	assert.Equal(t, 5, res.Total)

	_, err = svc.UpdateStatus(as(admin), UpdateStatusInput{ID: ids[1], Status: StatusApproved})
	require.NoError(t, err)
	res, err = svc.List(as(admin), ListInput{Status: StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, ids[1], res.Applications[0].ID)
	res, err = svc.List(as(admin), ListInput{Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)

	empty, err := svc.List(as(admin), ListInput{Status: StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalPages)
	assert.NotNil(t, empty.Applications)
}

func TestListRejectsBadRanges(t *testing.T) {
	svc, _ := newTestService(t)
	for _, in := range []ListInput{
		{Limit: 101},
		{Limit: -1},
		{Page: -2},
		{Status: "archived"},
	} {
		_, err := svc.List(as(admin), in)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%+v", in)
	}
}

func TestUpdateStatusMirrorsAccessFlag(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	bob := userN(2)

	a1, err := svc.Create(as(alice), validInput())
	require.NoError(t, err)
	a2, err := svc.Create(as(bob), validInput())
	require.NoError(t, err)

	got, err := svc.UpdateStatus(as(admin), UpdateStatusInput{ID: a1.ID, Status: StatusApproved, ReviewNotes: "welcome"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "welcome", got.ReviewNotes)
	assert.Equal(t, admin.UserID, got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, got.UpdatedAt.After(a1.UpdatedAt))

	access, err := store.AccessStatus(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, AccessApproved, access)

	_, err = svc.UpdateStatus(as(admin), UpdateStatusInput{ID: a2.ID, Status: StatusRejected})
	require.NoError(t, err)
	access, err = store.AccessStatus(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, AccessDenied, access)

	// reviewed applications are final
	_, err = svc.UpdateStatus(as(admin), UpdateStatusInput{ID: a2.ID, Status: StatusApproved})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	access, err = store.AccessStatus(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, AccessDenied, access)

	_, err = svc.UpdateStatus(as(admin), UpdateStatusInput{ID: "missing", Status: StatusApproved})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.UpdateStatus(as(admin), UpdateStatusInput{ID: a1.ID, Status: StatusPending})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	access, err = store.AccessStatus(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, AccessNone, access)
}
