package beta

import (
	"context"
	"errors"
	"sync"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/codec"
	"github.com/bountydotnew/querykit/mutation"
	"github.com/bountydotnew/querykit/rpc"
)

// Procedure names.
const (
	ProcCheckExisting = "betaApplications.checkExisting"
	ProcCreate        = "betaApplications.create"
	ProcList          = "betaApplications.getAll"
	ProcUpdateStatus  = "betaApplications.updateStatus"
)

// Prefix is invalidated by every review.
var Prefix = querykit.MustKey("betaApplications")

// Register exposes the service procedures on srv.
func (s *Service) Register(srv *rpc.Server) {
	rpc.Handle(srv, ProcCheckExisting, s.CheckExisting)
	rpc.Handle(srv, ProcCreate, s.Create)
	rpc.Handle(srv, ProcList, s.List)
	rpc.Handle(srv, ProcUpdateStatus, s.UpdateStatus)
}

// Remote is the set of procedures the client calls.
type Remote struct {
	List         querykit.Operation[ListInput, ListResult]
	UpdateStatus querykit.Operation[UpdateStatusInput, Application]
}

func RemoteOf(c *rpc.Client) Remote {
	return Remote{
		List:         rpc.Procedure[ListInput, ListResult](c, ProcList),
		UpdateStatus: rpc.Procedure[UpdateStatusInput, Application](c, ProcUpdateStatus),
	}
}

type ClientOptions struct {
	Logger querykit.Logger
	// OnReviewed runs after a review succeeded.
	OnReviewed func(Application)
	// OnReviewError runs after a review failed and the cache was restored.
	OnReviewError func(error, UpdateStatusInput)
}

// Client is the admin side of the workflow: a cached listing plus review
// mutations that update the cached pages before the server answers.
type Client struct {
	list    *querykit.Query[ListInput, ListResult]
	approve *mutation.Mutation[UpdateStatusInput, Application]
	reject  *mutation.Mutation[UpdateStatusInput, Application]

	mu   sync.Mutex
	seen map[ListInput]struct{}
}

func NewClient(cache querykit.Cache, remote Remote, opts ClientOptions) (*Client, error) {
	if remote.List == nil || remote.UpdateStatus == nil {
		return nil, errors.New("beta: remote procedures are required")
	}
	list, err := querykit.NewQuery(cache, ProcList, remote.List,
		querykit.QueryOptions[ListResult]{Codec: codec.MustCBOR[ListResult](false), Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	c := &Client{list: list, seen: make(map[ListInput]struct{})}

	review := func(name string) (*mutation.Mutation[UpdateStatusInput, Application], error) {
		return mutation.New(cache, remote.UpdateStatus, mutation.Options[UpdateStatusInput, Application]{
			Name:              name,
			Validate:          UpdateStatusInput.Validate,
			OptimisticUpdate:  c.patchPages,
			OnSuccess:         func(app Application, _ UpdateStatusInput) { callIf(opts.OnReviewed, app) },
			OnError:           opts.OnReviewError,
			InvalidateQueries: []querykit.Key{Prefix},
			OnFailure:         mutation.Rollback,
			Logger:            opts.Logger,
		})
	}
	if c.approve, err = review("beta.approve"); err != nil {
		return nil, err
	}
	if c.reject, err = review("beta.reject"); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns one page, from the cache when fresh.
func (c *Client) List(ctx context.Context, in ListInput) (ListResult, error) {
	in, err := in.Normalize()
	if err != nil {
		return ListResult{}, err
	}
	c.mu.Lock()
	c.seen[in] = struct{}{}
	c.mu.Unlock()
	return c.list.Ensure(ctx, in)
}

// Query exposes the listing query, e.g. to observe a page.
func (c *Client) Query() *querykit.Query[ListInput, ListResult] { return c.list }

func (c *Client) Approve(ctx context.Context, id, notes string) *mutation.Call[Application] {
	return c.approve.Invoke(ctx, UpdateStatusInput{ID: id, Status: StatusApproved, ReviewNotes: notes})
}

func (c *Client) Reject(ctx context.Context, id, notes string) *mutation.Call[Application] {
	return c.reject.Invoke(ctx, UpdateStatusInput{ID: id, Status: StatusRejected, ReviewNotes: notes})
}

// Wait blocks until every review started by c has finished.
func (c *Client) Wait() {
	c.approve.Wait()
	c.reject.Wait()
}

// patchPages rewrites the reviewed row in every cached page. Pages filtered
// by another status drop the row.
func (c *Client) patchPages(ctx context.Context, p *querykit.Patch, in UpdateStatusInput) error {
	c.mu.Lock()
	pages := make([]ListInput, 0, len(c.seen))
	for k := range c.seen {
		pages = append(pages, k)
	}
	c.mu.Unlock()

	for _, page := range pages {
		err := c.list.Update(ctx, p, page, func(res ListResult, found bool) (ListResult, bool) {
			if !found {
				return res, false
			}
			return reviewRow(res, page.Status, in)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func reviewRow(res ListResult, filter Status, in UpdateStatusInput) (ListResult, bool) {
	i := -1
	for j, a := range res.Applications {
		if a.ID == in.ID {
			i = j
			break
		}
	}
	if i < 0 {
		return res, false
	}
	rows := make([]Listed, 0, len(res.Applications))
	rows = append(rows, res.Applications[:i]...)
	if filter == "" || filter == in.Status {
		row := res.Applications[i]
		row.Status = in.Status
		row.ReviewNotes = in.ReviewNotes
		rows = append(rows, row)
	} else {
		res.Total = max(0, res.Total-1)
		res.TotalPages = pageCount(res.Total, res.Limit)
	}
	rows = append(rows, res.Applications[i+1:]...)
	res.Applications = rows
	return res, true
}

func callIf[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
