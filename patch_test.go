package querykit

import (
	"context"
	"testing"
)

func flip(v votes, found bool) (votes, bool) {
	if !found {
		return v, false
	}
	v.IsVoted = !v.IsVoted
	if v.IsVoted {
		v.Count++
	} else if v.Count > 0 {
		v.Count--
	}
	return v, true
}

func newPatchFixture(t *testing.T) (context.Context, *Client, *Query[votesInput, votes]) {
	t.Helper()
	c := newTestClient(t, newMemProvider(), nil)
	q := newVotesQuery(t, c, func(context.Context, votesInput) (votes, error) { return votes{}, nil })
	return context.Background(), c, q
}

func TestPatchVisibleImmediatelyAndRollsBack(t *testing.T) {
	ctx, c, q := newPatchFixture(t)
	in := votesInput{BountyID: "b1"}
	_ = q.SetData(ctx, in, votes{Count: 3})

	p := NewPatch(c)
	if err := q.Update(ctx, p, in, flip); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := q.Get(ctx, in); v.Count != 4 || !v.IsVoted {
		t.Fatalf("optimistic value not visible: %+v", v)
	}
	if p.Len() != 1 || p.Keys()[0][0] != "bounties" {
		t.Fatalf("unexpected patched keys %v", p.Keys())
	}

	n, err := p.Rollback(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Rollback: n=%d err=%v", n, err)
	}
	if v, _, _ := q.Get(ctx, in); v.Count != 3 || v.IsVoted {
		t.Fatalf("rollback did not restore: %+v", v)
	}
}

func TestPatchUpdateSkipsMissingValue(t *testing.T) {
	ctx, c, q := newPatchFixture(t)
	p := NewPatch(c)
	if err := q.Update(ctx, p, votesInput{BountyID: "none"}, flip); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 0 {
		t.Fatalf("nothing cached, nothing patched; got %d keys", p.Len())
	}
}

func TestPatchRollbackRemovesKeyWithoutPrevious(t *testing.T) {
	ctx, c, q := newPatchFixture(t)
	in := votesInput{BountyID: "b1"}
	p := NewPatch(c)
	err := q.Update(ctx, p, in, func(votes, bool) (votes, bool) { return votes{Count: 1}, true })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if _, st, _ := q.Get(ctx, in); st.Found {
		t.Fatalf("key should be gone after rollback")
	}
}

// A server-confirmed write after the patch wins over the rollback.
func TestPatchRollbackKeepsNewerWrite(t *testing.T) {
	ctx, c, q := newPatchFixture(t)
	in := votesInput{BountyID: "b1"}
	_ = q.SetData(ctx, in, votes{Count: 3})

	p := NewPatch(c)
	_ = q.Update(ctx, p, in, flip)
	_ = q.SetData(ctx, in, votes{Count: 10, IsVoted: true})

	n, err := p.Rollback(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Rollback: n=%d err=%v", n, err)
	}
	if v, _, _ := q.Get(ctx, in); v.Count != 10 {
		t.Fatalf("newer write clobbered: %+v", v)
	}
}

func TestPatchCapturesFirstPreviousValue(t *testing.T) {
	ctx, c, q := newPatchFixture(t)
	in := votesInput{BountyID: "b1"}
	_ = q.SetData(ctx, in, votes{Count: 3})

	p := NewPatch(c)
	_ = q.Update(ctx, p, in, flip)
	_ = q.Update(ctx, p, in, flip)
	_ = q.Update(ctx, p, in, flip)
	if v, _, _ := q.Get(ctx, in); v.Count != 4 {
		t.Fatalf("after three flips: %+v", v)
	}
	if _, err := p.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := q.Get(ctx, in); v.Count != 3 || v.IsVoted {
		t.Fatalf("rollback should restore the pre-patch value: %+v", v)
	}
}

func TestPatchRollbackKeepsStaleness(t *testing.T) {
	ctx, c, q := newPatchFixture(t)
	in := votesInput{BountyID: "b1"}
	_ = q.SetData(ctx, in, votes{Count: 3})
	_ = c.Invalidate(ctx, MustKey("bounties"))

	p := NewPatch(c)
	_ = q.Update(ctx, p, in, flip)
	if _, st, _ := q.Get(ctx, in); st.Stale {
		t.Fatalf("optimistic write should be fresh")
	}
	if _, err := p.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	v, st, _ := q.Get(ctx, in)
	if v.Count != 3 || !st.Stale {
		t.Fatalf("restored value should be the old one and stale: v=%+v st=%+v", v, st)
	}
}

func TestPatchRollbackAfterInvalidationStaysStale(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemProvider(), nil)
	var fetches int
	q := newVotesQuery(t, c, func(context.Context, votesInput) (votes, error) {
		fetches++
		return votes{Count: 9}, nil
	})
	in := votesInput{BountyID: "b1"}
	_ = q.SetData(ctx, in, votes{Count: 3})

	p := NewPatch(c)
	_ = q.Update(ctx, p, in, flip)
	// another write to the same bounty was confirmed meanwhile
	if err := c.Invalidate(ctx, MustKey("bounties")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	v, st, _ := q.Get(ctx, in)
	if v.Count != 3 || !st.Stale {
		t.Fatalf("restored value must stay stale: v=%+v st=%+v", v, st)
	}
	v, err := q.Ensure(ctx, in)
	if err != nil || v.Count != 9 || fetches != 1 {
		t.Fatalf("Ensure should refetch: v=%+v err=%v fetches=%d", v, err, fetches)
	}
}
