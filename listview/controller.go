package listview

import (
	"sync"
	"time"
)

const DefaultDebounce = 300 * time.Millisecond

type ControllerOptions struct {
	PageSize  int           // 0 => DefaultPageSize
	Debounce  time.Duration // 0 => DefaultDebounce; negative applies queries at once
	SortField string
	SortDir   SortDir // "" => Desc
	// OnChange runs after every state transition, outside the lock.
	OnChange func(State)
}

// Controller owns the view state of one list view. Every change goes through
// its methods; it is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	state    State
	initial  State
	debounce time.Duration
	timer    *time.Timer
	gen      uint64 // bumped on every query change; stale timers compare against it
	closed   bool
	onChange func(State)
}

func NewController(opts ControllerOptions) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SortDir == "" {
		opts.SortDir = Desc
	}
	st := State{SortField: opts.SortField, SortDir: opts.SortDir, Page: 1, PageSize: opts.PageSize}
	return &Controller{state: st, initial: st, debounce: opts.Debounce, onChange: opts.OnChange}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetQuery records the typed text at once and applies it as the filter query
// after the debounce interval. Each call restarts the interval. Applying a
// new query returns to page 1.
func (c *Controller) SetQuery(q string) {
	c.update(func(s *State) bool {
		s.Input = q
		c.stopTimer()
		if c.debounce < 0 {
			applyQuery(s)
			return true
		}
		g := c.gen
		c.timer = time.AfterFunc(c.debounce, func() { c.fire(g) })
		return true
	})
}

// FlushQuery applies a pending query without waiting.
func (c *Controller) FlushQuery() {
	c.update(func(s *State) bool {
		if s.Query == s.Input {
			return false
		}
		c.stopTimer()
		applyQuery(s)
		return true
	})
}

func (c *Controller) ClearQuery() {
	c.update(func(s *State) bool {
		c.stopTimer()
		changed := s.Input != "" || s.Query != ""
		s.Input = ""
		if s.Query != "" {
			applyQuery(s)
		}
		return changed
	})
}

// ToggleSort flips the direction when field is already the sort field and
// otherwise sorts by field descending. Every sort change returns to page 1.
func (c *Controller) ToggleSort(field string) {
	c.update(func(s *State) bool {
		if s.SortField == field {
			s.SortDir = s.SortDir.Flip()
		} else {
			s.SortField, s.SortDir = field, Desc
		}
		s.Page = 1
		return true
	})
}

func (c *Controller) SetSort(field string, dir SortDir) {
	if dir == "" {
		dir = Desc
	}
	c.update(func(s *State) bool {
		s.SortField, s.SortDir, s.Page = field, dir, 1
		return true
	})
}

func (c *Controller) ClearSort() {
	c.update(func(s *State) bool {
		s.SortField, s.SortDir, s.Page = "", Desc, 1
		return true
	})
}

// SetPage moves to page, clamped to 1.
func (c *Controller) SetPage(page int) {
	c.update(func(s *State) bool {
		s.Page = max(page, 1)
		return true
	})
}

func (c *Controller) NextPage() {
	c.update(func(s *State) bool {
		s.Page++
		return true
	})
}

func (c *Controller) PrevPage() {
	c.update(func(s *State) bool {
		if s.Page <= 1 {
			return false
		}
		s.Page--
		return true
	})
}

// SetPageSize changes the page size and returns to page 1.
func (c *Controller) SetPageSize(size int) {
	if size <= 0 {
		return
	}
	c.update(func(s *State) bool {
		s.PageSize, s.Page = size, 1
		return true
	})
}

// Reset restores the initial state and drops a pending query.
func (c *Controller) Reset() {
	c.update(func(s *State) bool {
		c.stopTimer()
		*s = c.initial
		return true
	})
}

// Close stops a pending debounce. Later transitions are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimer()
	c.closed = true
}

func (c *Controller) fire(g uint64) {
	c.update(func(s *State) bool {
		if g != c.gen {
			return false
		}
		c.timer = nil
		applyQuery(s)
		return true
	})
}

func applyQuery(s *State) {
	s.Query = s.Input
	s.Page = 1
}

// stopTimer must be called with mu held.
func (c *Controller) stopTimer() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) update(fn func(*State) bool) {
	c.mu.Lock()
	if c.closed || !fn(&c.state) {
		c.mu.Unlock()
		return
	}
	st, cb := c.state, c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}
