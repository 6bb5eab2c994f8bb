package router

import (
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("router")

const (
	defaultTombstoneTTL = 5 * time.Minute
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IWaiter is the party a forwarded request belongs to (one caller connection)
type IWaiter interface {
	// WaiterID returns an id that is unique among all live waiters
	WaiterID() uint64
	// Deliver hands the final response of one request to the waiter
	Deliver(resp *common.Response)
}

// IDownstream is the link requests are forwarded on. Send must fail with
// common.ErrNotConnected while no link is established.
type IDownstream interface {
	Send(msg any) error
}

// EventHandleFunc receives downstream messages no request is waiting for
type EventHandleFunc func(payload json.RawMessage)

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

const (
	statePending int32 = iota
	stateResolved
)

// pendingEntry is one in-flight request. It is resolved exactly once: the
// response, the deadline and the owner teardown all race for claim().
type pendingEntry struct {
	id      string
	waiter  IWaiter
	timer   *time.Timer
	start   time.Time
	profile bool
	state   atomic.Int32
}

// claim moves the entry from pending to resolved. Only the first caller wins.
func (e *pendingEntry) claim() bool {
	return e.state.CompareAndSwap(statePending, stateResolved)
}

// Options configures a Router
type Options struct {
	// Timeout is the deadline of a forwarded request if Forward is called without one
	Timeout time.Duration
	// TombstoneTTL is how long the id of a timed out or cancelled request is
	// remembered, so that a late response is discarded instead of broadcast
	TombstoneTTL time.Duration
}

// Router correlates responses arriving on the downstream link with the waiters
// that issued the requests
type Router struct {
	downstream IDownstream
	opts       Options
	onEvent    atomic.Pointer[EventHandleFunc]

	pending    *xsync.MapOf[string, *pendingEntry]
	byWaiter   *xsync.MapOf[uint64, *xsync.MapOf[string, *pendingEntry]]
	tombstones *xsync.MapOf[string, time.Time]

	// metrics
	set           *metrics.Set
	forwarded     *metrics.Counter
	rejected      *metrics.Counter
	resolved      *metrics.Counter
	timeouts      *metrics.Counter
	cancellations *metrics.Counter
	events        *metrics.Counter
	late          *metrics.Counter
	hostDuration  *metrics.Histogram
}

// -----------------------------------------------------------
// Router Factory Method
// -----------------------------------------------------------

// NewRouter creates a router forwarding requests over downstream
func NewRouter(downstream IDownstream, opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = common.DefaultRequestTimeoutMs * time.Millisecond
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = defaultTombstoneTTL
	}

	r := &Router{
		downstream: downstream,
		opts:       opts,
		pending:    xsync.NewMapOf[string, *pendingEntry](),
		byWaiter:   xsync.NewMapOf[uint64, *xsync.MapOf[string, *pendingEntry]](),
		tombstones: xsync.NewMapOf[string, time.Time](),
		set:        metrics.NewSet(),
	}

	r.forwarded = r.set.NewCounter("fab_router_requests_total")
	r.rejected = r.set.NewCounter("fab_router_rejected_total")
	r.resolved = r.set.NewCounter("fab_router_responses_total")
	r.timeouts = r.set.NewCounter("fab_router_timeouts_total")
	r.cancellations = r.set.NewCounter("fab_router_cancelled_total")
	r.events = r.set.NewCounter("fab_router_events_total")
	r.late = r.set.NewCounter("fab_router_late_responses_total")
	r.hostDuration = r.set.NewHistogram("fab_router_host_duration_seconds")
	r.set.NewGauge("fab_router_pending", func() float64 {
		return float64(r.pending.Size())
	})

	return r
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// SetEventHandler registers the handler for unsolicited downstream messages
func (r *Router) SetEventHandler(handler EventHandleFunc) {
	r.onEvent.Store(&handler)
}

// Forward records a pending entry for req, arms its deadline and sends req
// downstream. It fails without side effects if the id is already pending or the
// downstream link is not available. A timeout <= 0 uses the configured default.
func (r *Router) Forward(req *common.Request, waiter IWaiter, timeout time.Duration) error {
	if req.ID == "" {
		return fmt.Errorf("request without id")
	}
	if timeout <= 0 {
		timeout = r.opts.Timeout
	}

	e := &pendingEntry{
		id:      req.ID,
		waiter:  waiter,
		start:   time.Now(),
		profile: req.WantsProfile(),
	}
	e.timer = time.AfterFunc(timeout, func() { r.expire(e) })

	if _, loaded := r.pending.LoadOrStore(req.ID, e); loaded {
		e.timer.Stop()
		r.rejected.Inc()
		return fmt.Errorf("%w: %s", common.ErrDuplicateID, req.ID)
	}
	r.tombstones.Delete(req.ID)

	owned, _ := r.byWaiter.LoadOrCompute(waiter.WaiterID(), func() *xsync.MapOf[string, *pendingEntry] {
		return xsync.NewMapOf[string, *pendingEntry]()
	})
	owned.Store(req.ID, e)

	if err := r.downstream.Send(req); err != nil {
		r.rejected.Inc()
		if !e.claim() {
			// the deadline or a teardown got there first and already settled the entry
			return nil
		}
		e.timer.Stop()
		r.remove(e)
		return err
	}

	r.forwarded.Inc()
	Logger.Debugf("Forwarded %s (%s), %d pending", req.ID, req.Action, r.pending.Size())
	return nil
}

// Resolve handles one message from the downstream link. A response to a pending
// request is delivered to its waiter. Messages without a pending id are passed to
// the event handler, except for responses to requests that already timed out or
// were cancelled, which are dropped.
func (r *Router) Resolve(raw json.RawMessage) {
	var resp common.Response
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == "" {
		r.emit(raw)
		return
	}

	e, ok := r.pending.Load(resp.ID)
	if !ok {
		if _, dead := r.tombstones.Load(resp.ID); dead {
			r.late.Inc()
			Logger.Debugf("Discarding late response for %s", resp.ID)
			return
		}
		r.emit(raw)
		return
	}

	if !e.claim() {
		r.late.Inc()
		Logger.Debugf("Discarding response for already settled %s", resp.ID)
		return
	}
	e.timer.Stop()
	r.remove(e)

	r.hostDuration.UpdateDuration(e.start)
	if e.profile {
		resp.AddTiming(common.HopHost, common.SinceMs(e.start))
	}
	r.resolved.Inc()
	e.waiter.Deliver(&resp)
}

// CancelWaiter drops every entry owned by the waiter without delivering
// anything. It returns the number of cancelled entries.
func (r *Router) CancelWaiter(waiterID uint64) int {
	owned, ok := r.byWaiter.LoadAndDelete(waiterID)
	if !ok {
		return 0
	}

	cancelled := 0
	owned.Range(func(id string, e *pendingEntry) bool {
		if e.claim() {
			e.timer.Stop()
			r.remove(e)
			r.tombstone(id)
			cancelled++
		}
		return true
	})

	if cancelled > 0 {
		r.cancellations.Add(cancelled)
		Logger.Infof("Cancelled %d pending requests of waiter %d", cancelled, waiterID)
	}
	return cancelled
}

// Pending returns the number of in-flight requests
func (r *Router) Pending() int {
	return r.pending.Size()
}

// WriteMetrics writes the router metrics in Prometheus text format
func (r *Router) WriteMetrics(w io.Writer) {
	r.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// expire settles an entry whose deadline elapsed
func (r *Router) expire(e *pendingEntry) {
	if !e.claim() {
		return
	}
	r.remove(e)
	r.tombstone(e.id)
	r.timeouts.Inc()

	resp := common.NewTimeoutResponse(e.id)
	if e.profile {
		resp.AddTiming(common.HopHost, common.SinceMs(e.start))
	}
	Logger.Warningf("Request %s timed out", e.id)
	e.waiter.Deliver(resp)
}

// remove deletes e from the pending table and from its waiter's index. A slot
// is only removed while it still holds this exact entry, the id may already be
// in use by a newer request.
func (r *Router) remove(e *pendingEntry) {
	removeIfSame(r.pending, e)
	if owned, ok := r.byWaiter.Load(e.waiter.WaiterID()); ok {
		removeIfSame(owned, e)
	}
}

func removeIfSame(m *xsync.MapOf[string, *pendingEntry], e *pendingEntry) {
	m.Compute(e.id, func(old *pendingEntry, loaded bool) (*pendingEntry, bool) {
		if loaded && old == e {
			return nil, true
		}
		// keep whatever is there, create nothing
		return old, !loaded
	})
}

// tombstone remembers a settled id for the configured TTL
func (r *Router) tombstone(id string) {
	stamp := time.Now()
	r.tombstones.Store(id, stamp)
	time.AfterFunc(r.opts.TombstoneTTL, func() {
		r.tombstones.Compute(id, func(old time.Time, loaded bool) (time.Time, bool) {
			if loaded && old.Equal(stamp) {
				return old, true
			}
			return old, !loaded
		})
	})
}

// emit passes an unsolicited message to the event handler
func (r *Router) emit(raw json.RawMessage) {
	r.events.Inc()
	if h := r.onEvent.Load(); h != nil && *h != nil {
		(*h)(raw)
	}
}
