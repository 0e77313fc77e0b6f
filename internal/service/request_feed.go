package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/pkg/changefeed"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

const (
	requestsTable     = "requests"
	applicationsTable = "request_applications"
)

// ErrMalformedChangeEvent marks events the reducer cannot apply.
var ErrMalformedChangeEvent = errors.New("malformed change event")

// ReduceRequests applies one change event to the board list and reports whether the list changed.
// The input slice is never modified.
func ReduceRequests(list []models.Request, ev changefeed.Event) ([]models.Request, bool, error) {
	var row models.Request
	if err := json.Unmarshal(ev.Row(), &row); err != nil {
		return list, false, fmt.Errorf("%w: %v", ErrMalformedChangeEvent, err)
	}
	if row.ID == 0 {
		return list, false, fmt.Errorf("%w: missing id", ErrMalformedChangeEvent)
	}

	idx := indexOfRequest(list, row.ID)
	switch ev.Type {
	case changefeed.EventInsert:
		if row.Fulfilled() {
			return list, false, nil
		}
		if idx >= 0 {
			return replaceRequest(list, idx, row), true, nil
		}
		next := make([]models.Request, 0, len(list)+1)
		next = append(next, row)
		return append(next, list...), true, nil
	case changefeed.EventUpdate:
		if idx < 0 {
			return list, false, nil
		}
		if row.Fulfilled() {
			return removeRequest(list, idx), true, nil
		}
		if sameRequest(list[idx], row) {
			return list, false, nil
		}
		return replaceRequest(list, idx, row), true, nil
	case changefeed.EventDelete:
		if idx < 0 {
			return list, false, nil
		}
		return removeRequest(list, idx), true, nil
	default:
		return list, false, fmt.Errorf("%w: unknown type %q", ErrMalformedChangeEvent, ev.Type)
	}
}

func indexOfRequest(list []models.Request, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func sameRequest(a, b models.Request) bool {
	if a.ID != b.ID || a.RequesterID != b.RequesterID || a.Text != b.Text || a.Status != b.Status {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	if (a.City == nil) != (b.City == nil) {
		return false
	}
	return a.City == nil || *a.City == *b.City
}

func replaceRequest(list []models.Request, idx int, row models.Request) []models.Request {
	next := make([]models.Request, len(list))
	copy(next, list)
	next[idx] = row
	return next
}

func removeRequest(list []models.Request, idx int) []models.Request {
	next := make([]models.Request, 0, len(list)-1)
	next = append(next, list[:idx]...)
	return append(next, list[idx+1:]...)
}

// boardRows keeps the rows a viewer may see on first load.
func boardRows(rows []models.Request, viewer models.Viewer) []models.Request {
	out := make([]models.Request, 0, len(rows))
	for _, row := range rows {
		if row.Fulfilled() {
			continue
		}
		if viewer.Role == models.RoleTeacher && row.ID == 0 {
			continue
		}
		out = append(out, row)
	}
	return out
}

type recentRequestLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.Request, error)
}

type changeSubscriber interface {
	Subscribe(ctx context.Context, table string) (*changefeed.Subscription, error)
}

// RequestFeedService builds per-client request board feeds.
type RequestFeedService struct {
	requests recentRequestLister
	hub      changeSubscriber
	limit    int
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewRequestFeedService constructs the factory. limit <= 0 falls back to 20.
func NewRequestFeedService(requests recentRequestLister, hub changeSubscriber, limit int, metrics *MetricsService, logger *zap.Logger) *RequestFeedService {
	if limit <= 0 {
		limit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestFeedService{requests: requests, hub: hub, limit: limit, metrics: metrics, logger: logger}
}

// NewFeed returns an uninitialised feed for one client.
func (s *RequestFeedService) NewFeed() *RequestBoardFeed {
	return &RequestBoardFeed{
		svc:   s,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Snapshot loads the board once without keeping a feed open.
func (s *RequestFeedService) Snapshot(ctx context.Context, viewer models.Viewer) ([]models.Request, error) {
	feed := s.NewFeed()
	defer feed.Unsubscribe()
	if err := feed.Initialize(ctx, viewer); err != nil {
		return nil, err
	}
	return feed.Snapshot(), nil
}

// RequestBoardFeed holds one viewer's list of open requests and reconciles it from change events.
// Events are applied one at a time on a single goroutine, in delivery order.
type RequestBoardFeed struct {
	svc *RequestFeedService

	mu            sync.RWMutex
	viewer        models.Viewer
	list          []models.Request
	subscribed    bool
	closed        bool
	cancel        context.CancelFunc
	subs          []*changefeed.Subscription
	onApplication func(models.Application)

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	unsubOnce sync.Once
}

// Initialize loads the newest requests for viewer. Events received by an earlier
// Subscribe are held back until the load completes.
func (f *RequestBoardFeed) Initialize(ctx context.Context, viewer models.Viewer) error {
	rows, err := f.svc.requests.ListRecent(ctx, f.svc.limit)
	if err != nil {
		return appErrors.Transport(err, "failed to load request board")
	}

	f.mu.Lock()
	f.viewer = viewer
	f.list = boardRows(rows, viewer)
	f.mu.Unlock()

	f.readyOnce.Do(func() { close(f.ready) })
	return nil
}

// Snapshot returns a copy of the current list.
func (f *RequestBoardFeed) Snapshot() []models.Request {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Request, len(f.list))
	copy(out, f.list)
	return out
}

// OnApplication registers a callback for applications to the viewer's own requests.
// It must be set before Subscribe.
func (f *RequestBoardFeed) OnApplication(fn func(models.Application)) {
	f.mu.Lock()
	f.onApplication = fn
	f.mu.Unlock()
}

// Subscribe starts reconciling the list. onListChanged receives a copy after every change.
func (f *RequestBoardFeed) Subscribe(ctx context.Context, onListChanged func([]models.Request)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return appErrors.Clone(appErrors.ErrConflict, "feed already unsubscribed")
	}
	if f.subscribed {
		return appErrors.Clone(appErrors.ErrConflict, "feed already subscribed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	requestsSub, err := f.svc.hub.Subscribe(runCtx, requestsTable)
	if err != nil {
		cancel()
		return appErrors.Transport(err, "failed to subscribe to request changes")
	}
	subs := []*changefeed.Subscription{requestsSub}

	var applications <-chan changefeed.Event
	if f.onApplication != nil {
		appSub, err := f.svc.hub.Subscribe(runCtx, applicationsTable)
		if err != nil {
			requestsSub.Close()
			cancel()
			return appErrors.Transport(err, "failed to subscribe to application changes")
		}
		subs = append(subs, appSub)
		applications = appSub.Events()
	}

	f.subscribed = true
	f.cancel = cancel
	f.subs = subs
	f.svc.metrics.FeedSubscribed(1)

	go f.run(runCtx, requestsSub.Events(), applications, onListChanged, f.onApplication)
	return nil
}

// Unsubscribe stops the feed. Calling it more than once is a no-op.
func (f *RequestBoardFeed) Unsubscribe() {
	f.unsubOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		subscribed := f.subscribed
		cancel := f.cancel
		subs := f.subs
		f.mu.Unlock()

		if !subscribed {
			f.doneOnce.Do(func() { close(f.done) })
			return
		}
		cancel()
		for _, sub := range subs {
			sub.Close()
		}
	})
}

// Done closes once the feed stops receiving events.
func (f *RequestBoardFeed) Done() <-chan struct{} {
	return f.done
}

func (f *RequestBoardFeed) run(ctx context.Context, requests, applications <-chan changefeed.Event, onListChanged func([]models.Request), onApplication func(models.Application)) {
	defer func() {
		f.svc.metrics.FeedSubscribed(-1)
		f.doneOnce.Do(func() { close(f.done) })
	}()

	select {
	case <-f.ready:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-requests:
			if !ok {
				return
			}
			f.applyRequestEvent(ev, onListChanged)
		case ev, ok := <-applications:
			if !ok {
				return
			}
			f.forwardApplication(ev, onApplication)
		}
	}
}

func (f *RequestBoardFeed) applyRequestEvent(ev changefeed.Event, onListChanged func([]models.Request)) {
	f.mu.RLock()
	current := f.list
	f.mu.RUnlock()

	next, changed, err := ReduceRequests(current, ev)
	if err != nil {
		f.svc.logger.Warn("dropping request change event", zap.String("type", string(ev.Type)), zap.Error(err))
		f.svc.metrics.RecordFeedEvent(ev.Table, string(ev.Type), "dropped")
		return
	}
	if !changed {
		f.svc.metrics.RecordFeedEvent(ev.Table, string(ev.Type), "noop")
		return
	}

	f.mu.Lock()
	f.list = next
	f.mu.Unlock()
	f.svc.metrics.RecordFeedEvent(ev.Table, string(ev.Type), "applied")

	if onListChanged != nil {
		onListChanged(f.Snapshot())
	}
}

func (f *RequestBoardFeed) forwardApplication(ev changefeed.Event, onApplication func(models.Application)) {
	if ev.Type != changefeed.EventInsert {
		return
	}
	var app models.Application
	if err := json.Unmarshal(ev.Row(), &app); err != nil || app.ID == 0 {
		f.svc.logger.Warn("dropping application change event", zap.Error(err))
		f.svc.metrics.RecordFeedEvent(ev.Table, string(ev.Type), "dropped")
		return
	}

	f.mu.RLock()
	owned := false
	if idx := indexOfRequest(f.list, app.RequestID); idx >= 0 {
		owned = f.list[idx].RequesterID == f.viewer.ID
	}
	f.mu.RUnlock()
	if !owned {
		return
	}
	f.svc.metrics.RecordFeedEvent(ev.Table, string(ev.Type), "forwarded")
	onApplication(app)
}
