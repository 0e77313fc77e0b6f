package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/pkg/changefeed"
)

type requestRowFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Request, error)
}

type applicationRowFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Application, error)
}

type changePublisher interface {
	Publish(ev changefeed.Event) error
	Reset() int
}

// ChangeHydrator loads the current row for slim change notifications before they are fanned out.
type ChangeHydrator struct {
	requests     requestRowFinder
	applications applicationRowFinder
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewChangeHydrator builds a hydrator over the request and application stores.
func NewChangeHydrator(requests requestRowFinder, applications applicationRowFinder, metrics *MetricsService, logger *zap.Logger) *ChangeHydrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeHydrator{requests: requests, applications: applications, metrics: metrics, logger: logger}
}

// Hydrate fills ev.New with the row as it is now. ok is false when the row was deleted
// before it could be read; the delete notification follows and the event can be skipped.
func (h *ChangeHydrator) Hydrate(ctx context.Context, ev changefeed.Event) (changefeed.Event, bool, error) {
	if ev.Hydrated() {
		return ev, true, nil
	}
	if ev.ID == 0 {
		return ev, false, fmt.Errorf("%w: missing id", ErrMalformedChangeEvent)
	}

	var (
		row interface{}
		err error
	)
	switch ev.Table {
	case requestsTable:
		row, err = h.requests.FindByID(ctx, ev.ID)
	case applicationsTable:
		row, err = h.applications.FindByID(ctx, ev.ID)
	default:
		return ev, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		h.logger.Debug("changed row no longer exists", zap.String("table", ev.Table), zap.Int64("id", ev.ID))
		h.metrics.RecordFeedEvent(ev.Table, string(ev.Type), "gone")
		return ev, false, nil
	}
	if err != nil {
		return ev, false, fmt.Errorf("load %s row %d: %w", ev.Table, ev.ID, err)
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return ev, false, fmt.Errorf("encode %s row %d: %w", ev.Table, ev.ID, err)
	}
	ev.New = raw
	return ev, true, nil
}

// Forward hydrates ev and publishes it. When the row cannot be loaded every subscriber
// is reset, since the event is lost to them.
func (h *ChangeHydrator) Forward(ctx context.Context, pub changePublisher, ev changefeed.Event) error {
	hydrated, ok, err := h.Hydrate(ctx, ev)
	if err != nil {
		h.logger.Warn("change event could not be loaded, resetting subscribers",
			zap.String("table", ev.Table), zap.Int64("id", ev.ID), zap.Error(err))
		pub.Reset()
		return err
	}
	if !ok {
		return nil
	}
	return pub.Publish(hydrated)
}
