package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/pkg/response"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
)

// BoardFeed is the per-connection feed driven by the stream.
type BoardFeed interface {
	Initialize(ctx context.Context, viewer models.Viewer) error
	Snapshot() []models.Request
	OnApplication(fn func(models.Application))
	Subscribe(ctx context.Context, onListChanged func([]models.Request)) error
	Unsubscribe()
	Done() <-chan struct{}
}

// StreamMessage is one frame pushed to a board client.
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RequestStreamHandler pushes the live request board over a websocket.
type RequestStreamHandler struct {
	newFeed  func() BoardFeed
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRequestStreamHandler builds the handler. checkOrigin guards the handshake.
func NewRequestStreamHandler(newFeed func() BoardFeed, checkOrigin func(*http.Request) bool, logger *zap.Logger) *RequestStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestStreamHandler{
		newFeed: newFeed,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
	}
}

// streamConn serialises writes; gorilla connections allow one concurrent writer.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *streamConn) send(msg StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *streamConn) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
}

// Stream godoc
// @Summary Live request board over websocket
// @Description Sends {"type":"requests"} with the full list on connect and after every change, and {"type":"application"} for applications to the caller's own requests.
// @Tags Requests
// @Param access_token query string false "Bearer token for browser clients"
// @Success 101
// @Router /requests/stream [get]
func (h *RequestStreamHandler) Stream(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	session := uuid.NewString()
	logger := h.logger.With(zap.String("stream_session", session), zap.String("viewer_id", viewer.ID))
	conn := &streamConn{conn: ws}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	feed := h.newFeed()
	defer feed.Unsubscribe()

	fail := func(err error) {
		if err != nil {
			logger.Debug("stream write failed", zap.Error(err))
			cancel()
		}
	}
	if viewer.Role == models.RoleStudent || viewer.Role == models.RoleParent {
		feed.OnApplication(func(app models.Application) {
			fail(conn.send(StreamMessage{Type: "application", Data: app}))
		})
	}

	if err := feed.Subscribe(ctx, func(list []models.Request) {
		fail(conn.send(StreamMessage{Type: "requests", Data: list}))
	}); err != nil {
		logger.Warn("stream subscribe failed", zap.Error(err))
		return
	}

	// Change frames wait on the write lock until the initial snapshot is sent.
	conn.mu.Lock()
	if err := feed.Initialize(ctx, viewer); err != nil {
		conn.mu.Unlock()
		logger.Warn("stream initialize failed", zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "board unavailable"), time.Now().Add(streamWriteWait))
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	err = ws.WriteJSON(StreamMessage{Type: "requests", Data: feed.Snapshot()})
	conn.mu.Unlock()
	if err != nil {
		return
	}
	logger.Info("request stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Info("request stream closed by client")
			return
		case <-feed.Done():
			logger.Warn("request stream feed stopped")
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "feed stopped"), time.Now().Add(streamWriteWait))
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
