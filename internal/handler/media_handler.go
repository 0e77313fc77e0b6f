package handler

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
	"github.com/noah-isme/tutor-match-api/pkg/response"
)

type mediaVerifier interface {
	Verify(ref, expires, signature string) (string, error)
}

type mediaStore interface {
	Open(name string) (*os.File, error)
}

// MediaHandler serves profile images behind signed links.
type MediaHandler struct {
	verifier mediaVerifier
	store    mediaStore
	logger   *zap.Logger
}

// NewMediaHandler builds the handler.
func NewMediaHandler(verifier mediaVerifier, store mediaStore, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{verifier: verifier, store: store, logger: logger}
}

// Serve godoc
// @Summary Serve a signed media file
// @Tags Media
// @Param path path string true "Media path"
// @Param expires query int true "Expiry (unix seconds)"
// @Param sig query string true "Signature"
// @Success 200 {file} binary
// @Router /media/{path} [get]
func (h *MediaHandler) Serve(c *gin.Context) {
	path, err := h.verifier.Verify(c.Param("path"), c.Query("expires"), c.Query("sig"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid media link"))
		return
	}

	file, err := h.store.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "media not found"))
			return
		}
		h.logger.Warn("open media failed", zap.String("path", path), zap.Error(err))
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "media not found"))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "media not found"))
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}
