package system

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/api/respond"
)

type rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Handler serves the health check and the registry rebuild endpoint.
type Handler struct {
	rebuilder rebuilder
	now       func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(r rebuilder) *Handler {
	return &Handler{rebuilder: r, now: time.Now}
}

// Health reports that the process is serving requests.
func (h *Handler) Health(c *ginext.Context) {
	respond.JSON(c, http.StatusOK, respond.Health{
		Success:   true,
		Message:   "Backend service is running",
		Timestamp: h.now().UTC(),
	})
}

// Rebuild rescans the blob store and reports the resulting record count.
func (h *Handler) Rebuild(c *ginext.Context) {
	count, err := h.rebuilder.Rebuild(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to rebuild image list")
		respond.JSON(c, http.StatusInternalServerError, respond.Failure{Error: err.Error()})
		return
	}

	respond.JSON(c, http.StatusOK, respond.Rebuild{
		Success: true,
		Message: fmt.Sprintf("image list rebuilt, found %d images", count),
		Count:   count,
	})
}
