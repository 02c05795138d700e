package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-gallery/internal/api/handlers/image"
	"github.com/aliskhannn/image-gallery/internal/api/handlers/system"
	"github.com/aliskhannn/image-gallery/internal/api/respond"
	"github.com/aliskhannn/image-gallery/internal/middleware"
)

func Setup(h *image.Handler, sys *system.Handler, corsOrigins []string) *ginext.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := ginext.New()

	r.Use(ginext.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORSMiddleware(corsOrigins))

	api := r.Group("/api")

	api.POST("/upload", h.Upload)                  // uploading one image
	api.POST("/upload/multiple", h.UploadMultiple) // uploading up to the batch limit
	api.GET("/images", h.List)                     // paginated listing
	api.GET("/images/:id", h.Get)                  // metadata by id
	api.GET("/images/:id/envelope", h.Envelope)    // viewer message for the image
	api.DELETE("/images/:id", h.Delete)            // deleting image by id
	api.GET("/health", sys.Health)
	api.POST("/rebuild", sys.Rebuild)

	r.GET("/uploads/:file", h.Serve)

	r.NoRoute(func(c *ginext.Context) {
		respond.Fail(c, http.StatusNotFound, "route not found")
	})

	return r
}
