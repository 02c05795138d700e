package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/api/respond"
	"github.com/aliskhannn/image-gallery/internal/messaging"
	"github.com/aliskhannn/image-gallery/internal/model"
	"github.com/aliskhannn/image-gallery/internal/service/image"
)

const (
	defaultPage  = 1
	defaultLimit = 10

	// multipartOverhead is the headroom allowed on top of the file bytes for
	// boundaries and part headers.
	multipartOverhead = 1 << 20
	maxMemory         = 32 << 20
)

// service defines the interface for image-related operations.
type service interface {
	IngestSingle(ctx context.Context, u image.Upload) (model.ImageRecord, error)
	IngestBatch(ctx context.Context, uploads []image.Upload) ([]model.ImageRecord, error)
	Delete(ctx context.Context, id string) error
	ListPage(ctx context.Context, page, limit int) (image.Page, error)
	GetByID(ctx context.Context, id string) (model.ImageRecord, error)
	Envelope(ctx context.Context, id string) (messaging.Envelope, error)
	Open(ctx context.Context, name string) (io.ReadCloser, model.BlobInfo, error)
}

// Limits bound the size of an upload request.
type Limits struct {
	MaxFileSize   int64
	MaxBatchFiles int
}

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
	limits  Limits
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service, limits Limits) *Handler {
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = image.DefaultMaxFileSize
	}
	if limits.MaxBatchFiles <= 0 {
		limits.MaxBatchFiles = image.DefaultMaxBatchFiles
	}

	return &Handler{service: s, limits: limits}
}

// Upload handles a single image sent in the multipart field "image".
func (h *Handler) Upload(c *ginext.Context) {
	form, ok := h.parseForm(c, h.limits.MaxFileSize+multipartOverhead)
	if !ok {
		return
	}

	headers := form.File["image"]
	if len(headers) == 0 {
		respond.Fail(c, http.StatusBadRequest, image.ErrNoFile.Error())
		return
	}

	upload, closeFn, err := openUpload(headers[0])
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to open uploaded file")
		respond.Fail(c, http.StatusBadRequest, "failed to read the uploaded file")
		return
	}
	defer closeFn()

	rec, err := h.service.IngestSingle(c.Request.Context(), upload)
	if err != nil {
		fail(c, err)
		return
	}

	respond.Message(c, "image uploaded successfully", rec)
}

// UploadMultiple handles up to MaxBatchFiles images sent in the multipart field "images".
func (h *Handler) UploadMultiple(c *ginext.Context) {
	limit := int64(h.limits.MaxBatchFiles)*h.limits.MaxFileSize + multipartOverhead

	form, ok := h.parseForm(c, limit)
	if !ok {
		return
	}

	headers := form.File["images"]
	if len(headers) == 0 {
		respond.Fail(c, http.StatusBadRequest, image.ErrNoFile.Error())
		return
	}

	uploads := make([]image.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, closeFn, err := openUpload(fh)
		if err != nil {
			zlog.Logger.Err(err).Str("filename", fh.Filename).Msg("failed to open uploaded file")
			respond.Fail(c, http.StatusBadRequest, "failed to read the uploaded files")
			return
		}
		defer closeFn()

		uploads = append(uploads, upload)
	}

	recs, err := h.service.IngestBatch(c.Request.Context(), uploads)
	if err != nil {
		fail(c, err)
		return
	}

	respond.Message(c, fmt.Sprintf("uploaded %d images", len(recs)), recs)
}

// List returns one page of images, newest first.
func (h *Handler) List(c *ginext.Context) {
	page, err := intQuery(c, "page", defaultPage)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, "invalid page parameter")
		return
	}

	limit, err := intQuery(c, "limit", defaultLimit)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	result, err := h.service.ListPage(c.Request.Context(), page, limit)
	if err != nil {
		fail(c, err)
		return
	}

	respond.OK(c, result)
}

// Get returns the metadata of one image.
func (h *Handler) Get(c *ginext.Context) {
	rec, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	respond.OK(c, rec)
}

// Envelope returns the SHOW_IMAGE message a gallery posts to its viewers for this image.
func (h *Handler) Envelope(c *ginext.Context) {
	env, err := h.service.Envelope(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	respond.OK(c, env)
}

// Delete removes an image by ID.
func (h *Handler) Delete(c *ginext.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	respond.Message(c, "image deleted successfully", nil)
}

// Serve streams a stored blob under /uploads/.
func (h *Handler) Serve(c *ginext.Context) {
	name := c.Param("file")

	r, info, err := h.service.Open(c.Request.Context(), name)
	if err != nil {
		fail(c, err)
		return
	}
	defer r.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	respond.Blob(c, contentType, info.Size, r)
}

func (h *Handler) parseForm(c *ginext.Context, limit int64) (*multipart.Form, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	if err := c.Request.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusBadRequest, image.ErrFileTooLarge.Error())
			return nil, false
		}

		zlog.Logger.Warn().Err(err).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, image.ErrNoFile.Error())
		return nil, false
	}

	return c.Request.MultipartForm, true
}

func openUpload(fh *multipart.FileHeader) (image.Upload, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return image.Upload{}, nil, err
	}

	return image.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, func() { f.Close() }, nil
}

func intQuery(c *ginext.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}

	return strconv.Atoi(raw)
}

// fail maps service errors onto HTTP statuses.
func fail(c *ginext.Context, err error) {
	switch {
	case errors.Is(err, image.ErrValidation):
		zlog.Logger.Warn().Err(err).Msg("rejected request")
		respond.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, image.ErrImageNotFound):
		respond.Fail(c, http.StatusNotFound, image.ErrImageNotFound.Error())
	default:
		zlog.Logger.Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		respond.Fail(c, http.StatusInternalServerError, err.Error())
	}
}
