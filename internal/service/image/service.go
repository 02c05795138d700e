package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/messaging"
	"github.com/aliskhannn/image-gallery/internal/model"
	"github.com/aliskhannn/image-gallery/internal/registry"
)

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMaxBatchFiles = 10

	tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tokenLength   = 9
)

// fileStorage defines the blob store the service writes into (local disk or MinIO).
type fileStorage interface {
	List(ctx context.Context) ([]model.BlobInfo, error)
	Save(ctx context.Context, name string, src io.Reader) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, model.BlobInfo, error)
	Delete(ctx context.Context, name string) error
}

// publisher defines the interface for announcing registry mutations (e.g., Kafka).
type publisher interface {
	Publish(ctx context.Context, evt model.ImageEvent) error
}

// Upload is a single incoming file.
type Upload struct {
	Filename    string
	ContentType string // declared by the client
	Size        int64  // declared size, 0 if unknown
	Body        io.Reader
}

// Page is one window of the image listing.
type Page struct {
	Images     []model.ImageRecord `json:"images"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
	TotalPages int                 `json:"totalPages"`
}

// Config holds the limits and identity of the service.
type Config struct {
	MaxFileSize   int64
	MaxBatchFiles int
	PublicURL     string // base URL prepended to public paths in envelopes
	Instance      string // identifies this process in published events
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenGenerator replaces the random suffix generator used for batch ids.
func WithTokenGenerator(gen func() string) Option {
	return func(s *Service) { s.token = gen }
}

// WithPublisher enables event publishing.
func WithPublisher(p publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// Service implements ingestion, deletion and queries over the image registry.
// Every registry mutation and its paired blob operation run under one mutex.
type Service struct {
	fileStorage fileStorage
	registry    *registry.Registry
	publisher   publisher
	now         func() time.Time
	token       func() string
	cfg         Config

	mu        sync.Mutex
	lastStamp int64
}

// NewService creates a Service over the given store with an empty registry.
// Call Rebuild to populate it from the store.
func NewService(fs fileStorage, cfg Config, opts ...Option) (*Service, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = DefaultMaxBatchFiles
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}

	s := &Service{
		fileStorage: fs,
		registry:    registry.New(fs),
		now:         time.Now,
		cfg:         cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.token == nil {
		gen, err := nanoid.CustomASCII(tokenAlphabet, tokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to create token generator: %w", err)
		}
		s.token = gen
	}

	return s, nil
}

// Instance returns the id this service stamps on published events.
func (s *Service) Instance() string {
	return s.cfg.Instance
}

// IngestSingle validates and stores one upload and registers it.
func (s *Service) IngestSingle(ctx context.Context, u Upload) (model.ImageRecord, error) {
	name, err := validateUpload(u, s.cfg.MaxFileSize)
	if err != nil {
		return model.ImageRecord{}, err
	}

	s.mu.Lock()
	rec, err := s.save(ctx, name, u)
	if err != nil {
		s.mu.Unlock()
		return model.ImageRecord{}, err
	}
	s.registry.Append(rec)
	s.mu.Unlock()

	zlog.Logger.Info().
		Str("id", rec.ID).
		Str("filename", rec.StoredName).
		Int64("size", rec.Size).
		Msg("image uploaded")

	s.publish(ctx, model.EventImageUploaded, rec)

	return rec, nil
}

// IngestBatch validates every upload before storing any of them.
// The batch is all-or-nothing: if one file fails, blobs already written for
// the batch are removed and no record is registered.
func (s *Service) IngestBatch(ctx context.Context, uploads []Upload) ([]model.ImageRecord, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFile
	}
	if len(uploads) > s.cfg.MaxBatchFiles {
		return nil, fmt.Errorf("%w: %d files, limit is %d", ErrTooManyFiles, len(uploads), s.cfg.MaxBatchFiles)
	}

	names := make([]string, len(uploads))
	for i, u := range uploads {
		name, err := validateUpload(u, s.cfg.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Filename, err)
		}
		names[i] = name
	}

	s.mu.Lock()
	records := make([]model.ImageRecord, 0, len(uploads))
	for i, u := range uploads {
		rec, err := s.save(ctx, names[i], u)
		if err != nil {
			s.rollback(ctx, records)
			s.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", u.Filename, err)
		}

		// The random token keeps ids distinct even for files sharing a millisecond.
		rec.ID = rec.ID + "_" + s.token()
		records = append(records, rec)
	}

	for _, rec := range records {
		s.registry.Append(rec)
	}
	s.mu.Unlock()

	zlog.Logger.Info().Int("count", len(records)).Msg("images uploaded")

	for _, rec := range records {
		s.publish(ctx, model.EventImageUploaded, rec)
	}

	return records, nil
}

// Delete removes the blob and then the registry record.
// If the blob cannot be removed the record is kept and ErrStorage is returned.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()

	rec, ok := s.registry.FindByID(id)
	if !ok {
		s.mu.Unlock()
		return ErrImageNotFound
	}

	if err := s.fileStorage.Delete(ctx, rec.StoredName); err != nil {
		s.mu.Unlock()
		zlog.Logger.Err(err).Str("filename", rec.StoredName).Msg("failed to delete image file")
		return fmt.Errorf("%w: delete %s: %w", ErrStorage, rec.StoredName, err)
	}

	s.registry.Remove(id)
	s.mu.Unlock()

	zlog.Logger.Info().Str("id", id).Msg("image deleted")

	s.publish(ctx, model.EventImageDeleted, rec)

	return nil
}

// ListPage returns the given 1-based page, newest first.
func (s *Service) ListPage(_ context.Context, page, limit int) (Page, error) {
	items, total, err := s.registry.Page(page, limit)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidPage) {
			return Page{}, fmt.Errorf("%w: page=%d limit=%d", ErrInvalidPage, page, limit)
		}
		return Page{}, err
	}

	pages := total / limit
	if total%limit != 0 {
		pages++
	}

	return Page{
		Images:     items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: pages,
	}, nil
}

// GetByID returns the record with the given id.
func (s *Service) GetByID(_ context.Context, id string) (model.ImageRecord, error) {
	rec, ok := s.registry.FindByID(id)
	if !ok {
		return model.ImageRecord{}, ErrImageNotFound
	}

	return rec, nil
}

// Envelope builds the SHOW_IMAGE message the gallery posts to its viewers.
func (s *Service) Envelope(ctx context.Context, id string) (messaging.Envelope, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return messaging.Envelope{}, err
	}

	return messaging.NewShowImage(s.cfg.PublicURL, rec), nil
}

// Rebuild reconciles the registry with the store and returns the record count.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.registry.Reconcile(ctx); err != nil {
		return s.registry.Len(), fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return s.registry.Len(), nil
}

// Open returns the stored blob with the given name for serving.
func (s *Service) Open(ctx context.Context, name string) (io.ReadCloser, model.BlobInfo, error) {
	if name == "" || strings.HasPrefix(name, ".") || cleanName(name) != name {
		return nil, model.BlobInfo{}, ErrImageNotFound
	}

	r, info, err := s.fileStorage.Open(ctx, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.BlobInfo{}, ErrImageNotFound
		}
		return nil, model.BlobInfo{}, fmt.Errorf("%w: open %s: %w", ErrStorage, name, err)
	}

	return r, info, nil
}

// ApplyEvent brings the registry in line with a mutation made by another instance
// sharing the same store. Events published by this instance are ignored.
func (s *Service) ApplyEvent(ctx context.Context, evt model.ImageEvent) error {
	if evt.Instance == s.cfg.Instance {
		return nil
	}

	switch evt.Type {
	case model.EventImageUploaded:
		_, err := s.Rebuild(ctx)
		return err
	case model.EventImageDeleted:
		return s.dropIfGone(ctx, evt.Image.StoredName)
	default:
		zlog.Logger.Warn().Str("type", string(evt.Type)).Msg("unknown image event")
		return nil
	}
}

func (s *Service) dropIfGone(ctx context.Context, storedName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.registry.FindByStoredName(storedName)
	if !ok {
		return nil
	}

	r, _, err := s.fileStorage.Open(ctx, storedName)
	if err == nil {
		r.Close()
		return nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, storedName, err)
	}

	s.registry.Remove(rec.ID)

	return nil
}

// save writes the upload under a fresh stored name. Callers hold s.mu.
func (s *Service) save(ctx context.Context, name string, u Upload) (model.ImageRecord, error) {
	stamp := s.nextStamp(name)
	storedName := registry.StoredName(stamp, name)

	n, err := s.fileStorage.Save(ctx, storedName, &limitedReader{r: u.Body, n: s.cfg.MaxFileSize})
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return model.ImageRecord{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
		}
		zlog.Logger.Err(err).Str("filename", storedName).Msg("failed to save image file")
		return model.ImageRecord{}, fmt.Errorf("%w: save %s: %w", ErrStorage, storedName, err)
	}

	return model.ImageRecord{
		ID:           strconv.FormatInt(stamp, 10),
		StoredName:   storedName,
		OriginalName: name,
		Size:         n,
		MimeType:     u.ContentType,
		PublicPath:   registry.PublicPrefix + storedName,
		UploadedAt:   time.UnixMilli(stamp).UTC(),
	}, nil
}

// nextStamp returns the current millisecond, advanced past any millisecond
// already handed out or present in the registry. Callers hold s.mu.
func (s *Service) nextStamp(name string) int64 {
	ms := s.now().UnixMilli()
	if ms <= s.lastStamp {
		ms = s.lastStamp + 1
	}

	for {
		_, idTaken := s.registry.FindByID(strconv.FormatInt(ms, 10))
		_, nameTaken := s.registry.FindByStoredName(registry.StoredName(ms, name))
		if !idTaken && !nameTaken {
			break
		}
		ms++
	}

	s.lastStamp = ms

	return ms
}

func (s *Service) rollback(ctx context.Context, records []model.ImageRecord) {
	for _, rec := range records {
		if err := s.fileStorage.Delete(ctx, rec.StoredName); err != nil {
			zlog.Logger.Err(err).Str("filename", rec.StoredName).Msg("failed to roll back batch file")
		}
	}
}

func (s *Service) publish(ctx context.Context, typ model.EventType, rec model.ImageRecord) {
	if s.publisher == nil {
		return
	}

	evt := model.ImageEvent{
		Type:       typ,
		Image:      rec,
		Instance:   s.cfg.Instance,
		OccurredAt: s.now().UTC(),
	}

	if err := s.publisher.Publish(ctx, evt); err != nil {
		zlog.Logger.Err(err).
			Str("type", string(typ)).
			Str("id", rec.ID).
			Msg("failed to publish image event")
	}
}
