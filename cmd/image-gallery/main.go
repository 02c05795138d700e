package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/api/handlers/image"
	"github.com/aliskhannn/image-gallery/internal/api/handlers/system"
	"github.com/aliskhannn/image-gallery/internal/api/router"
	"github.com/aliskhannn/image-gallery/internal/api/server"
	"github.com/aliskhannn/image-gallery/internal/config"
	"github.com/aliskhannn/image-gallery/internal/infra/kafka/consumer"
	"github.com/aliskhannn/image-gallery/internal/infra/kafka/producer"
	imagemsg "github.com/aliskhannn/image-gallery/internal/kafka/handlers/image"
	"github.com/aliskhannn/image-gallery/internal/messaging"
	"github.com/aliskhannn/image-gallery/internal/model"
	imagesvc "github.com/aliskhannn/image-gallery/internal/service/image"
	"github.com/aliskhannn/image-gallery/internal/storage/file"
	"github.com/aliskhannn/image-gallery/internal/storage/object"
)

// blobStore is implemented by both storage drivers.
type blobStore interface {
	List(ctx context.Context) ([]model.BlobInfo, error)
	Save(ctx context.Context, name string, src io.Reader) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, model.BlobInfo, error)
	Delete(ctx context.Context, name string) error
}

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	mustCheckMessaging(cfg)

	// Retry strategy for Kafka calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	storage := mustOpenStorage(ctx, cfg.Storage)

	opts := []imagesvc.Option{}

	var p *producer.Producer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, strategy)
		opts = append(opts, imagesvc.WithPublisher(p))
	}

	service, err := imagesvc.NewService(storage, imagesvc.Config{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxBatchFiles: cfg.Upload.MaxBatchFiles,
		PublicURL:     cfg.Server.PublicURL,
	}, opts...)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create image service")
	}

	// The image list is rebuilt before the server accepts requests.
	count, err := service.Rebuild(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("initial image list rebuild failed, starting empty")
	} else {
		zlog.Logger.Info().Int("count", count).Msg("image list ready")
	}

	// Kafka consumer keeps the registry in sync with other instances.
	var (
		wg sync.WaitGroup
		c  *consumer.Consumer
	)
	if cfg.Kafka.Enabled {
		c = consumer.New(&cfg.Kafka, strategy, imagemsg.NewEventHandler(service))
		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	imgHandler := image.NewHandler(service, image.Limits{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxBatchFiles: cfg.Upload.MaxBatchFiles,
	})
	r := router.Setup(imgHandler, system.NewHandler(service), cfg.CORS.AllowedOrigins)

	s := server.New(cfg.Server.HTTPPort, r, server.Timeouts{
		Read:       cfg.Server.ReadTimeout,
		Write:      cfg.Server.WriteTimeout,
		Idle:       cfg.Server.IdleTimeout,
		ReadHeader: cfg.Server.ReadHeaderTimeout,
	})
	go func() {
		zlog.Logger.Info().
			Str("addr", cfg.Server.HTTPPort).
			Str("instance", service.Instance()).
			Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	if p != nil {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err := c.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}

func mustOpenStorage(ctx context.Context, cfg config.Storage) blobStore {
	switch cfg.Driver {
	case config.DriverMinio:
		m := cfg.Minio
		s, err := object.NewStorage(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.BucketName, m.Prefix, m.UseSSL)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
		}
		return s
	default:
		s, err := file.NewStorage(cfg.BaseDir)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to open upload directory")
		}
		return s
	}
}

// mustCheckMessaging validates the gallery and viewer origins shipped to the front ends.
// The Gallery and Viewers built here are discarded once construction succeeds:
// the real gallery and viewers run in browser pages, and this process only
// serves the envelopes they exchange.
func mustCheckMessaging(cfg *config.Config) {
	m := cfg.Messaging

	targets := make([]messaging.Target, 0, len(m.Viewers))
	for _, v := range m.Viewers {
		targets = append(targets, messaging.Target{Name: v.Name, Origin: v.Origin})
	}

	if _, err := messaging.NewGallery(cfg.Server.PublicURL, targets...); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid viewer origins")
	}

	allowed, err := messaging.NewAllowlist(m.GalleryOrigin)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid gallery origin")
	}

	for _, v := range m.Viewers {
		viewer, err := messaging.NewViewer(messaging.ViewerConfig{
			Name:         v.Name,
			Allowed:      allowed,
			DisplayDelay: v.DisplayDelay,
		}, nil)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Str("viewer", v.Name).Msg("invalid viewer config")
		}

		zlog.Logger.Info().
			Str("viewer", viewer.Name()).
			Str("origin", v.Origin).
			Strs("accepts", allowed.Origins()).
			Dur("display_delay", v.DisplayDelay).
			Msg("viewer configured")
	}
}
