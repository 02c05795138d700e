package image

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/messaging"
	"github.com/aliskhannn/image-gallery/internal/model"
	"github.com/aliskhannn/image-gallery/internal/storage/file"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

var fixedNow = time.UnixMilli(1700000000000)

// flakyStorage wraps a real store and fails selected operations.
type flakyStorage struct {
	*file.Storage
	failSaveOn int // 1-based Save call that fails, 0 disables
	saves      int
	deleteErr  error
}

func (f *flakyStorage) Save(ctx context.Context, name string, src io.Reader) (int64, error) {
	f.saves++
	if f.saves == f.failSaveOn {
		return 0, errors.New("disk full")
	}
	return f.Storage.Save(ctx, name, src)
}

func (f *flakyStorage) Delete(ctx context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Storage.Delete(ctx, name)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ImageEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt model.ImageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, evt)
	return p.err
}

func newTestService(t *testing.T, opts ...Option) (*Service, *flakyStorage) {
	t.Helper()

	fs, err := file.NewStorage(t.TempDir())
	require.NoError(t, err)

	store := &flakyStorage{Storage: fs}

	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithTokenGenerator(func() string { return "abc123xyz" }),
	}, opts...)

	svc, err := NewService(store, Config{
		MaxFileSize:   4096,
		MaxBatchFiles: 3,
		PublicURL:     "http://localhost:3001",
		Instance:      "test-instance",
	}, opts...)
	require.NoError(t, err)

	return svc, store
}

func pngUpload(name string, size int) Upload {
	return Upload{
		Filename:    name,
		ContentType: "image/png",
		Size:        int64(size),
		Body:        bytes.NewReader(make([]byte, size)),
	}
}

func blobNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIngestSingle(t *testing.T) {
	svc, store := newTestService(t)

	rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 2000))
	require.NoError(t, err)

	assert.Equal(t, "1700000000000", rec.ID)
	assert.Equal(t, "1700000000000_cat.png", rec.StoredName)
	assert.Equal(t, "cat.png", rec.OriginalName)
	assert.Equal(t, int64(2000), rec.Size)
	assert.Equal(t, "image/png", rec.MimeType)
	assert.Equal(t, "/uploads/1700000000000_cat.png", rec.PublicPath)
	assert.True(t, rec.UploadedAt.Equal(fixedNow))

	info, err := os.Stat(filepath.Join(store.BasePath(), rec.StoredName))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), info.Size())

	got, err := svc.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestIngestSingle_StripsClientDirectories(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.IngestSingle(context.Background(), pngUpload(`C:\photos\..\cat.png`, 10))
	require.NoError(t, err)
	assert.Equal(t, "cat.png", rec.OriginalName)

	rec, err = svc.IngestSingle(context.Background(), pngUpload("../../etc/dog.png", 10))
	require.NoError(t, err)
	assert.Equal(t, "dog.png", rec.OriginalName)
}

func TestIngestSingle_RejectsNonImages(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
	}{
		{"text renamed to png", Upload{Filename: "notes.png", ContentType: "text/plain", Body: strings.NewReader("hi")}},
		{"text file", Upload{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("hi")}},
		{"image type with bad extension", Upload{Filename: "cat.bmp", ContentType: "image/png", Body: strings.NewReader("hi")}},
		{"svg", Upload{Filename: "cat.svg", ContentType: "image/svg+xml", Body: strings.NewReader("hi")}},
		{"missing content type", Upload{Filename: "cat.png", Body: strings.NewReader("hi")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)

			_, err := svc.IngestSingle(context.Background(), tt.upload)
			assert.ErrorIs(t, err, ErrInvalidType)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, blobNames(t, store.BasePath()))
		})
	}
}

func TestIngestSingle_NoFile(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.IngestSingle(context.Background(), Upload{Filename: "cat.png", ContentType: "image/png"})
	assert.ErrorIs(t, err, ErrNoFile)

	_, err = svc.IngestSingle(context.Background(), Upload{ContentType: "image/png", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestIngestSingle_TooLarge(t *testing.T) {
	svc, store := newTestService(t)

	// Declared size over the limit.
	_, err := svc.IngestSingle(context.Background(), pngUpload("big.png", 5000))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	// Body over the limit with no declared size.
	u := pngUpload("big.png", 5000)
	u.Size = 0
	_, err = svc.IngestSingle(context.Background(), u)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.Empty(t, blobNames(t, store.BasePath()))
	assert.Equal(t, 0, svc.registry.Len())

	// Exactly at the limit is fine.
	_, err = svc.IngestSingle(context.Background(), pngUpload("edge.png", 4096))
	assert.NoError(t, err)
}

func TestIngestSingle_UniqueIDsWithinOneMillisecond(t *testing.T) {
	svc, _ := newTestService(t)

	a, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)
	b, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.StoredName, b.StoredName)
	assert.Equal(t, "1700000000001", b.ID)
}

func TestIngestSingle_Concurrent(t *testing.T) {
	svc, store := newTestService(t)

	const n = 20

	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
			assert.NoError(t, err)
			ids[i] = rec.ID
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Len(t, blobNames(t, store.BasePath()), n)
}

func TestIngestBatch(t *testing.T) {
	svc, store := newTestService(t)

	recs, err := svc.IngestBatch(context.Background(), []Upload{
		pngUpload("a.png", 10),
		{Filename: "b.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg")},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "1700000000000_abc123xyz", recs[0].ID)
	assert.Equal(t, "1700000000000_a.png", recs[0].StoredName)
	assert.Equal(t, "1700000000001_abc123xyz", recs[1].ID)
	assert.Equal(t, "image/jpeg", recs[1].MimeType)

	assert.Len(t, blobNames(t, store.BasePath()), 2)
	assert.Equal(t, 2, svc.registry.Len())
}

func TestIngestBatch_DefaultTokenShape(t *testing.T) {
	fs, err := file.NewStorage(t.TempDir())
	require.NoError(t, err)

	svc, err := NewService(fs, Config{})
	require.NoError(t, err)

	recs, err := svc.IngestBatch(context.Background(), []Upload{pngUpload("a.png", 10)})
	require.NoError(t, err)

	stamp, token, ok := strings.Cut(recs[0].ID, "_")
	require.True(t, ok)
	assert.NotEmpty(t, stamp)
	assert.Regexp(t, `^[0-9a-z]{9}$`, token)
}

func TestIngestBatch_TooManyFiles(t *testing.T) {
	svc, store := newTestService(t)

	uploads := make([]Upload, 4)
	for i := range uploads {
		uploads[i] = pngUpload("a.png", 10)
	}

	_, err := svc.IngestBatch(context.Background(), uploads)
	assert.ErrorIs(t, err, ErrTooManyFiles)
	assert.Empty(t, blobNames(t, store.BasePath()))

	_, err = svc.IngestBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestIngestBatch_InvalidFileRejectsWholeBatch(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.IngestBatch(context.Background(), []Upload{
		pngUpload("a.png", 10),
		{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("hi")},
	})
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.Empty(t, blobNames(t, store.BasePath()))
	assert.Equal(t, 0, svc.registry.Len())
}

func TestIngestBatch_StorageFailureRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	store.failSaveOn = 2

	_, err := svc.IngestBatch(context.Background(), []Upload{
		pngUpload("a.png", 10),
		pngUpload("b.png", 10),
		pngUpload("c.png", 10),
	})
	assert.ErrorIs(t, err, ErrStorage)
	assert.Empty(t, blobNames(t, store.BasePath()))
	assert.Equal(t, 0, svc.registry.Len())
}

func TestDelete(t *testing.T) {
	svc, store := newTestService(t)

	rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), rec.ID))

	_, err = svc.GetByID(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrImageNotFound)
	assert.Empty(t, blobNames(t, store.BasePath()))

	// A rescan must not bring the record back.
	n, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, svc.Delete(context.Background(), rec.ID), ErrImageNotFound)
}

func TestDelete_StorageFailureKeepsRecord(t *testing.T) {
	svc, store := newTestService(t)

	rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)

	store.deleteErr = errors.New("permission denied")

	err = svc.Delete(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrStorage)

	_, err = svc.GetByID(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestRebuild_RecoversStoredFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1700000000000_cat.png"), make([]byte, 42), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1700000005000_dog.JPG"), make([]byte, 7), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	fs, err := file.NewStorage(dir)
	require.NoError(t, err)

	svc, err := NewService(fs, Config{})
	require.NoError(t, err)

	n, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := svc.ListPage(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Images, 2)

	assert.Equal(t, "1700000005000", page.Images[0].ID)
	assert.Equal(t, "image/JPG", page.Images[0].MimeType)

	cat := page.Images[1]
	assert.Equal(t, "cat.png", cat.OriginalName)
	assert.Equal(t, int64(42), cat.Size)
	assert.Equal(t, "image/png", cat.MimeType)
	assert.True(t, cat.UploadedAt.Equal(time.UnixMilli(1700000000000)))
}

func TestRebuild_AfterIngestKeepsFreshRecords(t *testing.T) {
	svc, _ := newTestService(t)

	single, err := svc.IngestSingle(context.Background(), pngUpload("cat.jpeg", 10))
	require.NoError(t, err)
	_, err = svc.IngestBatch(context.Background(), []Upload{pngUpload("a.png", 10)})
	require.NoError(t, err)

	n, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := svc.GetByID(context.Background(), single.ID)
	require.NoError(t, err)
	// The fresh record keeps the declared type rather than one derived from the extension.
	assert.Equal(t, "image/png", got.MimeType)
}

func TestListPage(t *testing.T) {
	svc, _ := newTestService(t)

	for range 5 {
		_, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
		require.NoError(t, err)
	}

	page, err := svc.ListPage(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Images, 2)
	assert.Equal(t, "1700000000002", page.Images[0].ID)

	page, err = svc.ListPage(context.Background(), 9, 2)
	require.NoError(t, err)
	assert.NotNil(t, page.Images)
	assert.Empty(t, page.Images)

	_, err = svc.ListPage(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrInvalidPage)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListPage_HugeLimit(t *testing.T) {
	svc, _ := newTestService(t)

	for range 2 {
		_, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
		require.NoError(t, err)
	}

	page, err := svc.ListPage(context.Background(), 1, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Len(t, page.Images, 2)

	page, err = svc.ListPage(context.Background(), math.MaxInt, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalPages)
	assert.Empty(t, page.Images)

	page, err = svc.ListPage(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalPages)
}

func TestListPage_EmptyRegistry(t *testing.T) {
	svc, _ := newTestService(t)

	page, err := svc.ListPage(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalPages)
	assert.NotNil(t, page.Images)
}

func TestEnvelope(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)

	env, err := svc.Envelope(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.ShowImage, env.Type)
	require.NotNil(t, env.Data)
	assert.Equal(t, "http://localhost:3001/uploads/1700000000000_cat.png", env.Data.FullURL)

	_, err = svc.Envelope(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestOpen(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)

	r, info, err := svc.Open(context.Background(), rec.StoredName)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(10), info.Size)

	for _, name := range []string{"", "missing.png", "../cat.png", ".upload-1.tmp"} {
		_, _, err := svc.Open(context.Background(), name)
		assert.ErrorIs(t, err, ErrImageNotFound, name)
	}
}

func TestPublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, WithPublisher(pub))

	rec, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), rec.ID))

	require.Len(t, pub.events, 2)
	assert.Equal(t, model.EventImageUploaded, pub.events[0].Type)
	assert.Equal(t, model.EventImageDeleted, pub.events[1].Type)
	assert.Equal(t, "test-instance", pub.events[1].Instance)
	assert.Equal(t, rec.ID, pub.events[1].Image.ID)
}

func TestPublishFailureDoesNotFailUpload(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _ := newTestService(t, WithPublisher(pub))

	_, err := svc.IngestSingle(context.Background(), pngUpload("cat.png", 10))
	assert.NoError(t, err)
}

func TestApplyEvent(t *testing.T) {
	svc, store := newTestService(t)

	// Another instance wrote a blob into the shared store.
	require.NoError(t, os.WriteFile(filepath.Join(store.BasePath(), "1690000000000_remote.png"), []byte("x"), 0o644))

	err := svc.ApplyEvent(context.Background(), model.ImageEvent{Type: model.EventImageUploaded, Instance: "other"})
	require.NoError(t, err)

	rec, err := svc.GetByID(context.Background(), "1690000000000")
	require.NoError(t, err)

	// A delete is applied only once the blob is really gone.
	deleted := model.ImageEvent{Type: model.EventImageDeleted, Instance: "other", Image: rec}
	require.NoError(t, svc.ApplyEvent(context.Background(), deleted))
	_, err = svc.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(store.BasePath(), rec.StoredName)))
	require.NoError(t, svc.ApplyEvent(context.Background(), deleted))
	_, err = svc.GetByID(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestApplyEvent_IgnoresOwnEvents(t *testing.T) {
	svc, store := newTestService(t)

	require.NoError(t, os.WriteFile(filepath.Join(store.BasePath(), "1690000000000_remote.png"), []byte("x"), 0o644))

	err := svc.ApplyEvent(context.Background(), model.ImageEvent{Type: model.EventImageUploaded, Instance: svc.Instance()})
	require.NoError(t, err)
	assert.Equal(t, 0, svc.registry.Len())
}
