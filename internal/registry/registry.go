// Package registry keeps the in-memory index of stored images and rebuilds it
// from the blob store.
//
// The registry is a cache: every record is derivable from a blob name of the
// form <unixMillis>_<originalName>, so it can always be reconstructed with
// Reconcile.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// ErrInvalidPage is returned by Page for a non-positive page number or size.
var ErrInvalidPage = errors.New("invalid page parameters")

// PublicPrefix is the URL prefix stored blobs are served under.
const PublicPrefix = "/uploads/"

// storedNamePattern splits on the first underscore only; the original name may contain more.
var storedNamePattern = regexp.MustCompile(`^(\d+)_(.+)$`)

// lister enumerates the blob store.
type lister interface {
	List(ctx context.Context) ([]model.BlobInfo, error)
}

// Registry is an ordered, id-keyed collection of image records.
type Registry struct {
	store lister

	mu      sync.RWMutex
	records []model.ImageRecord
}

// New creates an empty Registry backed by the given store.
func New(store lister) *Registry {
	return &Registry{store: store}
}

// Reconcile scans the store and inserts a record for every conforming blob
// that the registry does not know yet. It returns the number of records added.
//
// Hidden entries, non-regular entries and names not matching <digits>_<rest>
// are skipped. If the listing fails the registry is left untouched.
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	blobs, err := r.store.List(ctx)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to rebuild image list")
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, blob := range blobs {
		if strings.HasPrefix(blob.Name, ".") || !blob.Regular {
			continue
		}

		rec, ok := RecordFromBlob(blob)
		if !ok {
			continue
		}

		if r.indexByID(rec.ID) >= 0 || r.indexByStoredName(rec.StoredName) >= 0 {
			continue
		}

		r.records = append(r.records, rec)
		added++
	}

	sortNewestFirst(r.records)

	zlog.Logger.Info().
		Int("added", added).
		Int("total", len(r.records)).
		Msg("image list rebuilt")

	return added, nil
}

// Append adds a freshly ingested record.
// The caller guarantees the id is not already present.
func (r *Registry) Append(rec model.ImageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
}

// Remove deletes the record with the given id and reports whether it existed.
// The blob itself is not touched.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return false
	}

	r.records = append(r.records[:i], r.records[i+1:]...)

	return true
}

// FindByID returns the record with exactly the given id.
func (r *Registry) FindByID(id string) (model.ImageRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexByID(id)
	if i < 0 {
		return model.ImageRecord{}, false
	}

	return r.records[i], true
}

// FindByStoredName returns the record whose blob has the given name.
func (r *Registry) FindByStoredName(name string) (model.ImageRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexByStoredName(name)
	if i < 0 {
		return model.ImageRecord{}, false
	}

	return r.records[i], true
}

// Page returns the 1-based page of records, newest first, and the total count.
// A page past the end yields an empty slice.
func (r *Registry) Page(page, size int) ([]model.ImageRecord, int, error) {
	if page < 1 || size < 1 {
		return nil, 0, fmt.Errorf("%w: page=%d size=%d", ErrInvalidPage, page, size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sortNewestFirst(r.records)

	total := len(r.records)
	// Checked before multiplying so huge page numbers cannot wrap around.
	if total == 0 || page-1 > (total-1)/size {
		return []model.ImageRecord{}, total, nil
	}

	start := (page - 1) * size
	end := start + min(size, total-start)

	items := make([]model.ImageRecord, end-start)
	copy(items, r.records[start:end])

	return items, total, nil
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

func (r *Registry) indexByID(id string) int {
	for i := range r.records {
		if r.records[i].ID == id {
			return i
		}
	}

	return -1
}

func (r *Registry) indexByStoredName(name string) int {
	for i := range r.records {
		if r.records[i].StoredName == name {
			return i
		}
	}

	return -1
}

// ParseStoredName splits a blob name into its millisecond timestamp digits and
// the original filename.
func ParseStoredName(name string) (stamp, original string, ok bool) {
	m := storedNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}

	return m[1], m[2], true
}

// StoredName builds the blob name for an upload made at the given millisecond.
func StoredName(millis int64, original string) string {
	return strconv.FormatInt(millis, 10) + "_" + original
}

// RecordFromBlob derives a record from a blob's name and size.
// The MIME type is inferred from the extension exactly as written.
func RecordFromBlob(blob model.BlobInfo) (model.ImageRecord, bool) {
	stamp, original, ok := ParseStoredName(blob.Name)
	if !ok {
		return model.ImageRecord{}, false
	}

	millis, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return model.ImageRecord{}, false
	}

	return model.ImageRecord{
		ID:           stamp,
		StoredName:   blob.Name,
		OriginalName: original,
		Size:         blob.Size,
		MimeType:     "image/" + strings.TrimPrefix(path.Ext(blob.Name), "."),
		PublicPath:   PublicPrefix + blob.Name,
		UploadedAt:   time.UnixMilli(millis).UTC(),
	}, true
}

func sortNewestFirst(records []model.ImageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UploadedAt.After(records[j].UploadedAt)
	})
}
