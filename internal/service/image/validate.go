package image

import (
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
)

// allowedTypes lists the image formats accepted both as extension and as MIME subtype.
var allowedTypes = map[string]struct{}{
	"jpeg": {},
	"jpg":  {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// cleanName strips any client supplied directory from the filename.
func cleanName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}

	return name
}

// validateUpload checks the upload against the extension and the declared
// content type; both must name an allowed image format.
func validateUpload(u Upload, maxSize int64) (string, error) {
	if u.Body == nil {
		return "", ErrNoFile
	}

	name := cleanName(u.Filename)
	if name == "" {
		return "", ErrNoFile
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := allowedTypes[ext]; !ok {
		return "", fmt.Errorf("%w: extension %q", ErrInvalidType, ext)
	}

	mediaType, _, err := mime.ParseMediaType(u.ContentType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q", ErrInvalidType, u.ContentType)
	}

	kind, sub, _ := strings.Cut(mediaType, "/")
	if _, ok := allowedTypes[sub]; kind != "image" || !ok {
		return "", fmt.Errorf("%w: content type %q", ErrInvalidType, u.ContentType)
	}

	if maxSize > 0 && u.Size > maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, u.Size)
	}

	return name, nil
}

// limitedReader fails with ErrFileTooLarge as soon as more than n bytes are read.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n < 0 {
		return 0, ErrFileTooLarge
	}

	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}

	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, ErrFileTooLarge
	}

	return n, err
}
