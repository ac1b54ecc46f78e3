package uploads

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const MaxPhotoBytes = 5 << 20 // 5MB

var (
	ErrNotAnImage = errors.New("upload must be an image")
	ErrTooLarge   = errors.New("upload exceeds size limit")
)

// Uploader stores a profile photo and returns the URL to persist on the
// profile. Production would point this at S3/Cloudinary; the local
// implementation below is enough for dev and tests.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, size int64, r io.Reader) (string, error)
}

type LocalUploader struct {
	dir     string
	baseURL string
}

func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (u *LocalUploader) Upload(ctx context.Context, filename, contentType string, size int64, r io.Reader) (string, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", ErrNotAnImage
	}

	if size > MaxPhotoBytes {
		return "", ErrTooLarge
	}

	// never trust the client's filename beyond its extension
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		return "", ErrNotAnImage
	}

	name := uuid.NewString() + ext
	path := filepath.Join(u.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// +1 so an over-limit stream is detected rather than silently truncated
	written, err := io.Copy(f, io.LimitReader(r, MaxPhotoBytes+1))
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	if written > MaxPhotoBytes {
		_ = os.Remove(path)
		return "", ErrTooLarge
	}

	return u.baseURL + "/" + name, nil
}
