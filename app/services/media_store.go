package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrMediaTooLarge       = errors.New("media exceeds the size limit")
	ErrInvalidMediaPath    = errors.New("media path is outside the upload directory")
	ErrPreviewUnsupported  = errors.New("preview is only available for images")
	ErrStoredMediaNotFound = errors.New("stored media not found")
)

// MediaStore persists inbound media and serves it back for operator previews
type MediaStore interface {
	Save(ctx context.Context, kind string, data []byte, mimeType string) (*StoredMedia, error)
	Open(ctx context.Context, ref string) ([]byte, string, error)
	Thumbnail(ctx context.Context, ref string) ([]byte, error)
}

// StoredMedia describes a file written by the store
type StoredMedia struct {
	Ref      string
	MimeType string
	Size     int64
}

// DiskMediaStore writes media under <root>/<kind>/<date>/<uuid><ext>
type DiskMediaStore struct {
	root          string
	maxBytes      int64
	thumbnailSize int
}

// NewDiskMediaStore creates a media store rooted at cfg.UploadDir
func NewDiskMediaStore(cfg *config.StorageConfig) *DiskMediaStore {
	size := cfg.ThumbnailSize
	if size <= 0 {
		size = 512
	}
	return &DiskMediaStore{
		root:          filepath.Clean(cfg.UploadDir),
		maxBytes:      cfg.MaxMediaBytes,
		thumbnailSize: size,
	}
}

// Save writes data to disk. The content type is sniffed when the caller's is missing or generic.
func (s *DiskMediaStore) Save(ctx context.Context, kind string, data []byte, mimeType string) (*StoredMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, ErrMediaTooLarge
	}

	mimeType = strings.TrimSpace(strings.Split(mimeType, ";")[0])
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = strings.Split(http.DetectContentType(data), ";")[0]
	}

	kind = sanitizeKind(kind)
	dateDir := utils.UTCNow().Format("2006-01-02")
	dir := filepath.Join(s.root, kind, dateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	filename := uuid.New().String() + extensionFor(mimeType)
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write media: %w", err)
	}

	return &StoredMedia{
		Ref:      filepath.ToSlash(filepath.Join(kind, dateDir, filename)),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

// Open reads a stored file back
func (s *DiskMediaStore) Open(ctx context.Context, ref string) ([]byte, string, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrStoredMediaNotFound
		}
		return nil, "", err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// Thumbnail renders a JPEG preview bounded by the configured size
func (s *DiskMediaStore) Thumbnail(ctx context.Context, ref string) ([]byte, error) {
	data, mimeType, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, ErrPreviewUnsupported
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, resizeImage(img, s.thumbnailSize), &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *DiskMediaStore) resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidMediaPath
	}
	cleaned := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidMediaPath
	}
	return filepath.Join(s.root, cleaned), nil
}

func sanitizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	var b strings.Builder
	for _, r := range kind {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "media"
	}
	return b.String()
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func resizeImage(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		nh = maxDim
		nw = int(float64(w) * float64(maxDim) / float64(h))
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	imagedraw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, imagedraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}
