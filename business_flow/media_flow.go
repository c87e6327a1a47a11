package businessflow

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
)

// Media errors
var (
	ErrUploadNotFound     = errors.New("upload not found")
	ErrPreviewUnavailable = errors.New("preview is only available for image uploads")
)

// MediaFile is a stored file ready to be streamed to an operator
type MediaFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// MediaFlow serves uploaded documents back to operators
type MediaFlow interface {
	DownloadUpload(ctx context.Context, uploadID uint) (*MediaFile, error)
	PreviewUpload(ctx context.Context, uploadID uint) (*MediaFile, error)
}

// MediaFlowImpl implements MediaFlow
type MediaFlowImpl struct {
	uploadRepo repository.UploadRepository
	mediaStore services.MediaStore
}

// NewMediaFlow creates a new media flow
func NewMediaFlow(uploadRepo repository.UploadRepository, mediaStore services.MediaStore) MediaFlow {
	return &MediaFlowImpl{
		uploadRepo: uploadRepo,
		mediaStore: mediaStore,
	}
}

// DownloadUpload returns the original bytes of an upload
func (f *MediaFlowImpl) DownloadUpload(ctx context.Context, uploadID uint) (*MediaFile, error) {
	upload, err := f.loadUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	data, contentType, err := f.mediaStore.Open(ctx, upload.StorageRef)
	if err != nil {
		if errors.Is(err, services.ErrStoredMediaNotFound) {
			return nil, NewBusinessError("MEDIA_NOT_FOUND", "stored media not found", ErrUploadNotFound)
		}
		return nil, NewBusinessError("MEDIA_READ_FAILED", "failed to read stored media", err)
	}
	if upload.MimeType != "" {
		contentType = upload.MimeType
	}

	return &MediaFile{
		FileName:    path.Base(upload.StorageRef),
		ContentType: contentType,
		Content:     data,
	}, nil
}

// PreviewUpload renders a JPEG thumbnail of an image upload
func (f *MediaFlowImpl) PreviewUpload(ctx context.Context, uploadID uint) (*MediaFile, error) {
	upload, err := f.loadUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	thumb, err := f.mediaStore.Thumbnail(ctx, upload.StorageRef)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPreviewUnsupported):
			return nil, NewBusinessError("PREVIEW_UNAVAILABLE", "preview is not available for this upload", ErrPreviewUnavailable)
		case errors.Is(err, services.ErrStoredMediaNotFound):
			return nil, NewBusinessError("MEDIA_NOT_FOUND", "stored media not found", ErrUploadNotFound)
		}
		return nil, NewBusinessError("PREVIEW_FAILED", "failed to render preview", err)
	}

	name := strings.TrimSuffix(path.Base(upload.StorageRef), path.Ext(upload.StorageRef))
	return &MediaFile{
		FileName:    name + "_preview.jpg",
		ContentType: "image/jpeg",
		Content:     thumb,
	}, nil
}

func (f *MediaFlowImpl) loadUpload(ctx context.Context, uploadID uint) (*models.Upload, error) {
	if uploadID == 0 {
		return nil, NewBusinessError("UPLOAD_NOT_FOUND", "upload not found", ErrUploadNotFound)
	}
	upload, err := f.uploadRepo.ByID(ctx, uploadID)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_LOOKUP_FAILED", "failed to load upload", err)
	}
	if upload == nil {
		return nil, NewBusinessError("UPLOAD_NOT_FOUND", "upload not found", ErrUploadNotFound)
	}
	return upload, nil
}
