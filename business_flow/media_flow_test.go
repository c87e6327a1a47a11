package businessflow_test

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"testing"

	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/models"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUpload writes data through the media store and records an upload row for it
func storeUpload(t *testing.T, env *flowEnv, data []byte, mimeType string) *models.Upload {
	t.Helper()
	ctx := testingutil.CreateTestContext()

	group, err := env.fixtures.CreateGroup("Media")
	require.NoError(t, err)
	contact, err := env.fixtures.CreateContact(group.ID, "Ishaan", "")
	require.NoError(t, err)

	stored, err := env.store.Save(ctx, "documents", data, mimeType)
	require.NoError(t, err)
	upload := &models.Upload{
		ContactID:    contact.ID,
		PersonName:   "Ishaan",
		DocumentType: models.DocumentTypeIDProof,
		Role:         models.RoleSelf,
		StorageRef:   stored.Ref,
		MimeType:     stored.MimeType,
	}
	require.NoError(t, env.uploads.Save(ctx, upload))
	return upload
}

func TestMediaFlow(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	t.Run("image preview is a bounded jpeg", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			upload := storeUpload(t, env, pngBytes(t), "image/png")

			preview, err := env.media.PreviewUpload(ctx, upload.ID)
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", preview.ContentType)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(preview.Content))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, 64, cfg.Width)
			assert.Equal(t, 38, cfg.Height)
		})
	})

	t.Run("documents download but have no preview", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
			upload := storeUpload(t, env, pdf, "application/pdf")
			assert.Equal(t, ".pdf", filepath.Ext(upload.StorageRef))

			file, err := env.media.DownloadUpload(ctx, upload.ID)
			require.NoError(t, err)
			assert.Equal(t, "application/pdf", file.ContentType)
			assert.Equal(t, pdf, file.Content)

			_, err = env.media.PreviewUpload(ctx, upload.ID)
			assert.ErrorIs(t, err, businessflow.ErrPreviewUnavailable)
			assert.True(t, businessflow.IsPreconditionError(err))
		})
	})

	t.Run("missing upload or file", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			_, err := env.media.DownloadUpload(ctx, 12345)
			assert.ErrorIs(t, err, businessflow.ErrUploadNotFound)
			assert.True(t, businessflow.IsNotFound(err))

			upload := storeUpload(t, env, pngBytes(t), "image/png")
			require.NoError(t, os.Remove(filepath.Join(env.storeRoot, filepath.FromSlash(upload.StorageRef))))

			_, err = env.media.DownloadUpload(ctx, upload.ID)
			assert.ErrorIs(t, err, businessflow.ErrUploadNotFound)
			_, err = env.media.PreviewUpload(ctx, upload.ID)
			assert.ErrorIs(t, err, businessflow.ErrUploadNotFound)
		})
	})
}
