package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// MediaService forwards uploaded images to Cloudinary. Catalog entries
// store only the returned URL, never the bytes.
type MediaService struct {
	client *cloudinary.Cloudinary
}

// NewMediaService initializes the Cloudinary client from CLOUDINARY_URL
func NewMediaService() (*MediaService, error) {
	cld, err := cloudinary.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media client: %w", err)
	}
	return &MediaService{client: cld}, nil
}

// UploadImage reads the named file part from the request, stages it on
// local disk and uploads it to the given folder. It returns the durable
// HTTPS URL, or an empty string when no file was supplied.
func (ms *MediaService) UploadImage(r *http.Request, field, folder string) (string, error) {
	file, handler, err := r.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return "", nil
		}
		return "", fmt.Errorf("failed to read uploaded file: %w", err)
	}
	defer file.Close()

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(handler.Filename)))
	dst, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	dst.Close()
	defer os.Remove(tmpPath)

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := ms.client.Upload.Upload(ctx, tmpPath, uploader.UploadParams{Folder: folder})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return result.SecureURL, nil
}
