package submission

import (
	"bytes"
	"io"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

const defaultContentType = "application/octet-stream"

// Media is an uploaded file waiting to be stored
type Media struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// MediaFromBytes wraps an in-memory file
func MediaFromBytes(filename, contentType string, data []byte) Media {
	return Media{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func (m Media) validate(field string) error {
	if m.Open == nil {
		return domain.NewValidationError(field, "is required")
	}
	if m.Size <= 0 {
		return domain.NewValidationError(field, "is empty")
	}
	return nil
}

func (m Media) contentType() string {
	if m.ContentType == "" {
		return defaultContentType
	}
	return m.ContentType
}
