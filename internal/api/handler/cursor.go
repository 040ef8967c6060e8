package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/google/uuid"
)

// DecodeJobCursor parses an opaque listing cursor
func DecodeJobCursor(cursorStr string) (*storage.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var scheduledAt int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &scheduledAt); err != nil {
		return nil, fmt.Errorf("invalid scheduled time in cursor: %w", err)
	}

	if _, err := uuid.Parse(decodedParts[1]); err != nil {
		return nil, fmt.Errorf("invalid job id in cursor: %w", err)
	}

	return &storage.JobCursor{
		ScheduledAt: time.Unix(0, scheduledAt).UTC(),
		JobID:       decodedParts[1],
	}, nil
}

// EncodeJobCursor renders the position after job as an opaque cursor
func EncodeJobCursor(cursor *storage.JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.ScheduledAt.UnixNano(), cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
