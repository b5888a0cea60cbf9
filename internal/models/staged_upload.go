package models

import "time"

// StagedUpload is an image uploaded ahead of a message, held server-side
// until it is attached to a sent turn or expires.
type StagedUpload struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"stored_path"`
	MediaType  string    `json:"media_type"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
