package models

import (
	"fmt"
	"time"
)

// UploadResult is the outcome of one sample upload after retries.
type UploadResult struct {
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Err      string    `json:"error,omitempty"`
}

func (r UploadResult) String() string {
	ts := r.At.Format("15:04:05")
	if r.OK {
		return fmt.Sprintf("upload ok at %s (attempt %d)", ts, r.Attempts)
	}
	return fmt.Sprintf("upload failed at %s after %d attempts: %s", ts, r.Attempts, r.Err)
}
