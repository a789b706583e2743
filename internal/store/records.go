package store

import (
	"time"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
)

// Key prefixes for the record types kept in the store.
const (
	FeedbackPrefix     = "feedback:"
	ModelInstallPrefix = "model-install:"
)

// FeedbackRecord is one user verdict on a recognition.
type FeedbackRecord struct {
	ID        string                 `json:"id"`
	LaTeX     string                 `json:"latex_text"`
	Feedback  string                 `json:"feedback"`
	Kind      constants.FeedbackKind `json:"kind"`
	ImageData string                 `json:"image_data,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ModelInstall records one download of the model release into the model
// directory.
type ModelInstall struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Asset       string    `json:"asset"`
	Dir         string    `json:"dir"`
	Files       []string  `json:"files"`
	Bytes       int64     `json:"bytes"`
	Fingerprint string    `json:"fingerprint"`
	InstalledAt time.Time `json:"installed_at"`
}
