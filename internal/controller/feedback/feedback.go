package feedbackcontroller

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
)

// Statistics summarises every stored feedback record.
type Statistics struct {
	TotalCount     int            `json:"total_count"`
	FeedbackCounts map[string]int `json:"feedback_counts"`
}

// SubmitFeedback stores a new record under a fresh id and returns it.
func SubmitFeedback(s *store.Store, rec store.FeedbackRecord) (store.FeedbackRecord, error) {
	rec.LaTeX = strings.TrimSpace(rec.LaTeX)
	rec.Feedback = strings.TrimSpace(rec.Feedback)
	if rec.LaTeX == "" {
		return store.FeedbackRecord{}, errors.New("latex_text cannot be empty")
	}
	if rec.Feedback == "" {
		return store.FeedbackRecord{}, errors.New("feedback cannot be empty")
	}

	rec.ID = uuid.NewString()
	rec.Kind = constants.ParseFeedbackKind(strings.ToLower(rec.Feedback))
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return store.FeedbackRecord{}, fmt.Errorf("marshal feedback: %w", err)
	}
	if err := s.Put(store.FeedbackPrefix+rec.ID, b); err != nil {
		return store.FeedbackRecord{}, err
	}
	return rec, nil
}

// GetFeedbackByID loads a record.
// Returns (zero FeedbackRecord, false, nil) if it is not found.
func GetFeedbackByID(s *store.Store, id string) (store.FeedbackRecord, bool, error) {
	if id == "" {
		return store.FeedbackRecord{}, false, errors.New("feedback id cannot be empty")
	}
	raw, ok := s.Get(store.FeedbackPrefix + id)
	if !ok {
		return store.FeedbackRecord{}, false, nil
	}
	var rec store.FeedbackRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.FeedbackRecord{}, false, fmt.Errorf("unmarshal feedback: %w", err)
	}
	return rec, true, nil
}

// DeleteFeedback removes a record.
func DeleteFeedback(s *store.Store, id string) error {
	if id == "" {
		return errors.New("feedback id cannot be empty")
	}
	return s.Delete(store.FeedbackPrefix + id)
}

// ListFeedback returns every record, oldest first.
func ListFeedback(s *store.Store) ([]store.FeedbackRecord, error) {
	var records []store.FeedbackRecord
	err := s.Scan(store.FeedbackPrefix, func(key string, raw []byte) error {
		var rec store.FeedbackRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal feedback %q: %w", key, err)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// GetStatistics counts records per feedback kind.
func GetStatistics(s *store.Store) (Statistics, error) {
	records, err := ListFeedback(s)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{FeedbackCounts: make(map[string]int)}
	for _, rec := range records {
		stats.TotalCount++
		stats.FeedbackCounts[string(rec.Kind)]++
	}
	return stats, nil
}
