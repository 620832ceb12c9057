package models

import "time"

type QueryRecord struct {
	ID        string
	DrugA     string
	DrugB     string
	Mode      string
	CacheKey  string
	Version   string
	Response  string
	Caveats   int
	Partial   bool
	Expanded  bool
	LatencyMS int
	CreatedAt time.Time
}

type QuerySource struct {
	ID      int
	QueryID string
	Source  string
	Outcome string
	Items   int
}

// FeedbackRecord is one rating of an answer. Rating is in [0,1].
type FeedbackRecord struct {
	ID               int64
	QueryID          string
	QueryFingerprint string
	Rating           float64
	ItemKeys         []string
	Comment          string
	CreatedAt        time.Time
}

type ItemReliability struct {
	Key       string
	Value     float64
	Updates   int
	UpdatedAt time.Time
}

type FeedbackStats struct {
	Total         int     `json:"total_feedback"`
	Positive      int     `json:"positive"`
	Negative      int     `json:"negative"`
	PositiveRatio float64 `json:"positive_ratio"`
	TrackedItems  int     `json:"tracked_items"`
}
