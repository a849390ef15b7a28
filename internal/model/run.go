package model

import "time"

// Run is one measurement pass over a left/right image pair.
type Run struct {
	ID            int64     `json:"id"`
	Source        string    `json:"source"`  // "upload" or "camera:<source>"
	Outcome       string    `json:"outcome"` // "done" or "no_matches"
	LeftCount     int       `json:"left_count"`
	RightCount    int       `json:"right_count"`
	PairCount     int       `json:"pair_count"`
	RejectedCount int       `json:"rejected_count"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"filepath"`
	FileSize      int64     `json:"filesize"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunFilter narrows run queries. Zero values mean "no constraint".
type RunFilter struct {
	Source     string
	Object     string // Title-cased object name, eg "Cell Phone"
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
