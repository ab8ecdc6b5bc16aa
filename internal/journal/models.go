package journal

import "time"

// MatchRecord is one row of match_log
type MatchRecord struct {
	ID         int64
	SessionID  string
	TemplateID string
	Operation  string
	Method     string
	Threshold  float64
	Matched    bool
	Score      *float64 // Nil for find_all rows
	X, Y       int
	Count      int
	Duration   time.Duration
	RecordedAt time.Time
}

// TemplateStats aggregates match_log rows for one template
type TemplateStats struct {
	TemplateID    string
	Calls         int
	Hits          int
	AvgScore      *float64
	BestScore     *float64
	AvgDurationMs float64
	LastSeen      time.Time
}

// HitRate returns the fraction of calls that matched
func (s TemplateStats) HitRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Calls)
}
