package predictions

import "time"

// Summary aggregates a snapshot for dashboards.
type Summary struct {
	Total          int        `json:"total"`
	Potholes       int        `json:"potholes"`
	NonPotholes    int        `json:"nonPotholes"`
	MeanConfidence float64    `json:"meanConfidence"`
	WithLocation   int        `json:"withLocation"`
	Newest         *time.Time `json:"newest,omitempty"`
}

// Summarize computes totals over records.
func Summarize(records []Record) Summary {
	var s Summary
	var sum float64
	for i := range records {
		r := &records[i]
		s.Total++
		if r.IsPothole {
			s.Potholes++
		} else {
			s.NonPotholes++
		}
		if r.Location != nil {
			s.WithLocation++
		}
		sum += r.Confidence
		if s.Newest == nil || r.Timestamp.After(*s.Newest) {
			ts := r.Timestamp
			s.Newest = &ts
		}
	}
	if s.Total > 0 {
		s.MeanConfidence = sum / float64(s.Total)
	}
	return s
}
