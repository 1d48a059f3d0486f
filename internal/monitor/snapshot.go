package monitor

import "time"

type CheckSnapshot struct {
	Name        string   `json:"name"`
	Host        string   `json:"host"`
	Method      string   `json:"method"`
	Status      string   `json:"status"`
	StatusNum   int      `json:"status_num"`
	Consecutive int      `json:"consecutive_failures"`
	History     string   `json:"history"`
	LastChange  string   `json:"last_change"`
	LoopCount   int      `json:"loop_count,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Snapshot is an immutable copy of every check taken at the end of a
// cycle. Readers never see a cycle in progress.
type Snapshot struct {
	Cycle  uint64          `json:"cycle"`
	Taken  time.Time       `json:"taken"`
	Checks []CheckSnapshot `json:"checks"`
}

func takeSnapshot(cycle uint64, now time.Time, checks []*Check, changeDisplay time.Duration) *Snapshot {
	s := &Snapshot{
		Cycle:  cycle,
		Taken:  now,
		Checks: make([]CheckSnapshot, 0, len(checks)),
	}
	for _, c := range checks {
		s.Checks = append(s.Checks, CheckSnapshot{
			Name:        c.Name,
			Host:        c.Host,
			Method:      string(c.Method),
			Status:      c.Status.String(),
			StatusNum:   c.Status.Num(),
			Consecutive: c.Consecutive,
			History:     c.History.String(),
			LastChange:  c.lastChangeDisplay(now, changeDisplay),
			LoopCount:   c.loopCount(),
			Tags:        c.Tags,
		})
	}
	return s
}
