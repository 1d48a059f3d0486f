// Package health answers liveness and readiness probes. The process is
// ready once the scheduler has published a cycle recently enough.
package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/render"
)

const (
	StatusUp       = "UP"
	StatusReady    = "READY"
	StatusNotReady = "NOT_READY"

	// staleCycles is how many intervals may pass without a cycle before
	// readiness is withdrawn.
	staleCycles = 3
)

type Response struct {
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}

type Probe struct {
	interval  time.Duration
	lastCycle atomic.Int64
	now       func() time.Time
}

func NewProbe(interval time.Duration) *Probe {
	return &Probe{interval: interval, now: time.Now}
}

// MarkCycle records the completion time of a scheduler cycle.
func (p *Probe) MarkCycle(at time.Time) {
	p.lastCycle.Store(at.UnixNano())
}

func (p *Probe) last() (time.Time, bool) {
	n := p.lastCycle.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

func (p *Probe) Ready() bool {
	last, ok := p.last()
	if !ok {
		return false
	}
	return p.now().Sub(last) <= staleCycles*p.interval
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, Response{
		Status:    StatusUp,
		Timestamp: time.Now(),
	})
}

func (p *Probe) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Timestamp: p.now(),
	}
	if last, ok := p.last(); ok {
		response.LastCycle = &last
	}

	if p.Ready() {
		response.Status = StatusReady
		render.JSON(w, r, response)
		return
	}

	response.Status = StatusNotReady
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, response)
}
