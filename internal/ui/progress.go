package ui

import (
	"sync"
	"time"
)

// ProgressTracker follows one pass through its stages. It is safe for
// concurrent use: the pass reports into it while the TUI reads snapshots.
type ProgressTracker struct {
	mu sync.Mutex

	stage      Stage
	done       int
	total      int
	item       string
	started    time.Time
	stageSince time.Time

	// issues holds errors and warnings in arrival order.
	issues []ErrorEvent

	// eta is the smoothed remaining time of the current stage.
	eta time.Duration
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentItem string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker returns a tracker in StageOpen.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{stage: StageOpen, started: now, stageSince: now}
}

// SetStage enters stage with total items to go.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage, p.total = stage, total
	p.done, p.item, p.eta = 0, "", 0
	p.stageSince = time.Now()
}

// Update records how many items of the stage are done. An empty item keeps
// the previous one.
func (p *ProgressTracker) Update(current int, item string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = current
	if item != "" {
		p.item = item
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	p.issues = append(p.issues, event)
	p.mu.Unlock()
}

// Progress returns the fraction of the stage done, in [0, 1].
func (p *ProgressTracker) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction()
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.started)
}

// Stats returns a snapshot and advances the ETA estimate.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	errs := p.count(false)
	return ProgressStats{
		Stage:       p.stage,
		Current:     p.done,
		Total:       p.total,
		Progress:    p.fraction(),
		ETA:         p.nextETA(),
		CurrentItem: p.item,
		ErrorCount:  errs,
		WarnCount:   len(p.issues) - errs,
	}
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	return p.filter(false)
}

// Warnings returns the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	return p.filter(true)
}

func (p *ProgressTracker) filter(warn bool) []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ErrorEvent, 0, len(p.issues))
	for _, e := range p.issues {
		if e.IsWarn == warn {
			out = append(out, e)
		}
	}
	return out
}

func (p *ProgressTracker) count(warn bool) int {
	n := 0
	for _, e := range p.issues {
		if e.IsWarn == warn {
			n++
		}
	}
	return n
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	return min(float64(p.done)/float64(p.total), 1)
}

// etaWeight is the weight of the newest sample in the ETA average.
const etaWeight = 0.3

// nextETA extrapolates the stage rate and folds the result into the running
// average. Called with the lock held.
func (p *ProgressTracker) nextETA() time.Duration {
	f := p.fraction()
	if p.done == 0 || f <= 0 || f >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageSince)
	sample := time.Duration(float64(elapsed)/f) - elapsed
	if sample < 0 {
		return 0
	}
	if p.eta == 0 {
		p.eta = sample
	} else {
		p.eta = time.Duration(etaWeight*float64(sample) + (1-etaWeight)*float64(p.eta))
	}
	return p.eta
}
