package logger

import (
	"fmt"
	"sync"
	"time"
)

// Progress tracks a batch run, one entry per exam question, and prints
// running counts with an ETA.
type Progress struct {
	mu        sync.Mutex
	log       *Logger
	total     int
	done      int
	startTime time.Time
	entries   map[string]*entry
}

type entry struct {
	name      string
	status    string // "running", "passed", "failed"
	startTime time.Time
	endTime   time.Time
	err       string
}

// NewProgress creates a tracker for total questions.
func NewProgress(log *Logger, total int) *Progress {
	return &Progress{
		log:       log,
		total:     total,
		startTime: time.Now(),
		entries:   make(map[string]*entry),
	}
}

// Start marks one question as running.
func (p *Progress) Start(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[name] = &entry{name: name, status: "running", startTime: time.Now()}
	fmt.Fprintf(p.log.out, "[%s] 🔄 Started\n", name)
}

// Pass marks one question as answered.
func (p *Progress) Pass(name string) {
	p.finish(name, "passed", nil)
}

// Fail marks one question as failed.
func (p *Progress) Fail(name string, err error) {
	p.finish(name, "failed", err)
}

func (p *Progress) finish(name, status string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return
	}
	e.status = status
	e.endTime = time.Now()
	p.done++
	if err != nil {
		e.err = err.Error()
		fmt.Fprintf(p.log.out, "[%s] ✗ Failed: %v\n", name, err)
	} else {
		fmt.Fprintf(p.log.out, "[%s] ✓ Answered (%.2fs)\n", name, e.endTime.Sub(e.startTime).Seconds())
	}
	p.printCounts()
}

// printCounts runs with the lock held.
func (p *Progress) printCounts() {
	if p.total == 0 {
		return
	}
	elapsed := time.Since(p.startTime)
	var eta time.Duration
	if p.done > 0 {
		eta = elapsed / time.Duration(p.done) * time.Duration(p.total-p.done)
	}
	fmt.Fprintf(p.log.out, "📊 Progress: %d/%d (%.1f%%) | Elapsed: %s | ETA: %s\n\n",
		p.done, p.total, float64(p.done)/float64(p.total)*100,
		FormatDuration(elapsed), FormatDuration(eta))
}

// Summary prints the final tallies and returns the number of failures.
func (p *Progress) Summary() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var passed, failed int
	for _, e := range p.entries {
		switch e.status {
		case "passed":
			passed++
		case "failed":
			failed++
		}
	}

	p.log.Section("Final Summary")
	fmt.Fprintf(p.log.out, "Total Questions: %d\n", p.total)
	fmt.Fprintf(p.log.out, "✓ Answered: %d\n", passed)
	fmt.Fprintf(p.log.out, "✗ Failed: %d\n", failed)
	fmt.Fprintf(p.log.out, "⏱️  Total Time: %s\n", FormatDuration(time.Since(p.startTime)))
	if failed > 0 {
		fmt.Fprintf(p.log.out, "\n❌ Failed Questions:\n")
		for _, e := range p.entries {
			if e.status == "failed" {
				fmt.Fprintf(p.log.out, "  - %s: %s\n", e.name, e.err)
			}
		}
	}
	fmt.Fprintf(p.log.out, "\n")
	return failed
}
