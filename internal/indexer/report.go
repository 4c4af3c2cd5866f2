package indexer

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Counts are the per-family outcome counters.
type Counts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// FailureLedger is the append-only list of failures of one run.
type FailureLedger struct {
	mu      sync.Mutex
	entries []FailureEntry
}

// Append records a failure.
func (l *FailureLedger) Append(e FailureEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Len returns the number of recorded failures.
func (l *FailureLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the recorded failures in append order.
func (l *FailureLedger) Entries() []FailureEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FailureEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// RunReport accumulates the counters of one run. It is created at run
// start, owned by that run only, and safe for concurrent writers.
type RunReport struct {
	mu        sync.Mutex
	id        string
	started   time.Time
	counts    map[Family]*Counts
	phases    map[string]time.Duration
	ledger    *FailureLedger
	skipped   int
	cancelled bool
	now       func() time.Time
}

// NewRunReport starts a report with a fresh run id.
func NewRunReport() *RunReport {
	return newRunReport(time.Now)
}

func newRunReport(now func() time.Time) *RunReport {
	return &RunReport{
		id:      uuid.NewString(),
		started: now(),
		counts:  make(map[Family]*Counts),
		phases:  make(map[string]time.Duration),
		ledger:  &FailureLedger{},
		now:     now,
	}
}

// ID returns the run id.
func (r *RunReport) ID() string {
	return r.id
}

// Ledger returns the run's failure ledger.
func (r *RunReport) Ledger() *FailureLedger {
	return r.ledger
}

func (r *RunReport) countsFor(f Family) *Counts {
	c, ok := r.counts[f]
	if !ok {
		c = &Counts{}
		r.counts[f] = c
	}
	return c
}

// Attempt counts one asset of family f as attempted.
func (r *RunReport) Attempt(f Family) {
	r.mu.Lock()
	r.countsFor(f).Attempted++
	r.mu.Unlock()
}

// Succeed counts one asset of family f as succeeded.
func (r *RunReport) Succeed(f Family) {
	r.mu.Lock()
	r.countsFor(f).Succeeded++
	r.mu.Unlock()
}

// Fail counts the entry's family as failed and appends the entry to the ledger.
func (r *RunReport) Fail(e FailureEntry) {
	r.mu.Lock()
	r.countsFor(e.Family).Failed++
	r.mu.Unlock()
	r.ledger.Append(e)
}

// Record applies a dispatch outcome for an already attempted asset.
func (r *RunReport) Record(o Outcome) {
	switch {
	case o.Record != nil:
		r.Succeed(o.Record.Asset.Family)
	case o.Failure != nil:
		r.Fail(*o.Failure)
	}
}

// RecordPhase adds d to the elapsed time of a named phase.
func (r *RunReport) RecordPhase(name string, d time.Duration) {
	r.mu.Lock()
	r.phases[name] += d
	r.mu.Unlock()
}

// MarkCancelled flags the run as cancelled and records how many candidate
// paths had at least one asset left unprocessed.
func (r *RunReport) MarkCancelled(skipped int) {
	r.mu.Lock()
	r.cancelled = true
	r.skipped += skipped
	r.mu.Unlock()
}

// Snapshot is the finalized, immutable view of a run report. It shares no
// state with the report it came from.
type Snapshot struct {
	RunID      string                   `json:"run_id"`
	Started    time.Time                `json:"started"`
	Finished   time.Time                `json:"finished"`
	Elapsed    time.Duration            `json:"elapsed_ns"`
	Phases     map[string]time.Duration `json:"phases_ns"`
	Statistics map[Family]Counts        `json:"statistics"`
	// Failures groups offending path or "path | layer" identifiers by kind, sorted.
	Failures  map[FailureKind][]string `json:"failures"`
	Entries   []FailureEntry           `json:"entries"`
	Cancelled bool                     `json:"cancelled"`
	// Skipped counts candidate paths with at least one asset left unprocessed.
	Skipped int `json:"skipped"`
}

// Totals sums the statistics over every family.
func (s *Snapshot) Totals() Counts {
	var t Counts
	for _, c := range s.Statistics {
		t.Attempted += c.Attempted
		t.Succeeded += c.Succeeded
		t.Failed += c.Failed
	}
	return t
}

// Families returns the families present in Statistics in name order.
func (s *Snapshot) Families() []Family {
	out := make([]Family, 0, len(s.Statistics))
	for f := range s.Statistics {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Finalize produces the snapshot of the report. It may be called more than
// once; each call reflects the state at that moment.
func (r *RunReport) Finalize() *Snapshot {
	entries := r.ledger.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].ID() < entries[j].ID()
	})

	failures := make(map[FailureKind][]string)
	for _, e := range entries {
		failures[e.Kind] = append(failures[e.Kind], e.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	finished := r.now()
	stats := make(map[Family]Counts, len(r.counts))
	for f, c := range r.counts {
		stats[f] = *c
	}
	phases := make(map[string]time.Duration, len(r.phases))
	for k, v := range r.phases {
		phases[k] = v
	}

	return &Snapshot{
		RunID:      r.id,
		Started:    r.started,
		Finished:   finished,
		Elapsed:    finished.Sub(r.started),
		Phases:     phases,
		Statistics: stats,
		Failures:   failures,
		Entries:    entries,
		Cancelled:  r.cancelled,
		Skipped:    r.skipped,
	}
}
