package mirror

import (
	"discord-mirror/mapping"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Options are read at the start of every run, so a reload applies to the next one.
type Options struct {
	SourceGuildID      string
	DestinationGuildID string
	ChannelConcurrency int
	MessageConcurrency int
	MaxAttachmentBytes int64
}

func (o Options) withDefaults() Options {
	if o.ChannelConcurrency <= 0 {
		o.ChannelConcurrency = 3
	}
	if o.MessageConcurrency <= 0 {
		o.MessageConcurrency = 30
	}
	return o
}

// Engine drives full resyncs and live-sync events between two guilds.
type Engine struct {
	remote Remote
	store  *mapping.Store
	relay  *RelayCache
	log    *logrus.Entry

	optsMu sync.RWMutex
	opts   Options

	running atomic.Bool

	lastMu sync.Mutex
	last   *Report
}

func NewEngine(remote Remote, store *mapping.Store, relay *RelayCache, opts Options, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		remote: remote,
		store:  store,
		relay:  relay,
		log:    log.WithField("module", "mirror"),
		opts:   opts.withDefaults(),
	}
}

func (e *Engine) Options() Options {
	e.optsMu.RLock()
	defer e.optsMu.RUnlock()
	return e.opts
}

// SetOptions replaces the options used by subsequent runs and events.
func (e *Engine) SetOptions(opts Options) {
	e.optsMu.Lock()
	e.opts = opts.withDefaults()
	e.optsMu.Unlock()
}

func (e *Engine) Store() *mapping.Store {
	return e.store
}

// Running reports whether a full resync is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastReport returns the report of the most recent finished resync, or nil.
func (e *Engine) LastReport() *Report {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last
}

func (e *Engine) replicator(opts Options) *Replicator {
	return &Replicator{
		remote:   e.remote,
		store:    e.store,
		relay:    e.relay,
		log:      e.log,
		maxBytes: opts.MaxAttachmentBytes,
		settle:   e.settle,
	}
}

// settle is where every per-item outcome ends up: counted against run, if
// any, and logged. A mapping that could not be written through still counts
// as created.
func (e *Engine) settle(run *Run, kind mapping.Kind, sourceID, op string, err error) {
	switch {
	case err == nil:
		run.created(kind)
	case isPersistence(err):
		run.created(kind)
		e.log.WithFields(logrus.Fields{"kind": kind.String(), "source": sourceID}).WithError(err).Warn(op)
	default:
		item := &ItemError{Kind: kind, SourceID: sourceID, Op: op, Err: err}
		run.failed(item)
		e.log.WithFields(logrus.Fields{"kind": kind.String(), "source": sourceID}).Error(item.Error())
	}
}

// record maps sourceID to destinationID, writes the mapping through and
// settles the outcome.
func (e *Engine) record(run *Run, kind mapping.Kind, sourceID, destinationID, op string) {
	err := e.store.Put(kind, sourceID, destinationID)
	if err == nil {
		err = e.store.Persist()
	}
	e.settle(run, kind, sourceID, op, err)
}

// Report summarises one full resync.
type Report struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	Created        map[mapping.Kind]int
	Failed         map[mapping.Kind]int
	StreamFailures int
	Failures       []*ItemError
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalFailed counts failed items and failed streams.
func (r *Report) TotalFailed() int {
	n := r.StreamFailures
	for _, c := range r.Failed {
		n += c
	}
	return n
}

func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "finished in %s", r.Duration().Round(time.Second))
	for _, kind := range mapping.Kinds {
		fmt.Fprintf(&b, "\n%s: %s created", kind, humanize.Comma(int64(r.Created[kind])))
		if n := r.Failed[kind]; n > 0 {
			fmt.Fprintf(&b, ", %s failed", humanize.Comma(int64(n)))
		}
	}
	if r.StreamFailures > 0 {
		fmt.Fprintf(&b, "\nhistory streams failed: %d", r.StreamFailures)
	}
	return b.String()
}

// Run accumulates a Report while pool tasks settle concurrently. A nil *Run
// discards everything, which is what live sync uses.
type Run struct {
	mu     sync.Mutex
	report Report
}

func newRun() *Run {
	return &Run{report: Report{
		StartedAt: time.Now(),
		Created:   make(map[mapping.Kind]int),
		Failed:    make(map[mapping.Kind]int),
	}}
}

func (r *Run) created(kind mapping.Kind) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.report.Created[kind]++
	r.mu.Unlock()
}

func (r *Run) failed(item *ItemError) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.report.Failed[item.Kind]++
	r.report.Failures = append(r.report.Failures, item)
	r.mu.Unlock()
}

func (r *Run) streamFailed() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.report.StreamFailures++
	r.mu.Unlock()
}

func (r *Run) finish() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := r.report
	report.FinishedAt = time.Now()
	return &report
}
