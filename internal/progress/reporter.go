package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the expected number of bytes, or <= 0 when unknown.
	TotalSize int64

	// Phase names what is being transferred ("download", "upload").
	Phase string

	// Logger receives progress entries.
	// Default: log.Log
	Logger log.Interface

	// UpdateInterval is how often progress is logged.
	// Default: 5s
	UpdateInterval time.Duration
}

// Reporter counts bytes passing through it and logs progress periodically.
// It implements io.Writer so it can sit behind an io.MultiWriter or
// io.TeeReader.
type Reporter struct {
	opts Options

	written   atomic.Int64
	startTime time.Time
	lastTick  time.Time
	lastBytes int64

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 5 * time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Write records len(p) transferred bytes.
func (r *Reporter) Write(p []byte) (int, error) {
	r.written.Add(int64(len(p)))
	return len(p), nil
}

// Written returns the number of bytes recorded so far.
func (r *Reporter) Written() int64 {
	return r.written.Load()
}

// Start begins logging progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastTick = r.startTime

	r.opts.Logger.WithFields(log.Fields{
		"phase": r.opts.Phase,
		"total": formatTotal(r.opts.TotalSize),
	}).Debug("transfer started")

	go r.updateLoop()
}

// Stop stops the reporter and logs a summary. It is safe to call more
// than once and without Start.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.logSummary()
			return
		case <-ticker.C:
			r.logProgress()
		}
	}
}

func (r *Reporter) logProgress() {
	now := time.Now()
	done := r.written.Load()

	elapsed := now.Sub(r.lastTick).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(done-r.lastBytes) / elapsed
	r.lastTick = now
	r.lastBytes = done

	fields := log.Fields{
		"phase": r.opts.Phase,
		"done":  FormatBytes(done),
		"speed": FormatBytes(int64(speed)) + "/s",
	}
	if r.opts.TotalSize > 0 {
		fields["total"] = FormatBytes(r.opts.TotalSize)
		fields["percent"] = percent(done, r.opts.TotalSize)
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - done)
			fields["eta"] = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}
	r.opts.Logger.WithFields(fields).Info("transfer progress")
}

func (r *Reporter) logSummary() {
	done := r.written.Load()
	duration := time.Since(r.startTime)
	avg := 0.0
	if duration > 0 {
		avg = float64(done) / duration.Seconds()
	}

	r.opts.Logger.WithFields(log.Fields{
		"phase":    r.opts.Phase,
		"done":     FormatBytes(done),
		"duration": formatDuration(duration),
		"speed":    FormatBytes(int64(avg)) + "/s",
	}).Info("transfer finished")
}

func percent(done, total int64) string {
	p := float64(done) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return humanize.FtoaWithDigits(p, 1) + "%"
}

func formatTotal(total int64) string {
	if total <= 0 {
		return "unknown"
	}
	return FormatBytes(total)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

// FormatBytes formats bytes as an IEC string ("1.5 KiB").
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string ("256MiB", "1GB").
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
