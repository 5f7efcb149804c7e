package sweeper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/clock"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/window"
)

// Defaults documented in the runbook; both are configurable.
const (
	DefaultInterval  = 60 * time.Second
	DefaultBatchSize = 50
)

// WindowStore is the window surface the sweeper needs.
type WindowStore interface {
	ExpiredActive(ctx context.Context, now time.Time) ([]window.Window, error)
	Deactivate(ctx context.Context, id string) (bool, error)
}

// RosterStore loads the eligible-subject roster.
type RosterStore interface {
	ListEligible(ctx context.Context) ([]roster.Subject, error)
}

// RecordStore is the attendance surface the sweeper needs.
type RecordStore interface {
	ListForWindow(ctx context.Context, windowID string) ([]attendance.Record, error)
	InsertBatch(ctx context.Context, recs []attendance.Record) (int, error)
	Insert(ctx context.Context, rec attendance.Record) (attendance.Record, bool, error)
}

// Publisher receives absence notifications. May be nil.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Summary is the observable result of one sweeper pass.
type Summary struct {
	WindowsScanned   int `json:"windows_scanned"`
	WindowsClosed    int `json:"windows_closed"`
	AbsencesInserted int `json:"absences_inserted"`
	Failures         int `json:"failures"`
}

// Sweeper closes expired windows and back-fills absence records for every
// eligible subject who never checked in.
type Sweeper struct {
	windows   WindowStore
	subjects  RosterStore
	records   RecordStore
	pub       Publisher
	clk       clock.Clock
	interval  time.Duration
	batchSize int

	running  int32
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option tweaks sweeper construction.
type Option func(*Sweeper)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize bounds the bulk-insert batch size.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithPublisher wires the absence-notification queue.
func WithPublisher(pub Publisher) Option {
	return func(s *Sweeper) { s.pub = pub }
}

// New creates a sweeper.
func New(windows WindowStore, subjects RosterStore, records RecordStore, clk clock.Clock, opts ...Option) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Sweeper{
		windows:   windows,
		subjects:  subjects,
		records:   records,
		clk:       clk,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce performs a single reconciliation pass: every active window whose
// expiry has passed gets its absentees back-filled and is then closed.
// Windows are processed independently; one window's failure leaves it
// active for the next pass and never aborts the others.
func (s *Sweeper) RunOnce(ctx context.Context) (Summary, error) {
	now := s.clk.Now()
	expired, err := s.windows.ExpiredActive(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("scan expired windows: %w", err)
	}

	sum := Summary{WindowsScanned: len(expired)}
	for _, w := range expired {
		inserted, err := s.reconcile(ctx, w, now)
		sum.AbsencesInserted += inserted
		if err != nil {
			sum.Failures++
			metrics.SweepFailuresTotal.Inc()
			log.Printf("sweeper: window %s (%q) left active for retry: %v", w.ID, w.Name, err)
			continue
		}
		sum.WindowsClosed++
		metrics.SweepWindowsTotal.Inc()
	}

	metrics.SweepRunsTotal.Inc()
	metrics.SweepAbsencesTotal.Add(float64(sum.AbsencesInserted))
	if sum.WindowsScanned > 0 {
		log.Printf("sweeper: pass done: scanned=%d closed=%d absences=%d failures=%d",
			sum.WindowsScanned, sum.WindowsClosed, sum.AbsencesInserted, sum.Failures)
	}
	return sum, nil
}

// reconcile back-fills absences for one window and closes it. Order
// matters: roster, then existing records, then inserts, then deactivate.
// Closing first would let late check-ins race the diff. The window is
// closed only once every absentee has a row; otherwise it stays active and
// the next pass retries (first-writer-wins makes the retry safe).
func (s *Sweeper) reconcile(ctx context.Context, w window.Window, now time.Time) (int, error) {
	eligible, err := s.subjects.ListEligible(ctx)
	if err != nil {
		return 0, fmt.Errorf("load roster: %w", err)
	}

	existing, err := s.records.ListForWindow(ctx, w.ID)
	if err != nil {
		return 0, fmt.Errorf("load records: %w", err)
	}
	recorded := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		recorded[rec.SubjectHandle] = struct{}{}
	}

	var absentees []attendance.Record
	for _, subj := range eligible {
		if !roster.Eligible(subj) {
			continue
		}
		if _, ok := recorded[subj.Handle]; ok {
			continue
		}
		absentees = append(absentees, attendance.Record{
			SubjectHandle: subj.Handle,
			WindowID:      w.ID,
			WindowName:    w.Name,
			Status:        attendance.StatusAbsent,
			RecordedAt:    now,
			RecordDate:    now.Format("2006-01-02"),
		})
	}

	inserted, failed := s.insertAbsences(ctx, absentees)
	if failed > 0 {
		return inserted, fmt.Errorf("%d of %d absence inserts failed", failed, len(absentees))
	}

	if _, err := s.windows.Deactivate(ctx, w.ID); err != nil {
		return inserted, fmt.Errorf("deactivate: %w", err)
	}

	s.notify(ctx, absentees)
	return inserted, nil
}

// insertAbsences writes records in bounded batches. A failed batch is
// degraded to per-record insertion so one bad record cannot block the
// rest; per-record conflicts mean someone else already wrote the pair and
// count as satisfied.
func (s *Sweeper) insertAbsences(ctx context.Context, recs []attendance.Record) (inserted, failed int) {
	for start := 0; start < len(recs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(recs) {
			end = len(recs)
		}
		batch := recs[start:end]

		n, err := s.records.InsertBatch(ctx, batch)
		if err == nil {
			inserted += n
			continue
		}

		metrics.SweepBatchFallbacksTotal.Inc()
		log.Printf("sweeper: batch of %d failed (%v), falling back to per-record inserts", len(batch), err)
		for _, rec := range batch {
			if _, created, err := s.records.Insert(ctx, rec); err != nil {
				failed++
			} else if created {
				inserted++
			}
		}
	}
	return inserted, failed
}

func (s *Sweeper) notify(ctx context.Context, recs []attendance.Record) {
	if s.pub == nil {
		return
	}
	for _, rec := range recs {
		body, err := queue.AbsenceNotice{
			SubjectHandle: rec.SubjectHandle,
			WindowID:      rec.WindowID,
			WindowName:    rec.WindowName,
			RecordedAt:    rec.RecordedAt,
		}.Encode()
		if err != nil {
			continue
		}
		if err := s.pub.Publish(ctx, queue.Message{Type: queue.TypeAbsence, Body: body}); err != nil {
			log.Printf("sweeper: absence notice for %s failed: %v", rec.SubjectHandle, err)
		}
	}
}

// Start launches the periodic loop. Ticks that land while a pass is still
// running are skipped, never queued.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
					metrics.SweepSkippedTotal.Inc()
					log.Printf("sweeper: previous pass still running, skipping tick")
					continue
				}
				go func() {
					defer atomic.StoreInt32(&s.running, 0)
					if _, err := s.RunOnce(ctx); err != nil {
						log.Printf("sweeper: pass failed: %v", err)
					}
				}()
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic loop. A pass already in flight finishes on its
// own; Stop does not interrupt it.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
