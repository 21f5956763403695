package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ebr/domain/stack"
	"ebr/infra/journal"
	"ebr/infra/memory"
	"ebr/infra/sequence"
)

type Config struct {
	Workers   int
	OpsPerPin int

	// AdvanceInterval drives the maintenance flush; CheckpointInterval the
	// journal writer. Zero disables the job.
	AdvanceInterval    time.Duration
	CheckpointInterval time.Duration

	Logger *zap.Logger
}

// Stats extends the collector's counters with the workload's own.
type Stats struct {
	memory.Stats
	Participants int
	Depth        int
	Pushes       uint64
	Pops         uint64
	Peeks        uint64
	Violations   uint64
}

/*
SoakService drives a lock-free stack from many goroutines and reclaims its
nodes and payload buffers through one collector.

Workers pin, run a few random push/pop/peek steps and unpin. A popped
buffer is retired through the guard, and readers that peeked it verify its
checksum, so a buffer recycled too early shows up as a violation.
*/
type SoakService struct {
	cfg       Config
	collector *memory.Collector
	stack     *stack.Stack[*Buffer]
	buffers   *memory.Pool[Buffer]
	seq       *sequence.Sequencer
	journal   *journal.Journal
	logger    *zap.Logger

	// maint is the service's own participant, used by the periodic jobs.
	maintMu sync.Mutex
	maint   *memory.Handle

	ids        atomic.Uint64
	pushes     atomic.Uint64
	pops       atomic.Uint64
	peeks      atomic.Uint64
	violations atomic.Uint64

	closeOnce sync.Once
}

// New wires the service. It takes its own reference on c; j may be nil, in
// which case checkpoints are built but not persisted.
func New(
	c *memory.Collector,
	j *journal.Journal,
	seq *sequence.Sequencer,
	cfg Config,
) *SoakService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OpsPerPin <= 0 {
		cfg.OpsPerPin = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ref := c.Clone()
	return &SoakService{
		cfg:       cfg,
		collector: ref,
		stack:     stack.New[*Buffer](),
		buffers:   memory.NewPool(func() *Buffer { return &Buffer{} }, resetBuffer),
		seq:       seq,
		journal:   j,
		logger:    cfg.Logger.Named("soak"),
		maint:     ref.Register(),
	}
}

// ──────────────────────────────────────────────────────────
// Workload
// ──────────────────────────────────────────────────────────

// Run starts the workers and periodic jobs and blocks until ctx is done or
// a job fails.
func (s *SoakService) Run(ctx context.Context) error {
	s.logger.Info("soak started",
		zap.Int("workers", s.cfg.Workers),
		zap.Int("ops_per_pin", s.cfg.OpsPerPin),
	)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < s.cfg.Workers; w++ {
		g.Go(func() error {
			s.work(ctx, uint64(w))
			return nil
		})
	}
	if d := s.cfg.AdvanceInterval; d > 0 {
		g.Go(func() error {
			return every(ctx, d, func() error {
				s.AdvanceEpoch()
				return nil
			})
		})
	}
	if d := s.cfg.CheckpointInterval; d > 0 {
		g.Go(func() error {
			return every(ctx, d, func() error {
				cp, err := s.Checkpoint()
				if err != nil {
					return err
				}
				return s.truncate(cp.Seq)
			})
		})
	}

	err := g.Wait()
	st := s.Stats()
	s.logger.Info("soak stopped",
		zap.Uint64("pushes", st.Pushes),
		zap.Uint64("pops", st.Pops),
		zap.Uint64("violations", st.Violations),
		zap.Uint64("epoch_advances", st.EpochAdvances),
	)
	return err
}

func every(ctx context.Context, d time.Duration, fn func() error) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

func (s *SoakService) work(ctx context.Context, id uint64) {
	h := s.collector.Register()
	defer h.Release()

	rng := rand.New(rand.NewPCG(id, uint64(time.Now().UnixNano())))
	for ctx.Err() == nil {
		g := h.Pin()
		for i := 0; i < s.cfg.OpsPerPin; i++ {
			s.step(g, rng.IntN(3))
		}
		g.Unpin()
	}
}

func (s *SoakService) step(g *memory.Guard, op int) {
	switch op {
	case 0:
		b := s.buffers.Get()
		b.fill(s.ids.Add(1))
		s.stack.Push(b)
		s.pushes.Add(1)
	case 1:
		b, ok := s.stack.Pop(g)
		if !ok {
			return
		}
		s.check(b)
		s.buffers.Retire(g, b)
		s.pops.Add(1)
	default:
		b, ok := s.stack.Peek(g)
		if !ok {
			return
		}
		s.check(b)
		s.peeks.Add(1)
	}
}

func (s *SoakService) check(b *Buffer) {
	if !b.verify() {
		s.violations.Add(1)
		s.logger.Error("buffer recycled while still reachable", zap.Uint64("id", b.ID))
	}
}

// ──────────────────────────────────────────────────────────
// Reclamation
// ──────────────────────────────────────────────────────────

// AdvanceEpoch flushes the maintenance participant, which tries to advance
// the epoch and collects expired bags. Intended to be called periodically.
func (s *SoakService) AdvanceEpoch() {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()
	if s.maint == nil {
		return
	}
	g := s.maint.Pin()
	g.Flush()
	g.Unpin()
}

// Collect runs one maintenance pass and reports the counters afterwards.
func (s *SoakService) Collect() Stats {
	s.AdvanceEpoch()
	return s.Stats()
}

func (s *SoakService) Stats() Stats {
	return Stats{
		Stats:        s.collector.Stats(),
		Participants: s.collector.Participants(),
		Depth:        s.stack.Len(),
		Pushes:       s.pushes.Load(),
		Pops:         s.pops.Load(),
		Peeks:        s.peeks.Load(),
		Violations:   s.violations.Load(),
	}
}

// ──────────────────────────────────────────────────────────
// Checkpoints
// ──────────────────────────────────────────────────────────

// Checkpoint numbers the current counters and appends them to the journal.
func (s *SoakService) Checkpoint() (journal.Checkpoint, error) {
	st := s.Stats()
	cp := journal.Checkpoint{
		Seq:                    s.seq.Next(),
		Time:                   time.Now(),
		Collector:              "soak",
		Epoch:                  uint64(st.Epoch.Unpinned() >> 1),
		Participants:           int64(st.Participants),
		Pushes:                 st.Pushes,
		Pops:                   st.Pops,
		EpochAdvances:          st.EpochAdvances,
		BagsSealed:             st.BagsSealed,
		BagsCollected:          st.BagsCollected,
		DeferredRun:            st.DeferredRun,
		ParticipantsRegistered: st.ParticipantsRegistered,
		ParticipantsReclaimed:  st.ParticipantsReclaimed,
	}
	if s.journal == nil {
		return cp, nil
	}
	if err := s.journal.Append(cp); err != nil {
		return cp, errors.Wrapf(err, "soak: checkpoint %d", cp.Seq)
	}
	s.logger.Debug("checkpoint written", zap.Uint64("seq", cp.Seq))
	return cp, nil
}

// truncate drops checkpoints the broadcaster has already delivered.
func (s *SoakService) truncate(upTo uint64) error {
	if s.journal == nil {
		return nil
	}
	n, err := s.journal.TruncateAckedUpTo(upTo)
	if err != nil {
		return errors.Wrap(err, "soak: truncate journal")
	}
	if n > 0 {
		s.logger.Debug("journal truncated", zap.Int("records", n), zap.Uint64("up_to", upTo))
	}
	return nil
}

// ──────────────────────────────────────────────────────────
// Shutdown
// ──────────────────────────────────────────────────────────

// Close empties the stack, releases the maintenance participant and drops
// the service's collector reference. Call it after Run has returned.
func (s *SoakService) Close() {
	s.closeOnce.Do(func() {
		s.maintMu.Lock()
		defer s.maintMu.Unlock()

		g := s.maint.Pin()
		for {
			b, ok := s.stack.Pop(g)
			if !ok {
				break
			}
			s.check(b)
			s.buffers.Retire(g, b)
		}
		g.Unpin()

		s.maint.Release()
		s.maint = nil
		s.collector.Release()
		s.logger.Info("soak closed")
	})
}
