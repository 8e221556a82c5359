package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"jobsched/internal/eventbus"
	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

// warnEvery throttles repeated per-job warnings (overruns, failures).
const warnEvery = 30 * time.Second

// Service owns the registry, trigger states and ready queue. All of that state
// is touched only from the Serve goroutine; other goroutines go through commands.
type Service struct {
	cfg    Config
	clock  clockwork.Clock
	log    logx.Logger
	bus    eventbus.Bus
	runner Runner

	cmds    chan command
	results chan completion
	done    chan struct{}
	serving atomic.Bool

	// loop-owned
	reg      *registry.Registry
	queue    *readyQueue
	mode     Mode
	inflight map[*registry.Entry]int
	parked   map[*registry.Entry]time.Time
	warn     map[registry.Key]*rate.Limiter
	stats    Stats
}

type command struct {
	fn    func() error
	reply chan error
}

type completion struct {
	entry   *registry.Entry
	firedAt time.Time
	manual  bool
	err     error
	dur     time.Duration
	tries   int
}

func New(cfg Config, runner Runner, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      log,
		bus:      bus,
		runner:   runner,
		cmds:     make(chan command, cfg.CommandBuffer),
		results:  make(chan completion, cfg.CommandBuffer),
		done:     make(chan struct{}),
		reg:      registry.New(),
		queue:    newReadyQueue(),
		inflight: map[*registry.Entry]int{},
		parked:   map[*registry.Entry]time.Time{},
		warn:     map[registry.Key]*rate.Limiter{},
	}
}

// Serve runs the dispatch loop until ctx is canceled. It may be called once;
// operations submitted before Serve starts wait for it.
func (s *Service) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("scheduler: Serve already called")
	}
	defer close(s.done)

	s.stats.Since = s.clock.Now()
	s.log.Info("scheduler loop started", logx.Bool("autostart", s.cfg.Autostart), logx.Int("error_threshold", s.cfg.ErrorThreshold))
	if s.cfg.Autostart {
		s.start()
	}

	var timer clockwork.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if s.mode == ModeRunning {
			s.fireDue(s.clock.Now())
		}

		// Re-arm from scratch each turn so only one timer is ever pending.
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		var wake <-chan time.Time
		if next, ok := s.queue.peek(); ok && s.mode == ModeRunning {
			d := next.Sub(s.clock.Now())
			if d <= 0 {
				continue
			}
			timer = s.clock.NewTimer(d)
			wake = timer.Chan()
		}

		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop stopped", logx.Int("in_flight", s.inFlight()))
			return nil
		case c := <-s.cmds:
			c.reply <- c.fn()
		case r := <-s.results:
			s.complete(r)
		case <-wake:
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Service) do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Service) inFlight() int {
	n := 0
	for _, c := range s.inflight {
		n += c
	}
	return n
}

func (s *Service) errorThreshold() int {
	if s.cfg.ErrorThreshold < 0 {
		return 0
	}
	return s.cfg.ErrorThreshold
}

// allowWarn rate-limits warnings per job.
func (s *Service) allowWarn(key registry.Key, now time.Time) bool {
	lim := s.warn[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(warnEvery), 1)
		s.warn[key] = lim
	}
	return lim.AllowN(now, 1)
}
