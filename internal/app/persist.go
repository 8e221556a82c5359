package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/storage"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

// snapshotter is the scheduler surface persistence needs.
type snapshotter interface {
	Snapshot(ctx context.Context) (scheduler.State, error)
}

// persister saves a scheduler snapshot shortly after state-changing events and
// records control events in the audit log.
type persister struct {
	store    storage.Store
	sched    snapshotter
	log      logx.Logger
	clock    clockwork.Clock
	debounce time.Duration

	mu     sync.Mutex
	frozen bool
}

func newPersister(store storage.Store, sched snapshotter, log logx.Logger, debounce time.Duration) *persister {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &persister{store: store, sched: sched, log: log, clock: clockwork.NewRealClock(), debounce: debounce}
}

// freeze stops event-driven saves and auditing; the final save is done by the caller.
func (p *persister) freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

func (p *persister) isFrozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}

// run consumes events until ctx ends or the channel closes.
func (p *persister) run(ctx context.Context, events <-chan eventbus.Event) {
	var (
		timer clockwork.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if p.isFrozen() {
				continue
			}
			if strings.HasPrefix(ev.Type, scheduler.EventControlPrefix) {
				p.audit(ctx, ev)
			}
			if timer == nil {
				timer = p.clock.NewTimer(p.debounce)
				fire = timer.Chan()
			}
		case <-fire:
			timer, fire = nil, nil
			if p.isFrozen() {
				continue
			}
			if err := p.save(ctx, nil); err != nil && ctx.Err() == nil {
				p.log.Warn("state save failed", logx.Err(err))
			}
		}
	}
}

// save snapshots the scheduler and stores it. A non-nil mode replaces the
// snapshot's mode.
func (p *persister) save(ctx context.Context, mode *scheduler.Mode) error {
	st, err := p.sched.Snapshot(ctx)
	if err != nil {
		return err
	}
	if mode != nil {
		st.Mode = *mode
	}
	if err := p.store.SaveState(ctx, st); err != nil {
		return err
	}
	p.log.Debug("state saved", logx.Int("jobs", len(st.Jobs)), logx.String("mode", st.Mode.String()))
	return nil
}

func (p *persister) audit(ctx context.Context, ev eventbus.Event) {
	ce, _ := ev.Data.(scheduler.ControlEvent)
	op := ce.Op
	if op == "" {
		op = strings.TrimPrefix(ev.Type, scheduler.EventControlPrefix)
	}
	e := storage.AuditEntry{At: ev.Time, Op: op, Job: ev.Job, Detail: ce.Detail}
	if err := p.store.AppendAudit(ctx, e); err != nil && ctx.Err() == nil {
		p.log.Warn("audit append failed", logx.String("op", op), logx.Err(err))
	}
}
