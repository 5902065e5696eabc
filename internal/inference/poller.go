package inference

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/internal/registry"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// Poller is the single background task that reconciles desired registry
// state with the Model Manager. Each tick it resolves the production version
// for every tracked model and submits a load intent when it differs from the
// published one. Ticks are jittered and non-reentrant; the poller never
// waits for a load to finish.
type Poller struct {
	registry registry.Client
	manager  *Manager
	logger   logger.Logger

	interval time.Duration
	jitter   float64

	running atomic.Bool

	mu        sync.Mutex
	tracked   map[string]struct{}
	status    map[string]*models.ModelUpdateStatus
	lastCheck time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewPoller(reg registry.Client, manager *Manager, interval time.Duration, jitter float64, log logger.Logger) *Poller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 0.5 {
		jitter = 0.5
	}
	return &Poller{
		registry: reg,
		manager:  manager,
		logger:   log,
		interval: interval,
		jitter:   jitter,
		tracked:  make(map[string]struct{}),
		status:   make(map[string]*models.ModelUpdateStatus),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Track adds a model name to the reconciliation set.
func (p *Poller) Track(name string) {
	if name == "" {
		return
	}
	p.mu.Lock()
	p.tracked[name] = struct{}{}
	p.mu.Unlock()
}

func (p *Poller) TrackedModels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tracked))
	for name := range p.tracked {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		p.logger.Info("registry poller started",
			"interval", p.interval.String(), "jitter_fraction", p.jitter)
		timer := time.NewTimer(p.nextInterval())
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-timer.C:
				p.CheckNow(ctx)
				timer.Reset(p.nextInterval())
			}
		}
	}()
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// nextInterval spreads ticks across +/- jitter of the base interval so a
// fleet of servers does not synchronize against the registry.
func (p *Poller) nextInterval() time.Duration {
	if p.jitter == 0 {
		return p.interval
	}
	spread := (rand.Float64()*2 - 1) * p.jitter
	return time.Duration(float64(p.interval) * (1 + spread))
}

// CheckNow runs one reconciliation pass. Re-entry is refused: if a pass is
// still in flight the call returns immediately.
func (p *Poller) CheckNow(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	for _, name := range p.TrackedModels() {
		p.reconcile(ctx, name)
	}

	p.mu.Lock()
	p.lastCheck = time.Now().UTC()
	p.mu.Unlock()
}

func (p *Poller) reconcile(ctx context.Context, name string) {
	st := &models.ModelUpdateStatus{Name: name}
	if h := p.manager.Current(name); h != nil {
		st.CurrentVersion = h.Version
	}

	desired, err := p.manager.ResolveRef(ctx, name, registry.StageProduction)
	if err != nil {
		st.LastError = err.Error()
		p.setStatus(st)
		p.logger.Warn("could not resolve desired version", "model", name, "error", err)
		return
	}
	st.DesiredVersion = desired

	if st.CurrentVersion != desired {
		p.logger.Info("version drift detected, submitting load intent",
			"model", name, "current", st.CurrentVersion, "desired", desired)
		p.manager.SubmitLoad(name, desired)
	}
	p.setStatus(st)
}

// SubmitReload services the admin reload surface through the same intent
// mechanism the tick uses. An empty name reconciles every tracked model. The
// pass runs in the background; callers get an immediate acknowledgement.
func (p *Poller) SubmitReload(name string) {
	if name != "" {
		p.Track(name)
		go p.reconcile(context.Background(), name)
		return
	}
	go p.CheckNow(context.Background())
}

func (p *Poller) setStatus(st *models.ModelUpdateStatus) {
	p.mu.Lock()
	p.status[st.Name] = st
	p.mu.Unlock()
}

// Status reports the last reconciliation outcome per tracked model.
func (p *Poller) Status() models.UpdatesStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := models.UpdatesStatus{LastCheck: p.lastCheck}
	names := make([]string, 0, len(p.status))
	for name := range p.status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Models = append(out.Models, *p.status[name])
	}
	return out
}
