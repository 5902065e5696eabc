package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/internal/metrics"
	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/internal/registry"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

type nameVersion struct {
	name    string
	version string
}

type loadTask struct {
	done   chan struct{}
	handle *ModelHandle
	err    error
}

func newLoadTask() *loadTask {
	return &loadTask{done: make(chan struct{})}
}

func (t *loadTask) complete(h *ModelHandle, err error) {
	t.handle = h
	t.err = err
	close(t.done)
}

func completedTask(h *ModelHandle, err error) *loadTask {
	t := newLoadTask()
	t.complete(h, err)
	return t
}

// LoadFuture joins an in-flight or completed load.
type LoadFuture struct {
	task *loadTask
}

func (f *LoadFuture) Done() <-chan struct{} { return f.task.done }

// Wait blocks until the load completes or ctx expires. The load itself keeps
// running if ctx expires first; loads are never cancelled by waiters.
func (f *LoadFuture) Wait(ctx context.Context) (*ModelHandle, error) {
	select {
	case <-f.task.done:
		return f.task.handle, f.task.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Manager owns the name to current-handle mapping and every in-flight load.
// Reads go through a copy-on-write snapshot behind an atomic pointer, so the
// request path never takes a lock to resolve a model. Loads are serialized
// per name and run in parallel across names.
type Manager struct {
	registry    registry.Client
	loader      Loader
	cache       *PredictionCache
	logger      logger.Logger
	drainWindow time.Duration

	current atomic.Pointer[map[string]*ModelHandle]

	mu          sync.Mutex
	inflight    map[nameVersion]*loadTask
	tokens      map[string]*sync.Mutex
	draining    map[nameVersion]*ModelHandle
	drainTimers map[nameVersion]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(reg registry.Client, loader Loader, cache *PredictionCache, drainWindow time.Duration, log logger.Logger) *Manager {
	if drainWindow < 0 {
		drainWindow = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		registry:    reg,
		loader:      loader,
		cache:       cache,
		logger:      log,
		drainWindow: drainWindow,
		inflight:    make(map[nameVersion]*loadTask),
		tokens:      make(map[string]*sync.Mutex),
		draining:    make(map[nameVersion]*ModelHandle),
		drainTimers: make(map[nameVersion]*time.Timer),
		ctx:         ctx,
		cancel:      cancel,
	}
	empty := make(map[string]*ModelHandle)
	m.current.Store(&empty)
	return m
}

// Current returns the published handle for name, or nil. Wait-free.
func (m *Manager) Current(name string) *ModelHandle {
	snap := m.current.Load()
	return (*snap)[name]
}

// Handle resolves a specific version: the current handle if it matches, else
// a retired handle still inside its drain window. Nil when neither exists.
func (m *Manager) Handle(name, version string) *ModelHandle {
	if h := m.Current(name); h != nil && h.Version == version {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining[nameVersion{name, version}]
}

// Models lists the current handles sorted by name.
func (m *Manager) Models() []models.ModelSummary {
	snap := m.current.Load()
	out := make([]models.ModelSummary, 0, len(*snap))
	for _, h := range *snap {
		out = append(out, h.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) LoadedCount() int {
	snap := m.current.Load()
	return len(*snap)
}

func (m *Manager) DrainingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.draining)
}

// SubmitLoad registers a load intent for (name, version). Idempotent: an
// already-current version completes immediately, an in-flight load is
// joined, and a version still draining is republished without
// re-instantiating it.
func (m *Manager) SubmitLoad(name, version string) *LoadFuture {
	key := nameVersion{name, version}

	m.mu.Lock()
	snap := m.current.Load()
	if h := (*snap)[name]; h != nil && h.Version == version {
		m.mu.Unlock()
		return &LoadFuture{task: completedTask(h, nil)}
	}
	if t, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		return &LoadFuture{task: t}
	}
	task := newLoadTask()
	m.inflight[key] = task
	drained := m.draining[key]
	m.mu.Unlock()

	m.wg.Add(1)
	if drained != nil {
		go m.runRepublish(key, task, drained)
	} else {
		go m.runLoad(key, task)
	}
	return &LoadFuture{task: task}
}

// runRepublish rolls a drained handle back to current. The handle was never
// released, so no second instance of (name, version) is created.
func (m *Manager) runRepublish(key nameVersion, task *loadTask, h *ModelHandle) {
	defer m.wg.Done()

	token := m.nameToken(key.name)
	token.Lock()
	defer token.Unlock()

	start := time.Now()
	m.publish(h)
	metrics.RecordModelLoad(key.name, key.version, true, time.Since(start).Seconds())
	m.logger.Info("republished draining model", "model", key.name, "version", key.version)
	m.finish(key, task, h, nil)
}

func (m *Manager) runLoad(key nameVersion, task *loadTask) {
	defer m.wg.Done()

	token := m.nameToken(key.name)
	token.Lock()
	defer token.Unlock()

	// The previous token holder may have published exactly this version.
	if h := m.Current(key.name); h != nil && h.Version == key.version {
		m.finish(key, task, h, nil)
		return
	}

	start := time.Now()
	handle, err := m.executeLoad(key)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordModelLoad(key.name, key.version, false, elapsed.Seconds())
		m.logger.Error("model load failed",
			"model", key.name, "version", key.version, "elapsed", elapsed.String(), "error", err)
		m.finish(key, task, nil, err)
		return
	}

	m.publish(handle)
	metrics.RecordModelLoad(key.name, key.version, true, elapsed.Seconds())
	m.logger.Info("model published",
		"model", key.name, "version", key.version, "stage", handle.Stage, "elapsed", elapsed.String())
	m.finish(key, task, handle, nil)
}

// executeLoad runs fetch and materialization. Loads observe only the
// manager's lifetime, never a request deadline.
func (m *Manager) executeLoad(key nameVersion) (*ModelHandle, error) {
	bundle, err := m.registry.FetchArtifact(m.ctx, key.name, key.version)
	if err != nil {
		return nil, &models.LoadError{Name: key.name, Version: key.version, Step: "fetch", Err: err}
	}
	return m.loader.Load(bundle, m.lookupStage(key.name, key.version))
}

// lookupStage enriches the handle with the registry's stage label. Failure
// degrades to "none"; it never fails the load.
func (m *Manager) lookupStage(name, version string) string {
	versions, err := m.registry.ListVersions(m.ctx, name)
	if err != nil {
		return registry.StageNone
	}
	for _, v := range versions {
		if v.Version == version {
			return v.Stage
		}
	}
	return registry.StageNone
}

// publish swaps the handle in as current, retires the one it replaces into
// the draining set, and then invalidates the prediction cache for the name.
func (m *Manager) publish(h *ModelHandle) {
	m.mu.Lock()
	snap := m.current.Load()
	old := (*snap)[h.Name]

	next := make(map[string]*ModelHandle, len(*snap)+1)
	for k, v := range *snap {
		next[k] = v
	}
	next[h.Name] = h
	m.current.Store(&next)

	// If this handle was itself draining (a rollback), it is current again.
	key := nameVersion{h.Name, h.Version}
	if timer, ok := m.drainTimers[key]; ok {
		timer.Stop()
		delete(m.drainTimers, key)
	}
	delete(m.draining, key)

	if old != nil && old != h {
		oldKey := nameVersion{old.Name, old.Version}
		m.draining[oldKey] = old
		m.drainTimers[oldKey] = time.AfterFunc(m.drainWindow, func() {
			m.mu.Lock()
			delete(m.draining, oldKey)
			delete(m.drainTimers, oldKey)
			m.mu.Unlock()
		})
	}
	m.mu.Unlock()

	if m.cache != nil {
		if n := m.cache.InvalidateModel(h.Name); n > 0 {
			m.logger.Debug("invalidated prediction cache after swap", "model", h.Name, "entries", n)
		}
	}
}

func (m *Manager) finish(key nameVersion, task *loadTask, h *ModelHandle, err error) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
	task.complete(h, err)
}

func (m *Manager) nameToken(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[name]
	if !ok {
		token = &sync.Mutex{}
		m.tokens[name] = token
	}
	return token
}

// ResolveRef maps a preload or reload reference to a concrete version: a
// numeric ref is used as-is, anything else resolves as a registry alias with
// a fallback to the highest production-stage version for "production".
func (m *Manager) ResolveRef(ctx context.Context, name, ref string) (string, error) {
	if ref == "" {
		ref = registry.StageProduction
	}
	if _, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return ref, nil
	}
	v, err := m.registry.ResolveAlias(ctx, name, ref)
	if err == nil {
		return v.Version, nil
	}
	if errors.Is(err, registry.ErrNotFound) && ref == registry.StageProduction {
		versions, lerr := m.registry.ListVersions(ctx, name)
		if lerr != nil {
			return "", lerr
		}
		if best, ok := registry.HighestProduction(versions); ok {
			return best.Version, nil
		}
		return "", fmt.Errorf("model %s has no production version", name)
	}
	return "", err
}

// Preload resolves and submits the configured models, then waits for the
// loads until ctx expires. Failures are logged and left to the poller to
// retry; they do not stop the server from starting.
func (m *Manager) Preload(ctx context.Context, entries []config.PreloadEntry) {
	futures := make(map[nameVersion]*LoadFuture, len(entries))
	for _, e := range entries {
		version, err := m.ResolveRef(ctx, e.Name, e.Ref)
		if err != nil {
			m.logger.Error("preload resolution failed", "model", e.Name, "ref", e.Ref, "error", err)
			continue
		}
		futures[nameVersion{e.Name, version}] = m.SubmitLoad(e.Name, version)
	}
	for key, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			m.logger.Error("preload incomplete", "model", key.name, "version", key.version, "error", err)
		}
	}
}

// Close aborts outstanding loads and waits for their goroutines. Published
// handles stay readable; in-flight requests already hold their references.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	m.mu.Lock()
	for key, timer := range m.drainTimers {
		timer.Stop()
		delete(m.drainTimers, key)
	}
	m.mu.Unlock()
}
