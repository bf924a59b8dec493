// Package builder wires health checking, the status controller, generation
// sessions and artifact assembly into the operations a front end calls.
package builder

import (
	"context"
	"sync"

	"github.com/alantheprice/webforge/pkg/artifact"
	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/health"
	"github.com/alantheprice/webforge/pkg/models"
	"github.com/alantheprice/webforge/pkg/status"
	"github.com/alantheprice/webforge/pkg/utils"
)

// Options configures a Builder. Only APIURL and Transport are required.
type Options struct {
	// APIURL is the backend base URL the health check runs against.
	APIURL    string
	Transport generation.Transport
	Monitor   *health.Monitor
	Registry  *models.Registry
	Bus       *events.EventBus
	Logger    *utils.Logger
}

// Builder is the caller context for one user: one status, one artifact and at
// most one running generation.
type Builder struct {
	apiURL   string
	monitor  *health.Monitor
	registry *models.Registry
	bus      *events.EventBus
	logger   *utils.Logger

	controller *status.Controller
	manager    *generation.Manager

	mu sync.Mutex
	// seq counts Generate calls; a session only owns the controller
	// while its number is the latest.
	seq      int
	current  artifact.Artifact
	previous artifact.Artifact
	entries  []models.Entry
}

// New creates a builder in the initializing state. Call Init before Generate.
func New(opts Options) *Builder {
	if opts.Monitor == nil {
		opts.Monitor = health.NewMonitor(health.DefaultTimeout)
	}
	if opts.Registry == nil {
		opts.Registry = models.NewRegistry(nil, "")
	}
	return &Builder{
		apiURL:     opts.APIURL,
		monitor:    opts.Monitor,
		registry:   opts.Registry,
		bus:        opts.Bus,
		logger:     opts.Logger,
		controller: status.NewController(opts.Bus, opts.Logger),
		manager:    generation.NewManager(opts.Transport, opts.Logger),
	}
}

// Controller exposes the status controller for read access.
func (b *Builder) Controller() *status.Controller { return b.controller }

// State returns the controller's current state.
func (b *Builder) State() status.State { return b.controller.State() }

// Registry returns the configured model registry.
func (b *Builder) Registry() *models.Registry { return b.registry }

// Init runs the health check and reconciles the model registry with it.
func (b *Builder) Init(ctx context.Context) error {
	snap, err := b.monitor.CheckHealth(ctx, b.apiURL)
	if err != nil {
		b.mu.Lock()
		b.entries = b.registry.Reconcile(nil)
		b.mu.Unlock()
		b.controller.HealthFailed(err)
		return err
	}

	entries := b.registry.Reconcile(snap.Availability())
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()

	available := 0
	for _, e := range entries {
		if e.Available {
			available++
		}
	}
	b.bus.Publish(events.EventTypeHealthChecked,
		events.HealthCheckedEvent(string(snap.Status), snap.BackendURL, available, len(entries)))
	b.controller.HealthSucceeded(snap)
	return nil
}

// Refresh leaves any state for initializing and re-runs Init.
func (b *Builder) Refresh(ctx context.Context) error {
	b.controller.Retry()
	return b.Init(ctx)
}

// Entries returns the registry reconciled against the last health check.
func (b *Builder) Entries() []models.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Generate starts a generation for req. An invalid request is rejected with a
// validation error before any network call. A generation already in flight is
// cancelled first; its remaining events are discarded.
func (b *Builder) Generate(ctx context.Context, req generation.Request) (*generation.Session, error) {
	if err := req.Validate(); err != nil {
		b.controller.Notify(events.LevelWarning, utils.UserMessage(err))
		return nil, err
	}

	b.mu.Lock()
	b.seq++
	gen := b.seq
	b.mu.Unlock()

	// No earlier session runs past Cancel. A loading status left by one that
	// ended through its context is cleared here; its watcher no longer owns
	// the controller.
	b.manager.Cancel()
	b.controller.GenerationCancelled()
	if err := b.controller.BeginGeneration(req); err != nil {
		return nil, err
	}
	b.resetArtifact()

	// The handler may run before Start returns; it waits for the session id.
	started := make(chan struct{})
	var session *generation.Session
	handler := func(ev generation.Event) {
		<-started
		b.handle(session.ID(), ev)
	}

	session, err := b.manager.Start(ctx, req, handler)
	close(started)
	if err != nil {
		b.controller.Fail(err)
		return nil, err
	}

	go b.watch(session, gen)
	return session, nil
}

// watch returns the controller to ready when a session ends silently because
// its context was cancelled rather than through Cancel or a newer Generate.
func (b *Builder) watch(s *generation.Session, gen int) {
	if s.Wait() != generation.ReasonCancelled {
		return
	}
	// Held across the check so a concurrent Generate cannot begin in between.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq == gen {
		b.controller.GenerationCancelled()
	}
}

func (b *Builder) handle(sessionID string, ev generation.Event) {
	switch e := ev.(type) {
	case generation.StatusEvent:
		b.controller.HandleEvent(e)
		b.bus.Publish(events.EventTypeGenerationStatus, events.GenerationStatusEvent(sessionID, e.Message))
	case generation.CompleteEvent:
		a, err := artifact.Assemble(e)
		if err != nil {
			b.controller.HandleEvent(generation.ErrorEvent{Err: err})
			return
		}
		b.setArtifact(a)
		b.controller.HandleEvent(e)
	case generation.ErrorEvent:
		b.controller.HandleEvent(e)
	}
}

// Cancel stops the running generation, if any, without surfacing an error.
// It reports whether a generation was running.
func (b *Builder) Cancel() bool {
	if !b.manager.Cancel() {
		return false
	}
	b.controller.GenerationCancelled()
	return true
}

// Artifact returns the current artifact; it is empty until a generation completes.
func (b *Builder) Artifact() artifact.Artifact {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Previous returns the last non-empty artifact replaced by a newer generation.
func (b *Builder) Previous() artifact.Artifact {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.previous
}

func (b *Builder) resetArtifact() {
	b.mu.Lock()
	if !b.current.IsEmpty() {
		b.previous = b.current
	}
	b.current = artifact.Artifact{}
	b.mu.Unlock()
	b.bus.Publish(events.EventTypeArtifactUpdated, events.ArtifactUpdatedEvent("", ""))
}

func (b *Builder) setArtifact(a artifact.Artifact) {
	b.mu.Lock()
	b.current = a
	b.mu.Unlock()
	b.bus.Publish(events.EventTypeArtifactUpdated, events.ArtifactUpdatedEvent(string(a.Kind), a.Document))
}
