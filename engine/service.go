package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/memory"
	"github.com/becomeliminal/avadhan/summarize"
)

// Service is the per-project single-writer boundary around Engine values.
// Calls against one project are serialized; different projects run in parallel.
type Service struct {
	mu       sync.RWMutex
	projects map[string]*project

	recaller   *memory.Recaller
	summarizer summarize.Summarizer
	archive    *lru.Cache[string, Snapshot]
	listeners  []Listener
	engineOpts []Option
}

type project struct {
	mu      sync.Mutex
	engine  Engine
	removed bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecaller indexes consolidated gists for free-text search.
func WithRecaller(r *memory.Recaller) ServiceOption {
	return func(s *Service) {
		s.recaller = r
	}
}

// WithSummarizer sets how SummarizeGist labels gists.
func WithSummarizer(sum summarize.Summarizer) ServiceOption {
	return func(s *Service) {
		s.summarizer = sum
	}
}

// WithListener registers l on every engine the service creates or imports.
func WithListener(l Listener) ServiceOption {
	return func(s *Service) {
		s.listeners = append(s.listeners, l)
	}
}

// WithEngineOptions passes options to every engine the service creates.
func WithEngineOptions(opts ...Option) ServiceOption {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithArchiveSize sets how many removed projects keep their final snapshot.
func WithArchiveSize(n int) ServiceOption {
	return func(s *Service) {
		if n <= 0 {
			s.archive = nil
			return
		}
		cache, err := lru.New[string, Snapshot](n)
		if err != nil {
			log.Printf("[SERVICE] Archive disabled: %v", err)
			return
		}
		s.archive = cache
	}
}

// NewService creates an empty service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		projects:   make(map[string]*project),
		summarizer: summarize.Template{},
	}
	WithArchiveSize(32)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) attach(e Engine) Engine {
	for _, l := range s.listeners {
		e = e.AddEventListener(l)
	}
	return e
}

func (s *Service) register(e Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[e.ProjectID]; ok {
		return fmt.Errorf("register %s: %w", e.ProjectID, core.ErrProjectExists)
	}
	s.projects[e.ProjectID] = &project{engine: e}
	return nil
}

// CreateEngine starts an idle session for projectID.
func (s *Service) CreateEngine(projectID string, cfg core.Config) (State, error) {
	e, err := New(projectID, cfg, s.engineOpts...)
	if err != nil {
		return State{}, err
	}
	e = s.attach(e)
	if err := s.register(e); err != nil {
		return State{}, err
	}
	log.Printf("[SERVICE] Created project %s (%s, %d slots)", projectID, e.Config.Regime, e.Config.NumSlots)
	return e.GetEngineState(), nil
}

// ImportEngine registers an engine rebuilt from a snapshot and indexes its gists.
func (s *Service) ImportEngine(ctx context.Context, snap Snapshot) (State, error) {
	e, err := Import(snap, s.engineOpts...)
	if err != nil {
		return State{}, err
	}
	e = s.attach(e)
	if err := s.register(e); err != nil {
		return State{}, err
	}
	s.index(ctx, e.ProjectID, memory.New(), e.Memory)
	return e.GetEngineState(), nil
}

func (s *Service) lookup(projectID string) (*project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, core.ErrProjectNotFound)
	}
	return p, nil
}

// update runs fn under the project's lock and stores the engine it returns.
// Gists that appeared or expired are synced to the recaller.
func (s *Service) update(ctx context.Context, projectID string, fn func(Engine) (Engine, error)) (Engine, error) {
	p, err := s.lookup(projectID)
	if err != nil {
		return Engine{}, err
	}
	return s.apply(ctx, p, projectID, fn)
}

// apply is update on a project already looked up. A project removed in the
// meantime is reported as not found.
func (s *Service) apply(ctx context.Context, p *project, projectID string, fn func(Engine) (Engine, error)) (Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed {
		return Engine{}, fmt.Errorf("project %s: %w", projectID, core.ErrProjectNotFound)
	}

	before := p.engine
	after, err := fn(before)
	if err != nil {
		return before, err
	}
	p.engine = after
	s.index(ctx, projectID, before.Memory, after.Memory)
	return after, nil
}

func (s *Service) view(projectID string) (Engine, error) {
	p, err := s.lookup(projectID)
	if err != nil {
		return Engine{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed {
		return Engine{}, fmt.Errorf("project %s: %w", projectID, core.ErrProjectNotFound)
	}
	return p.engine, nil
}

// index records new episodic gists and forgets expired ones.
func (s *Service) index(ctx context.Context, projectID string, before, after memory.Hierarchy) {
	if s.recaller == nil {
		return
	}
	added, removed := diffGists(before.Episodic, after.Episodic)
	if err := s.recaller.Record(ctx, projectID, memory.TierEpisodic, added); err != nil {
		log.Printf("[SERVICE] Failed to index gists for %s: %v", projectID, err)
	}
	if err := s.recaller.Forget(ctx, projectID, memory.TierEpisodic, removed); err != nil {
		log.Printf("[SERVICE] Failed to forget gists for %s: %v", projectID, err)
	}
	if len(added) > 0 || len(removed) > 0 {
		log.Printf("[SERVICE] Project %s: indexed %d gists, forgot %d", projectID, len(added), len(removed))
	}

	newSemantic, _ := diffGists(before.Semantic, after.Semantic)
	if err := s.recaller.Record(ctx, projectID, memory.TierSemantic, newSemantic); err != nil {
		log.Printf("[SERVICE] Failed to index semantic gists for %s: %v", projectID, err)
	}
}

// diffGists returns the gists only in after and the ids only in before.
func diffGists(before, after []core.Gist) ([]core.Gist, []string) {
	seen := make(map[string]bool, len(before))
	for _, g := range before {
		seen[g.ID] = true
	}
	var added []core.Gist
	for _, g := range after {
		if !seen[g.ID] {
			added = append(added, g)
		}
		delete(seen, g.ID)
	}
	removed := make([]string, 0, len(seen))
	for id := range seen {
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return added, removed
}

// InitializeSlots seeds random slots for a project.
func (s *Service) InitializeSlots(ctx context.Context, projectID string, count int) (State, error) {
	e, err := s.update(ctx, projectID, func(e Engine) (Engine, error) {
		return e.InitializeSlots(count)
	})
	if err != nil {
		return State{}, err
	}
	return e.GetEngineState(), nil
}

// Ingest routes one text to a project's thread.
func (s *Service) Ingest(ctx context.Context, projectID, text, threadID string) (State, error) {
	e, err := s.update(ctx, projectID, func(e Engine) (Engine, error) {
		return e.Ingest(text, threadID)
	})
	if err != nil {
		return State{}, err
	}
	return e.GetEngineState(), nil
}

// TrainingStep runs one epoch and returns its metrics.
func (s *Service) TrainingStep(ctx context.Context, projectID string, batch []core.InputItem) (core.TrainingMetrics, error) {
	e, err := s.update(ctx, projectID, func(e Engine) (Engine, error) {
		return e.TrainingStep(batch)
	})
	if err != nil {
		return core.TrainingMetrics{}, err
	}
	return e.Metrics[len(e.Metrics)-1], nil
}

// StartTraining moves a project to training.
func (s *Service) StartTraining(projectID string) (core.Status, error) {
	return s.setStatus(projectID, Engine.StartTraining)
}

// PauseTraining moves a project to paused.
func (s *Service) PauseTraining(projectID string) (core.Status, error) {
	return s.setStatus(projectID, Engine.PauseTraining)
}

// StopTraining completes a project.
func (s *Service) StopTraining(projectID string) (core.Status, error) {
	return s.setStatus(projectID, Engine.StopTraining)
}

func (s *Service) setStatus(projectID string, fn func(Engine) (Engine, error)) (core.Status, error) {
	e, err := s.update(context.Background(), projectID, fn)
	return e.Status, err
}

// AddEventListener registers l on one project.
func (s *Service) AddEventListener(projectID string, l Listener) error {
	_, err := s.update(context.Background(), projectID, func(e Engine) (Engine, error) {
		return e.AddEventListener(l), nil
	})
	return err
}

// GetEngineState returns the redacted state of a project.
func (s *Service) GetEngineState(projectID string) (State, error) {
	e, err := s.view(projectID)
	if err != nil {
		return State{}, err
	}
	return e.GetEngineState(), nil
}

// ExportEngine returns a project's full snapshot.
func (s *Service) ExportEngine(projectID string) (Snapshot, error) {
	e, err := s.view(projectID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Export(), nil
}

// SearchMemory finds gists of a project by free text.
func (s *Service) SearchMemory(ctx context.Context, projectID, query string, limit int) ([]memory.Hit, error) {
	if _, err := s.lookup(projectID); err != nil {
		return nil, err
	}
	if s.recaller == nil {
		return nil, nil
	}
	return s.recaller.Search(ctx, projectID, query, limit)
}

// PromoteGist moves a gist to the semantic tier. The index follows through update.
func (s *Service) PromoteGist(ctx context.Context, projectID, gistID string) error {
	_, err := s.update(ctx, projectID, func(e Engine) (Engine, error) {
		return e.PromoteGist(gistID)
	})
	return err
}

// SummarizeGist replaces a gist's text with the summarizer's output.
func (s *Service) SummarizeGist(ctx context.Context, projectID, gistID string) (string, error) {
	var summary string
	_, err := s.update(ctx, projectID, func(e Engine) (Engine, error) {
		g, tier, ok := memory.Find(e.Memory, gistID)
		if !ok {
			return e, fmt.Errorf("summarize gist %s: %w", gistID, core.ErrGistNotFound)
		}
		text, err := s.summarizer.Summarize(ctx, g)
		if err != nil {
			return e, err
		}
		next, err := e.RelabelGist(gistID, text)
		if err != nil {
			return e, err
		}
		if s.recaller != nil {
			g.Text = text
			if err := s.recaller.Move(ctx, projectID, tier, tier, g); err != nil {
				log.Printf("[SERVICE] Failed to reindex gist %s: %v", gistID, err)
			}
		}
		summary = text
		return next, nil
	})
	return summary, err
}

// RemoveEngine drops a project, keeping its final snapshot in the archive.
func (s *Service) RemoveEngine(ctx context.Context, projectID string) (Snapshot, error) {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if ok {
		delete(s.projects, projectID)
	}
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("remove %s: %w", projectID, core.ErrProjectNotFound)
	}

	p.mu.Lock()
	p.removed = true
	snap := p.engine.Export()
	p.mu.Unlock()

	if s.archive != nil {
		s.archive.Add(projectID, snap)
	}
	if s.recaller != nil {
		if err := s.recaller.Forget(ctx, projectID, memory.TierEpisodic, gistIDs(snap.Memory.Episodic)); err != nil {
			log.Printf("[SERVICE] Failed to forget episodic gists for %s: %v", projectID, err)
		}
		if err := s.recaller.Forget(ctx, projectID, memory.TierSemantic, gistIDs(snap.Memory.Semantic)); err != nil {
			log.Printf("[SERVICE] Failed to forget semantic gists for %s: %v", projectID, err)
		}
	}
	log.Printf("[SERVICE] Removed project %s at epoch %d", projectID, snap.CurrentEpoch)
	return snap, nil
}

// Archived returns the final snapshot of a removed project.
func (s *Service) Archived(projectID string) (Snapshot, bool) {
	if s.archive == nil {
		return Snapshot{}, false
	}
	return s.archive.Get(projectID)
}

// Projects lists live project ids in order.
func (s *Service) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func gistIDs(gists []core.Gist) []string {
	ids := make([]string, len(gists))
	for i, g := range gists {
		ids[i] = g.ID
	}
	return ids
}
