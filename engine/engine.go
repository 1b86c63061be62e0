// Package engine orchestrates the encoder, slot manager, controller and
// memory hierarchy into per-project sessions.
//
// An Engine is a value. Every operation returns a new Engine and leaves the
// receiver untouched, so callers must serialize mutating calls per project
// (see Service) and may read old values freely.
package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/becomeliminal/avadhan/controller"
	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/encoder"
	"github.com/becomeliminal/avadhan/memory"
	"github.com/becomeliminal/avadhan/slots"
	"gonum.org/v1/gonum/stat"
)

// excerptLength bounds the text kept on slot metadata.
const excerptLength = 80

// Engine is one project's training session.
type Engine struct {
	ProjectID   string
	Config      core.Config
	Status      core.Status
	SlotManager slots.State
	Controller  controller.State
	Memory      memory.Hierarchy
	Metrics     []core.TrainingMetrics
	Epoch       int

	listeners []Listener
	rt        *runtime
}

// runtime holds the collaborators shared by every value derived from one New call.
type runtime struct {
	clock   func() time.Time
	encoder *encoder.Encoder
	rewards RewardProvider
	metrics MetricsProvider
	gistTTL time.Duration
	seed    *uint64
}

// Option configures an engine.
type Option func(*runtime)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(rt *runtime) {
		rt.clock = clock
	}
}

// WithEncoder sets the text encoder. Its dimension must match the config.
func WithEncoder(enc *encoder.Encoder) Option {
	return func(rt *runtime) {
		rt.encoder = enc
	}
}

// WithRewards sets the per-slot reward source used by TrainingStep.
func WithRewards(r RewardProvider) Option {
	return func(rt *runtime) {
		rt.rewards = r
	}
}

// WithMetrics sets the per-epoch metrics provider.
func WithMetrics(m MetricsProvider) Option {
	return func(rt *runtime) {
		rt.metrics = m
	}
}

// WithGistTTL gives consolidated gists a time to live. Zero keeps them forever.
func WithGistTTL(ttl time.Duration) Option {
	return func(rt *runtime) {
		rt.gistTTL = ttl
	}
}

// WithSeed seeds the default encoder noise and reward source.
func WithSeed(seed uint64) Option {
	return func(rt *runtime) {
		rt.seed = &seed
	}
}

func newRuntime(cfg core.Config, opts []Option) *runtime {
	rt := &runtime{clock: time.Now}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.encoder == nil {
		var encOpts []encoder.Option
		if rt.seed != nil {
			encOpts = append(encOpts, encoder.WithSeed(*rt.seed))
		}
		rt.encoder = encoder.New(cfg.EncoderDim, encOpts...)
	}
	if rt.rewards == nil {
		seed := uint64(time.Now().UnixNano())
		if rt.seed != nil {
			seed = *rt.seed
		}
		rt.rewards = NewRandomRewards(seed)
	}
	if rt.metrics == nil {
		rt.metrics = HeuristicMetrics{}
	}
	return rt
}

// New creates an idle engine. Zero-valued tunables are filled from the regime preset.
func New(projectID string, cfg core.Config, opts ...Option) (Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Engine{}, fmt.Errorf("create engine %s: %w", projectID, err)
	}
	rt := newRuntime(cfg, opts)
	if rt.encoder.Dimensions() != cfg.EncoderDim {
		return Engine{}, fmt.Errorf("create engine %s: encoder: %w (got %d, want %d)",
			projectID, core.ErrDimensionMismatch, rt.encoder.Dimensions(), cfg.EncoderDim)
	}
	if cfg.NumSlots > cfg.EncoderDim {
		log.Printf("[ENGINE] Project %s: %d slots exceed encoder dimension %d, orthogonality will be partial",
			projectID, cfg.NumSlots, cfg.EncoderDim)
	}

	return Engine{
		ProjectID:   projectID,
		Config:      cfg,
		Status:      core.StatusIdle,
		SlotManager: slots.New(cfg),
		Controller:  controller.New(),
		Memory:      memory.New(),
		Metrics:     []core.TrainingMetrics{},
		rt:          rt,
	}, nil
}

// Encoder returns the engine's text encoder.
func (e Engine) Encoder() *encoder.Encoder {
	return e.rt.encoder
}

func (e Engine) now() time.Time {
	return e.rt.clock()
}

// InitializeSlots seeds up to count slots with random vectors on threads
// "init-0", "init-1", ... and moves the engine to initializing.
// A non-positive count fills every slot.
func (e Engine) InitializeSlots(count int) (Engine, error) {
	switch e.Status {
	case core.StatusCompleted:
		return e, e.reject("initialize", core.ErrEngineCompleted)
	case core.StatusTraining, core.StatusPaused:
		return e, e.reject("initialize", fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, e.Status, core.StatusInitializing))
	}
	if count <= 0 || count > e.Config.NumSlots {
		count = e.Config.NumSlots
	}

	next := e
	now := e.now()
	state := e.SlotManager
	for i := 0; i < count; i++ {
		threadID := fmt.Sprintf("init-%d", i)
		res, err := slots.Ingest(state, e.rt.encoder.RandomVector(), threadID, e.Config, now)
		if err != nil {
			return e, fmt.Errorf("initialize slots: %w", err)
		}
		state = res.State
		if res.Evicted != nil {
			next.Memory = next.consolidate(next.Memory, *res.Evicted, now)
		}
		next.emit(core.EventSlotUpdate, core.SlotUpdate{
			ThreadID:  threadID,
			SlotID:    res.SlotID,
			SlotCount: len(state.Slots),
			Created:   res.Created,
		})
	}
	next.SlotManager = state
	next.Status = core.StatusInitializing
	return next, nil
}

// Ingest encodes text into the slot tracking threadID. A slot evicted to make
// room is consolidated into an episodic gist.
func (e Engine) Ingest(text, threadID string) (Engine, error) {
	if e.Status == core.StatusCompleted {
		return e, e.reject("ingest", core.ErrEngineCompleted)
	}
	now := e.now()
	res, err := slots.Ingest(e.SlotManager, e.rt.encoder.Encode(text), threadID, e.Config, now)
	if err != nil {
		return e, e.reject("ingest", err)
	}

	next := e
	next.SlotManager = slots.Annotate(res.State, res.SlotID, memory.Excerpt(text, excerptLength))

	if res.Evicted != nil {
		next.Memory = next.consolidate(next.Memory, *res.Evicted, now)
	}

	next.emit(core.EventSlotUpdate, core.SlotUpdate{
		ThreadID:  threadID,
		SlotID:    res.SlotID,
		SlotCount: len(next.SlotManager.Slots),
		Created:   res.Created,
	})
	return next, nil
}

// consolidate stores an evicted slot as an episodic gist and announces it.
func (e Engine) consolidate(h memory.Hierarchy, evicted core.Slot, now time.Time) memory.Hierarchy {
	gist := memory.ConsolidateSlotToGist(evicted, "Evicted: "+evicted.Metadata.ThreadID, now)
	gist.TTL = e.rt.gistTTL
	e.emit(core.EventConsolidation, core.Consolidation{
		SlotID:   evicted.ID,
		GistID:   gist.ID,
		ThreadID: evicted.Metadata.ThreadID,
	})
	return memory.StoreInEpisodic(h, gist)
}

// TrainingStep ingests the batch, recomputes attention, runs one controller
// step and records the epoch's metrics.
func (e Engine) TrainingStep(batch []core.InputItem) (Engine, error) {
	if e.Status == core.StatusCompleted {
		return e, e.reject("training step", core.ErrEngineCompleted)
	}

	next := e
	for _, item := range batch {
		var err error
		if next, err = next.Ingest(item.Text, item.ThreadID); err != nil {
			return e, fmt.Errorf("training step %d: %w", e.Epoch, err)
		}
	}

	now := next.now()
	current := next.SlotManager.Slots
	rewards := next.rt.rewards.Rewards(current)

	var attended []core.Slot
	if next.Config.EnergyConstraint {
		attended = slots.UpdateAttentionWeights(current, rewards, next.Config.AttentionBeta, next.Config.FatigueDecay, now)
	} else {
		attended = slots.UpdateAttentionScores(current, rewards, next.Config.AttentionBeta, next.Config.FatigueDecay, now)
	}
	next.SlotManager = slots.Reorthogonalize(slots.WithSlots(next.SlotManager, attended))

	ctrl, actions := controller.Step(next.Controller, next.SlotManager.Slots, next.Config, now)
	for _, action := range actions {
		next.emit(core.EventControllerAction, action)
	}
	if len(rewards) > 0 {
		ctrl = controller.Update(ctrl, weightedReward(next.SlotManager.Slots, rewards), next.Config.ControllerLR)
	}
	next.Controller = ctrl

	next.Memory = memory.ExpireGists(next.Memory, now)

	metrics := next.rt.metrics.Compute(next.SlotManager.Slots, next.Epoch, next.Config)
	next.emit(core.EventMetricUpdate, metrics)

	next.Metrics = append(append(make([]core.TrainingMetrics, 0, len(e.Metrics)+1), next.Metrics...), metrics)
	next.Epoch++
	return next, nil
}

// weightedReward is the priority-weighted mean of the rewards.
func weightedReward(held []core.Slot, rewards []float64) float64 {
	n := min(len(held), len(rewards))
	if n == 0 {
		return 0
	}
	weights := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		weights[i] = held[i].Priority
		total += weights[i]
	}
	if total <= 0 {
		return stat.Mean(rewards[:n], nil)
	}
	return stat.Mean(rewards[:n], weights)
}

// PromoteGist moves an episodic gist to the semantic tier.
func (e Engine) PromoteGist(gistID string) (Engine, error) {
	h, ok := memory.PromoteToSemantic(e.Memory, gistID)
	if !ok {
		return e, fmt.Errorf("promote gist %s: %w", gistID, core.ErrGistNotFound)
	}
	next := e
	next.Memory = h
	return next, nil
}

// RelabelGist replaces a stored gist's text.
func (e Engine) RelabelGist(gistID, text string) (Engine, error) {
	h, ok := memory.Relabel(e.Memory, gistID, text)
	if !ok {
		return e, fmt.Errorf("relabel gist %s: %w", gistID, core.ErrGistNotFound)
	}
	next := e
	next.Memory = h
	return next, nil
}

// RetrieveGist copies a stored gist into the memory hierarchy's working tier.
// The retrieved slot takes the manager's next index; the slots themselves are not touched.
func (e Engine) RetrieveGist(gistID string) (Engine, core.Slot, error) {
	h, slot, ok := memory.RetrieveToWorking(e.Memory, gistID, e.SlotManager.NextIndex, e.now())
	if !ok {
		return e, core.Slot{}, fmt.Errorf("retrieve gist %s: %w", gistID, core.ErrGistNotFound)
	}
	next := e
	next.Memory = h
	next.SlotManager.NextIndex++
	return next, slot, nil
}

// reject logs a refused operation and emits an error event.
func (e Engine) reject(op string, err error) error {
	log.Printf("[ENGINE] Project %s: %s rejected: %v", e.ProjectID, op, err)
	e.emit(core.EventError, core.ErrorEvent{Op: op, Message: err.Error()})
	return err
}
