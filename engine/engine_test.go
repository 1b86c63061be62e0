package engine_test

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/engine"
	"github.com/becomeliminal/avadhan/slots"
)

const testDim = 64

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func testConfig() core.Config {
	cfg := core.DefaultConfig(core.RegimeAshta)
	cfg.EncoderDim = testDim
	return cfg
}

func newEngine(t *testing.T, cfg core.Config, opts ...engine.Option) engine.Engine {
	t.Helper()
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]engine.Option{engine.WithClock(clock.Now), engine.WithSeed(42)}, opts...)
	e, err := engine.New("proj", cfg, opts...)
	require.NoError(t, err)
	return e
}

type recorder struct {
	mu     sync.Mutex
	events []core.TrainingEvent
}

func (r *recorder) listen(ev core.TrainingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t core.EventType) []core.TrainingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.TrainingEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func batch(epoch int) []core.InputItem {
	items := make([]core.InputItem, 4)
	for i := range items {
		items[i] = core.InputItem{
			Text:     fmt.Sprintf("epoch %d message %d about topic %d", epoch, i, (epoch+i)%11),
			ThreadID: fmt.Sprintf("thread-%d", (epoch+i)%11),
		}
	}
	return items
}

func TestNew(t *testing.T) {
	e := newEngine(t, core.Config{Regime: core.RegimeAshta, EncoderDim: testDim})
	assert.Equal(t, core.StatusIdle, e.Status)
	assert.Equal(t, 8, e.Config.NumSlots)
	assert.Equal(t, 0.07, e.Config.ContrastiveTemp)
	assert.Empty(t, e.SlotManager.Slots)

	_, err := engine.New("bad", core.Config{Regime: "huge"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestInitializeSlots(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, testConfig()).AddEventListener(rec.listen)

	next, err := e.InitializeSlots(20)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInitializing, next.Status)
	assert.Len(t, next.SlotManager.Slots, 8, "count is clamped to capacity")
	assert.Len(t, rec.ofType(core.EventSlotUpdate), 8)
	assert.Empty(t, e.SlotManager.Slots, "receiver is unchanged")

	for i, s := range next.SlotManager.Slots {
		assert.Equal(t, fmt.Sprintf("init-%d", i), s.Metadata.ThreadID)
	}
}

func TestIngest_EvictionConsolidates(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, testConfig()).AddEventListener(rec.listen)

	var err error
	for i := 0; i < 9; i++ {
		e, err = e.Ingest(fmt.Sprintf("message for thread %d", i), fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}

	assert.Len(t, e.SlotManager.Slots, 8)
	require.Len(t, e.Memory.Episodic, 1)
	gist := e.Memory.Episodic[0]
	assert.Equal(t, "Evicted: t7", gist.Text)
	assert.Equal(t, "t7", gist.Provenance.ThreadID)
	assert.Equal(t, "message for thread 7", gist.Provenance.Excerpt)
	assert.InDelta(t, 1.0/8, gist.Confidence, 1e-12)

	consolidations := rec.ofType(core.EventConsolidation)
	require.Len(t, consolidations, 1)
	data := consolidations[0].Data.(core.Consolidation)
	assert.Equal(t, gist.ID, data.GistID)
	assert.Equal(t, "proj", consolidations[0].ProjectID)

	updates := rec.ofType(core.EventSlotUpdate)
	require.Len(t, updates, 9)
	assert.Equal(t, 8, updates[8].Data.(core.SlotUpdate).SlotCount)

	// consolidation is emitted before the slot update of the same ingestion
	last := rec.events[len(rec.events)-2:]
	assert.Equal(t, core.EventConsolidation, last[0].Type)
	assert.Equal(t, core.EventSlotUpdate, last[1].Type)
}

func TestInitializeSlots_ConsolidatesDisplacedSlots(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, testConfig()).AddEventListener(rec.listen)

	var err error
	for i := 0; i < 8; i++ {
		e, err = e.Ingest(fmt.Sprintf("user message %d", i), fmt.Sprintf("u%d", i))
		require.NoError(t, err)
	}
	require.Empty(t, e.Memory.Episodic)

	e, err = e.InitializeSlots(8)
	require.NoError(t, err)
	assert.Len(t, e.SlotManager.Slots, 8)

	held := make(map[string]bool)
	for _, s := range e.SlotManager.Slots {
		held[s.Metadata.ThreadID] = true
	}
	gists := make(map[string]bool)
	for _, g := range e.Memory.Episodic {
		gists[g.Text] = true
	}
	for i := 0; i < 8; i++ {
		thread := fmt.Sprintf("u%d", i)
		if !held[thread] {
			assert.True(t, gists["Evicted: "+thread], "thread %s left the slots without a gist", thread)
		}
	}
	assert.Len(t, e.Memory.Episodic, 8, "every seeded slot displaced one")
	assert.Len(t, rec.ofType(core.EventConsolidation), len(e.Memory.Episodic))
}

func TestIngest_DoesNotMutateReceiver(t *testing.T) {
	e := newEngine(t, testConfig())
	e1, err := e.Ingest("first", "a")
	require.NoError(t, err)
	before := append([]float64(nil), e1.SlotManager.Slots[0].StateVector...)

	e2, err := e1.Ingest("second text", "a")
	require.NoError(t, err)

	assert.Equal(t, before, e1.SlotManager.Slots[0].StateVector)
	assert.NotEqual(t, before, e2.SlotManager.Slots[0].StateVector)
	assert.Len(t, e2.SlotManager.Slots, 1)
	assert.Equal(t, "second text", e2.SlotManager.Slots[0].Metadata.Excerpt)
}

// Fifty epochs on an eight-slot engine keep the scheduled metrics monotone and bounded.
func TestTrainingStep_FiftyEpochs(t *testing.T) {
	e := newEngine(t, testConfig())
	e, err := e.StartTraining()
	require.NoError(t, err)

	for epoch := 0; epoch < 50; epoch++ {
		e, err = e.TrainingStep(batch(epoch))
		require.NoError(t, err)
	}

	require.Len(t, e.Metrics, 50)
	assert.Equal(t, 50, e.Epoch)
	for i, m := range e.Metrics {
		assert.Equal(t, i, m.Epoch)
		assert.LessOrEqual(t, m.RecallAccuracy, 0.95)
		assert.GreaterOrEqual(t, m.HallucinationRate, 0.01)
		assert.LessOrEqual(t, m.ThreadPurity, 0.98)
		if i > 0 {
			prev := e.Metrics[i-1]
			assert.GreaterOrEqual(t, m.RecallAccuracy, prev.RecallAccuracy)
			assert.LessOrEqual(t, m.HallucinationRate, prev.HallucinationRate)
		}
	}
	assert.InDelta(t, 0.95, e.Metrics[49].RecallAccuracy, 1e-12)
	assert.InDelta(t, 0.01, e.Metrics[49].HallucinationRate, 1e-12)
	assert.Len(t, e.SlotManager.Slots, 8)
	assert.NotEmpty(t, e.Memory.Episodic, "eleven threads through eight slots must evict")
}

func TestTrainingStep_Metrics(t *testing.T) {
	e := newEngine(t, testConfig())
	e, err := e.TrainingStep(batch(0))
	require.NoError(t, err)

	m := e.Metrics[0]
	assert.Equal(t, 0, m.Epoch)
	assert.InDelta(t, 2.0+m.OrthogonalityLoss, m.Loss, 1e-12)
	assert.InDelta(t, 1.2, m.GenerationLoss, 1e-12)
	assert.InDelta(t, 0.4, m.ContrastiveLoss, 1e-12)
	assert.InDelta(t, 0.2, m.VerifierLoss, 1e-12)
	assert.InDelta(t, 0.5, m.RecallAccuracy, 1e-12)
	assert.InDelta(t, 0.6, m.ThreadPurity, 1e-12)
	assert.InDelta(t, 0.2, m.HallucinationRate, 1e-12)
	assert.InDelta(t, 0.4, m.ComputeCost, 1e-12)
	assert.Less(t, m.InterferenceRate, 0.01)
}

func TestTrainingStep_EnergyConstraint(t *testing.T) {
	e := newEngine(t, testConfig())
	e, err := e.TrainingStep(batch(0))
	require.NoError(t, err)

	sum := 0.0
	for _, s := range e.SlotManager.Slots {
		sum += s.Priority
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, sum, e.Controller.EnergyUsed, 1e-9)

	cfg := testConfig()
	cfg.EnergyConstraint = false
	free := newEngine(t, cfg)
	free, err = free.TrainingStep(batch(0))
	require.NoError(t, err)
	maxPriority := 0.0
	for _, s := range free.SlotManager.Slots {
		maxPriority = math.Max(maxPriority, s.Priority)
	}
	assert.InDelta(t, 1.0, maxPriority, 1e-9)
}

func TestTrainingStep_RewardProvider(t *testing.T) {
	favorFirst := engine.RewardFunc(func(held []core.Slot) []float64 {
		out := make([]float64, len(held))
		if len(out) > 0 {
			out[0] = 5
		}
		return out
	})
	e := newEngine(t, testConfig(), engine.WithRewards(favorFirst))
	e, err := e.TrainingStep(batch(0))
	require.NoError(t, err)

	first := e.SlotManager.Slots[0]
	for _, s := range e.SlotManager.Slots[1:] {
		assert.Greater(t, first.Priority, s.Priority)
	}
	assert.Greater(t, e.Controller.Reward, 0.0)
	assert.Equal(t, e.Config.ControllerLR, e.Controller.LearningRate)
}

func TestTrainingStep_RewardsWithoutSlots(t *testing.T) {
	constant := engine.RewardFunc(func([]core.Slot) []float64 {
		return []float64{1, 1}
	})
	e := newEngine(t, testConfig(), engine.WithRewards(constant))
	e, err := e.TrainingStep(nil)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(e.Controller.Reward))
	assert.Zero(t, e.Controller.Reward)

	e, err = e.TrainingStep(batch(1))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(e.Controller.Reward))
	assert.Greater(t, e.Controller.Reward, 0.0)
}

func TestTrainingStep_ControllerEvents(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, testConfig()).AddEventListener(rec.listen)
	e, err := e.TrainingStep(batch(0))
	require.NoError(t, err)

	actions := rec.ofType(core.EventControllerAction)
	require.NotEmpty(t, actions)
	assert.Len(t, actions, len(e.Controller.ActionHistory))
	last := actions[len(actions)-1].Data.(core.ControllerAction)
	assert.Equal(t, core.ActionFocus, last.Type)
	assert.Len(t, rec.ofType(core.EventMetricUpdate), 1)
}

func TestContrastiveMetrics(t *testing.T) {
	e := newEngine(t, testConfig(), engine.WithMetrics(engine.ContrastiveMetrics{}))
	e, err := e.TrainingStep(batch(0))
	require.NoError(t, err)

	base := engine.HeuristicMetrics{}.Compute(e.SlotManager.Slots, 0, e.Config)
	got := e.Metrics[0]
	assert.NotEqual(t, base.ContrastiveLoss, got.ContrastiveLoss)
	assert.InDelta(t, base.Loss-base.ContrastiveLoss+got.ContrastiveLoss, got.Loss, 1e-9)
	assert.Equal(t, base.RecallAccuracy, got.RecallAccuracy)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []func(engine.Engine) (engine.Engine, error)
		want  core.Status
		err   error
	}{
		{"start from idle", []func(engine.Engine) (engine.Engine, error){engine.Engine.StartTraining}, core.StatusTraining, nil},
		{"pause from idle", []func(engine.Engine) (engine.Engine, error){engine.Engine.PauseTraining}, core.StatusIdle, core.ErrInvalidTransition},
		{"pause and resume", []func(engine.Engine) (engine.Engine, error){engine.Engine.StartTraining, engine.Engine.PauseTraining, engine.Engine.StartTraining}, core.StatusTraining, nil},
		{"start twice", []func(engine.Engine) (engine.Engine, error){engine.Engine.StartTraining, engine.Engine.StartTraining}, core.StatusTraining, core.ErrInvalidTransition},
		{"stop from idle", []func(engine.Engine) (engine.Engine, error){engine.Engine.StopTraining}, core.StatusCompleted, nil},
		{"start after stop", []func(engine.Engine) (engine.Engine, error){engine.Engine.StopTraining, engine.Engine.StartTraining}, core.StatusCompleted, core.ErrEngineCompleted},
		{"stop twice", []func(engine.Engine) (engine.Engine, error){engine.Engine.StopTraining, engine.Engine.StopTraining}, core.StatusCompleted, core.ErrEngineCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, testConfig())
			var err error
			for _, step := range tt.steps {
				e, err = step(e)
			}
			assert.Equal(t, tt.want, e.Status)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestCompletedEngineRejectsWork(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, testConfig()).AddEventListener(rec.listen)
	e, err := e.StopTraining()
	require.NoError(t, err)

	_, err = e.TrainingStep(batch(0))
	assert.ErrorIs(t, err, core.ErrEngineCompleted)
	_, err = e.Ingest("late", "x")
	assert.ErrorIs(t, err, core.ErrEngineCompleted)
	_, err = e.InitializeSlots(2)
	assert.ErrorIs(t, err, core.ErrEngineCompleted)

	errs := rec.ofType(core.EventError)
	require.Len(t, errs, 3)
	assert.Equal(t, "training step", errs[0].Data.(core.ErrorEvent).Op)
	assert.Equal(t, 0, e.Epoch)
}

func TestListenerPanicIsolation(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, testConfig()).
		AddEventListener(func(core.TrainingEvent) { panic("boom") }).
		AddEventListener(rec.listen)
	assert.Equal(t, 2, e.ListenerCount())

	next, err := e.TrainingStep(batch(0))
	require.NoError(t, err)
	assert.Equal(t, 1, next.Epoch)
	assert.Len(t, rec.ofType(core.EventMetricUpdate), 1)
	assert.Len(t, rec.ofType(core.EventSlotUpdate), 4)
}

func TestGetEngineState(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsHistoryLimit = 5
	e := newEngine(t, cfg)

	st := e.GetEngineState()
	assert.Nil(t, st.LatestMetrics)
	assert.Empty(t, st.MetricsHistory)

	var err error
	for i := 0; i < 7; i++ {
		e, err = e.TrainingStep(batch(i))
		require.NoError(t, err)
	}
	st = e.GetEngineState()
	assert.Equal(t, "proj", st.ProjectID)
	assert.Equal(t, 7, st.CurrentEpoch)
	require.Len(t, st.MetricsHistory, 5)
	assert.Equal(t, 2, st.MetricsHistory[0].Epoch)
	require.NotNil(t, st.LatestMetrics)
	assert.Equal(t, 6, st.LatestMetrics.Epoch)
	assert.Len(t, st.Slots.Slots, 8)
	for _, s := range st.Slots.Slots {
		assert.Equal(t, testDim, s.VectorDim)
	}
	assert.Equal(t, len(e.Memory.Episodic), st.Memory.EpisodicCount)
	assert.Equal(t, len(e.Controller.ActionHistory), st.Controller.TotalActions)
}

func TestExportImport(t *testing.T) {
	e := newEngine(t, testConfig())
	var err error
	for i := 0; i < 5; i++ {
		e, err = e.TrainingStep(batch(i))
		require.NoError(t, err)
	}
	snap := e.Export()
	require.Len(t, snap.Slots, 8)
	assert.Len(t, snap.Slots[0].StateVector, testDim)

	restored, err := engine.Import(snap, engine.WithSeed(1))
	require.NoError(t, err)
	assert.Equal(t, e.Epoch, restored.Epoch)
	assert.Equal(t, e.Status, restored.Status)
	assert.Equal(t, e.SlotManager.Slots, restored.SlotManager.Slots)
	assert.Equal(t, e.SlotManager.Threads, restored.SlotManager.Threads)
	assert.Equal(t, e.Memory, restored.Memory)
	assert.Equal(t, e.Metrics, restored.Metrics)

	// A known thread updates in place after import.
	thread := restored.SlotManager.Slots[0].Metadata.ThreadID
	next, err := restored.Ingest("more text", thread)
	require.NoError(t, err)
	assert.Len(t, next.SlotManager.Slots, 8)
	assert.Empty(t, next.Memory.Episodic[len(e.Memory.Episodic):])

	// Mutating the snapshot does not reach the engine.
	snap.Slots[0].StateVector[0] = 42
	assert.NotEqual(t, 42.0, e.SlotManager.Slots[0].StateVector[0])
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	e := newEngine(t, testConfig())
	e, err := e.Ingest("hello", "a")
	require.NoError(t, err)

	snap := e.Export()
	snap.Slots[0].StateVector = snap.Slots[0].StateVector[:10]
	_, err = engine.Import(snap)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	snap = e.Export()
	snap.Config.NumSlots = 0
	snap.Config.Regime = "nope"
	_, err = engine.Import(snap)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestGistOperations(t *testing.T) {
	e := newEngine(t, testConfig())
	var err error
	for i := 0; i < 9; i++ {
		e, err = e.Ingest(fmt.Sprintf("text %d", i), fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}
	gistID := e.Memory.Episodic[0].ID

	relabeled, err := e.RelabelGist(gistID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", relabeled.Memory.Episodic[0].Text)

	promoted, err := relabeled.PromoteGist(gistID)
	require.NoError(t, err)
	assert.Empty(t, promoted.Memory.Episodic)
	assert.Len(t, promoted.Memory.Semantic, 1)

	retrieved, slot, err := promoted.RetrieveGist(gistID)
	require.NoError(t, err)
	assert.Len(t, retrieved.Memory.Working, 1)
	assert.Equal(t, core.OriginSystem, slot.Metadata.Origin)
	assert.Len(t, retrieved.SlotManager.Slots, 8, "the slot manager is untouched")

	after, err := retrieved.Ingest("a fresh thread", "t-new")
	require.NoError(t, err)
	fresh, ok := slots.SlotForThread(after.SlotManager, "t-new")
	require.True(t, ok)
	assert.NotEqual(t, slot.Index, fresh.Index, "retrieved and ingested slots get distinct indices")

	_, err = e.PromoteGist("missing")
	assert.ErrorIs(t, err, core.ErrGistNotFound)
	_, _, err = e.RetrieveGist("missing")
	assert.ErrorIs(t, err, core.ErrGistNotFound)
}

func TestGistTTLExpiresOnTrainingStep(t *testing.T) {
	e := newEngine(t, testConfig(), engine.WithGistTTL(time.Second))
	var err error
	for i := 0; i < 9; i++ {
		e, err = e.Ingest(fmt.Sprintf("text %d", i), fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}
	require.Len(t, e.Memory.Episodic, 1)
	assert.Equal(t, time.Second, e.Memory.Episodic[0].TTL)

	e, err = e.TrainingStep(nil)
	require.NoError(t, err)
	assert.Empty(t, e.Memory.Episodic)
}
