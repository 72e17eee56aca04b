package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-org/drip/internal/backoff"
	"github.com/drip-org/drip/internal/clock"
	"github.com/drip-org/drip/internal/host"
	"github.com/drip-org/drip/internal/model"
)

type write struct {
	ref model.EntityRef
	on  bool
	at  time.Time
}

// fakeHost is an in-memory host.Client recording boolean writes with the
// fake clock's timestamps.
type fakeHost struct {
	mu        sync.Mutex
	clk       *clock.Fake
	states    map[model.EntityRef]bool
	writes    []write
	failWrite func(ref model.EntityRef, on bool) error
}

var _ host.Client = (*fakeHost)(nil)

func newFakeHost(clk *clock.Fake) *fakeHost {
	return &fakeHost{clk: clk, states: make(map[model.EntityRef]bool)}
}

func (f *fakeHost) ReadTimeOfDay(_ context.Context, _ model.EntityRef) (model.TimeOfDay, error) {
	return model.TimeOfDay{}, nil
}

func (f *fakeHost) ReadNumber(_ context.Context, _ model.EntityRef) (float64, error) {
	return 0, nil
}

func (f *fakeHost) ReadBool(_ context.Context, ref model.EntityRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[ref], nil
}

func (f *fakeHost) SetBool(_ context.Context, ref model.EntityRef, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		if err := f.failWrite(ref, on); err != nil {
			return err
		}
	}
	f.states[ref] = on
	f.writes = append(f.writes, write{ref: ref, on: on, at: f.clk.Now()})
	return nil
}

func (f *fakeHost) ListEntities(_ context.Context, _ string) ([]host.Entity, error) {
	return nil, nil
}

func (f *fakeHost) writeLog() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]write, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeHost) setState(ref model.EntityRef, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[ref] = on
}

func testSnapshot(t *testing.T) *model.Snapshot {
	t.Helper()
	snap, err := model.NewSnapshot(model.Config{
		Rooms: []model.Room{{ID: "veg", Name: "Veg Room", Enabled: true}},
		Pumps: []model.Pump{
			{ID: "p1", RoomID: "veg", Name: "Main Pump", Lock: "switch.pump_1", Enabled: true},
		},
		Zones: []model.Zone{
			{ID: "z1", PumpID: "p1", Name: "Bench A", Switch: "switch.zone_1", Enabled: true},
			{ID: "z2", PumpID: "p1", Name: "Bench B", Switch: "switch.zone_2", Enabled: true},
		},
	})
	require.NoError(t, err)
	return snap
}

type harness struct {
	reg  *Registry
	hc   *fakeHost
	clk  *clock.Fake
	snap *model.Snapshot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC))
	hc := newFakeHost(clk)
	snap := testSnapshot(t)

	reg := NewRegistry(hc, clk, func() *model.Snapshot { return snap }, nil)
	reg.Start(context.Background())
	t.Cleanup(func() {
		reg.Shutdown(context.Background(), time.Second)
	})
	return &harness{reg: reg, hc: hc, clk: clk, snap: snap}
}

func job(id, zoneID string, runSeconds int) model.Job {
	zoneSwitch := model.EntityRef("switch.zone_1")
	if zoneID == "z2" {
		zoneSwitch = "switch.zone_2"
	}
	return model.Job{
		ID:         id,
		PumpID:     "p1",
		ZoneID:     zoneID,
		ZoneName:   "Zone " + zoneID,
		Switch:     zoneSwitch,
		RunSeconds: runSeconds,
		Origin:     model.OriginScheduled,
	}
}

func waitForWrites(t *testing.T, hc *fakeHost, n int) []write {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(hc.writeLog()) >= n
	}, 2*time.Second, time.Millisecond)
	return hc.writeLog()
}

func waitForIdle(t *testing.T, reg *Registry, pumpID string) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st, _ = reg.Status(pumpID)
		return st.State == StateIdle
	}, 2*time.Second, time.Millisecond)
	return st
}

func TestActuationSequence(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.reg.Submit(context.Background(), job("j1", "z1", 10)))

	writes := waitForWrites(t, h.hc, 4)
	waitForIdle(t, h.reg, "p1")

	require.Len(t, writes, 4)
	assert.Equal(t, write{"switch.pump_1", true, writes[0].at}, writes[0])
	assert.Equal(t, write{"switch.zone_1", true, writes[1].at}, writes[1])
	assert.Equal(t, write{"switch.zone_1", false, writes[2].at}, writes[2])
	assert.Equal(t, write{"switch.pump_1", false, writes[3].at}, writes[3])

	// Startup delay between lock-on and zone-on, run time between zone-on
	// and zone-off, switch delay before lock-off.
	assert.Equal(t, 5*time.Second, writes[1].at.Sub(writes[0].at))
	assert.Equal(t, 10*time.Second, writes[2].at.Sub(writes[1].at))
	assert.Equal(t, 2*time.Second, writes[3].at.Sub(writes[2].at))

	st, ok := h.reg.Status("p1")
	require.True(t, ok)
	assert.Empty(t, st.LastError)
}

func TestJobsOnOnePumpAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.reg.Submit(ctx, job("j1", "z1", 10)))
	require.NoError(t, h.reg.Submit(ctx, job("j2", "z2", 20)))

	writes := waitForWrites(t, h.hc, 8)
	waitForIdle(t, h.reg, "p1")
	require.Len(t, writes, 8)

	wantRefs := []model.EntityRef{
		"switch.pump_1", "switch.zone_1", "switch.zone_1", "switch.pump_1",
		"switch.pump_1", "switch.zone_2", "switch.zone_2", "switch.pump_1",
	}
	for i, w := range writes {
		assert.Equal(t, wantRefs[i], w.ref, "write %d", i)
	}

	// The second job starts only after the first releases the lock.
	assert.False(t, writes[4].at.Before(writes[3].at))
}

func TestEmergencyStopInterruptsRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Hold the first job at its startup delay until both jobs are queued,
	// then stop the pump during the first job's watering run.
	ready := make(chan struct{})
	var gate, stop sync.Once
	h.clk.OnSleep = func(d time.Duration) {
		gate.Do(func() { <-ready })
		if d == 30*time.Second {
			stop.Do(func() { h.reg.CancelPump(ctx, "p1") })
		}
	}

	require.NoError(t, h.reg.Submit(ctx, job("j1", "z1", 30)))
	require.NoError(t, h.reg.Submit(ctx, job("j2", "z2", 30)))
	close(ready)

	writes := waitForWrites(t, h.hc, 4)
	st := waitForIdle(t, h.reg, "p1")

	// Only the first job ran, and its safety path still turned everything off.
	require.Len(t, writes, 4)
	assert.Equal(t, model.EntityRef("switch.zone_1"), writes[2].ref)
	assert.False(t, writes[2].on)
	assert.Equal(t, model.EntityRef("switch.pump_1"), writes[3].ref)
	assert.False(t, writes[3].on)

	assert.Equal(t, 0, st.QueueLen)
	assert.Empty(t, st.LastError)

	// The worker survives a stop and accepts new jobs.
	require.NoError(t, h.reg.Submit(ctx, job("j3", "z2", 10)))
	waitForWrites(t, h.hc, 8)
	waitForIdle(t, h.reg, "p1")
}

func TestStuckExternalLockForcedClear(t *testing.T) {
	h := newHarness(t)
	h.hc.setState("switch.pump_1", true) // held by someone else

	require.NoError(t, h.reg.Submit(context.Background(), job("j1", "z1", 10)))

	writes := waitForWrites(t, h.hc, 5)
	waitForIdle(t, h.reg, "p1")
	require.Len(t, writes, 5)

	// Force release first, then the normal sequence.
	assert.Equal(t, model.EntityRef("switch.pump_1"), writes[0].ref)
	assert.False(t, writes[0].on)
	assert.True(t, writes[1].on)

	// The executor polled every 5s until the stuck-lock timeout expired.
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(300*time.Second), writes[0].at)
}

func TestFailedLockReleaseRecoveredOnNextJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	failures := 0
	h.hc.failWrite = func(ref model.EntityRef, on bool) error {
		if ref == "switch.pump_1" && !on && failures == 0 {
			failures++
			return fmt.Errorf("host unreachable")
		}
		return nil
	}

	require.NoError(t, h.reg.Submit(ctx, job("j1", "z1", 10)))
	st := waitForIdle(t, h.reg, "p1")
	require.Eventually(t, func() bool {
		st, _ = h.reg.Status("p1")
		return st.LastError != ""
	}, 2*time.Second, time.Millisecond)
	assert.Contains(t, st.LastError, "pump lock off")

	// Next job sees the lock still on, recognizes its own residue, and
	// resets it without waiting out the stuck-lock timeout.
	require.NoError(t, h.reg.Submit(ctx, job("j2", "z2", 10)))
	writes := waitForWrites(t, h.hc, 8)
	st = waitForIdle(t, h.reg, "p1")
	assert.Empty(t, st.LastError)

	// Reset write, then the full second sequence.
	assert.Equal(t, model.EntityRef("switch.pump_1"), writes[3].ref)
	assert.False(t, writes[3].on)
	assert.Equal(t, model.EntityRef("switch.pump_1"), writes[4].ref)
	assert.True(t, writes[4].on)
}

func TestStopWhileIdleDoesNotAffectNextJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.reg.Submit(ctx, job("j1", "z1", 10)))
	waitForWrites(t, h.hc, 4)
	waitForIdle(t, h.reg, "p1")

	// A stop on an idle pump is a no-op and must not cancel jobs
	// submitted afterwards.
	require.True(t, h.reg.CancelPump(ctx, "p1"))

	require.NoError(t, h.reg.Submit(ctx, job("j2", "z2", 10)))
	writes := waitForWrites(t, h.hc, 8)
	st := waitForIdle(t, h.reg, "p1")

	require.Len(t, writes, 8)
	assert.Equal(t, model.EntityRef("switch.zone_2"), writes[5].ref)
	assert.True(t, writes[5].on)
	assert.Empty(t, st.LastError)
}

func TestTransientLockOnFailureRetriedInClient(t *testing.T) {
	type post struct {
		service string
		entity  string
	}
	var (
		mu         sync.Mutex
		posts      []post
		lockOnHits int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			id := r.URL.Path[len("/states/"):]
			_ = json.NewEncoder(w).Encode(map[string]any{"entity_id": id, "state": "off"})
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		service := r.URL.Path[len("/services/switch/"):]

		mu.Lock()
		posts = append(posts, post{service: service, entity: body["entity_id"]})
		failing := service == "turn_on" && body["entity_id"] == "switch.pump_1"
		if failing {
			lockOnHits++
			failing = lockOnHits <= 2
		}
		mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC))
	hc := host.New(srv.URL, "", host.WithRetryPolicy(&backoff.ConstantBackoffPolicy{
		Interval:   time.Millisecond,
		MaxRetries: 2,
	}))
	snap := testSnapshot(t)
	reg := NewRegistry(hc, clk, func() *model.Snapshot { return snap }, nil)
	reg.Start(context.Background())
	t.Cleanup(func() {
		reg.Shutdown(context.Background(), time.Second)
	})

	require.NoError(t, reg.Submit(context.Background(), job("j1", "z1", 10)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(posts) == 6
	}, 5*time.Second, time.Millisecond)
	st := waitForIdle(t, reg, "p1")
	assert.Empty(t, st.LastError, "the client's retries absorb the transient failures")

	mu.Lock()
	defer mu.Unlock()
	want := []post{
		{service: "turn_on", entity: "switch.pump_1"},
		{service: "turn_on", entity: "switch.pump_1"},
		{service: "turn_on", entity: "switch.pump_1"},
		{service: "turn_on", entity: "switch.zone_1"},
		{service: "turn_off", entity: "switch.zone_1"},
		{service: "turn_off", entity: "switch.pump_1"},
	}
	assert.Equal(t, want, posts)
}

func TestSubmitUnknownPump(t *testing.T) {
	h := newHarness(t)

	j := job("j1", "z1", 10)
	j.PumpID = "ghost"
	err := h.reg.Submit(context.Background(), j)
	require.ErrorIs(t, err, ErrUnknownPump)
}

func TestShutdownForceReleasesHeldLock(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC))
	hc := newFakeHost(clk)
	snap := testSnapshot(t)
	reg := NewRegistry(hc, clk, func() *model.Snapshot { return snap }, nil)
	reg.Start(context.Background())

	var releaseBlocked atomic.Bool
	releaseBlocked.Store(true)
	hc.failWrite = func(ref model.EntityRef, on bool) error {
		if ref == "switch.pump_1" && !on && releaseBlocked.Load() {
			return fmt.Errorf("host unreachable")
		}
		return nil
	}

	require.NoError(t, reg.Submit(context.Background(), job("j1", "z1", 10)))
	require.Eventually(t, func() bool {
		st, _ := reg.Status("p1")
		return st.State == StateIdle && st.LastError != ""
	}, 2*time.Second, time.Millisecond)

	// The release works again by shutdown time.
	releaseBlocked.Store(false)
	reg.Shutdown(context.Background(), time.Second)

	writes := hc.writeLog()
	last := writes[len(writes)-1]
	assert.Equal(t, model.EntityRef("switch.pump_1"), last.ref)
	assert.False(t, last.on)

	require.ErrorIs(t, reg.Submit(context.Background(), job("j2", "z2", 10)), ErrShuttingDown)
}
