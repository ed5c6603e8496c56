package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

type fakeReg struct {
	mu    sync.Mutex
	infos map[regtypes.ServiceID]regtypes.Info
	state map[regtypes.ServiceID]regtypes.State
}

func newFakeReg() *fakeReg {
	return &fakeReg{infos: make(map[regtypes.ServiceID]regtypes.Info), state: make(map[regtypes.ServiceID]regtypes.State)}
}

func (f *fakeReg) ListAll() []regtypes.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]regtypes.Info, 0, len(f.infos))
	for _, i := range f.infos {
		i.State = f.state[i.ID]
		out = append(out, i)
	}
	return out
}

func (f *fakeReg) ForceState(id regtypes.ServiceID, next regtypes.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[id] = next
	return nil
}

func (f *fakeReg) set(id regtypes.ServiceID, lastHeartbeat int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[id] = regtypes.Info{ID: id, LastHeartbeat: lastHeartbeat}
	f.state[id] = regtypes.StateRunning
}

type fakeBus struct {
	mu    sync.Mutex
	posts int
}

func (f *fakeBus) Post(regtypes.ServiceID, eventtype.ID, []byte, bustypes.Priority) error {
	f.mu.Lock()
	f.posts++
	f.mu.Unlock()
	return nil
}

func TestScanForcesErrorOnStaleHeartbeat(t *testing.T) {
	reg := newFakeReg()
	reg.set(1, time.Now().Add(-time.Hour).UnixMilli())

	types := eventtype.New(8)
	w := New(reg, types, &fakeBus{})
	w.Configure(1, Config{Timeout: time.Millisecond})

	w.scan()

	reg.mu.Lock()
	state := reg.state[1]
	reg.mu.Unlock()
	assert.Equal(t, regtypes.StateError, state)
}

func TestAutoRestartInvokesHook(t *testing.T) {
	reg := newFakeReg()
	reg.set(1, time.Now().Add(-time.Hour).UnixMilli())

	types := eventtype.New(8)
	w := New(reg, types, &fakeBus{})
	w.Configure(1, Config{Timeout: time.Millisecond, AutoRestart: true, MaxRestartAttempts: 3})

	var restarted regtypes.ServiceID
	w.OnRestart(func(service regtypes.ServiceID) error {
		restarted = service
		return nil
	})

	w.scan()
	assert.Equal(t, regtypes.ServiceID(1), restarted)
}

func TestCriticalEscalationPostsEvent(t *testing.T) {
	reg := newFakeReg()
	reg.set(1, time.Now().Add(-time.Hour).UnixMilli())

	types := eventtype.New(8)
	bus := &fakeBus{}
	w := New(reg, types, bus)
	w.Configure(1, Config{Timeout: time.Millisecond, IsCritical: true})

	w.scan()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, 1, bus.posts)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	reg := newFakeReg()
	reg.set(1, time.Now().Add(-time.Hour).UnixMilli())

	types := eventtype.New(8)
	bus := &fakeBus{}
	w := New(reg, types, bus)
	w.Configure(1, Config{Timeout: time.Millisecond, AutoRestart: true, MaxRestartAttempts: 1, IsCritical: true})

	attempts := 0
	w.OnRestart(func(regtypes.ServiceID) error {
		attempts++
		return assertErr
	})

	cfg := w.configs[1]
	w.handleTimeout(1, cfg)
	reg.state[1] = regtypes.StateRunning // simulate the service still reporting RUNNING
	w.handleTimeout(1, cfg)

	assert.Equal(t, 1, attempts)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, 2, bus.posts)
}

var assertErr = assertError("restart failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestStartStop(t *testing.T) {
	reg := newFakeReg()
	types := eventtype.New(8)
	w := New(reg, types, &fakeBus{})
	require.NoError(t, w.Start(10*time.Millisecond))
	w.Stop()
}
