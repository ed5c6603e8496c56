package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/eventtype"
	"github.com/edgebus/devicecore/monitor"
	"github.com/edgebus/devicecore/quota"
	regtypes "github.com/edgebus/devicecore/registry/types"
	"github.com/edgebus/devicecore/subscription"
)

func newTestBus(t *testing.T, queueSlots int) (*Bus, *eventtype.Registry) {
	t.Helper()
	types := eventtype.New(16)
	subs := subscription.New(16)
	qm := quota.NewManager()
	qm.Register(regtypes.ServiceID(1), regtypes.Limits{})
	mon := monitor.New(0, 0)
	return New(queueSlots, 512, types, subs, qm, mon), types
}

func TestPostRejectsUnknownType(t *testing.T) {
	b, _ := newTestBus(t, 4)
	err := b.Post(1, eventtype.ID(99), nil, bustypes.Normal)
	assert.ErrorIs(t, err, errs.ErrTypeNotFound)
}

func TestPostQueueFullOnHigh(t *testing.T) {
	b, types := newTestBus(t, 1)
	typ, _ := types.RegisterType("TICK")

	require.NoError(t, b.Post(1, typ, nil, bustypes.High))
	err := b.Post(1, typ, nil, bustypes.High)
	assert.ErrorIs(t, err, errs.ErrQueueFull)
}

func TestPostLowPriorityDropsSilently(t *testing.T) {
	b, types := newTestBus(t, 1)
	typ, _ := types.RegisterType("TICK")

	require.NoError(t, b.Post(1, typ, nil, bustypes.Low))
	err := b.Post(1, typ, nil, bustypes.Low)
	assert.NoError(t, err)
	assert.Equal(t, 1, b.Depths()["LOW"])
}

func TestDispatchDeliversInPriorityOrder(t *testing.T) {
	b, types := newTestBus(t, 8)
	typ, _ := types.RegisterType("TICK")

	var mu sync.Mutex
	var order []string

	require.NoError(t, b.Subscribe(1, typ, func(ev *bustypes.Event, _ any) {
		mu.Lock()
		order = append(order, ev.Priority.String())
		mu.Unlock()
	}, nil))

	require.NoError(t, b.Post(1, typ, nil, bustypes.Low))
	require.NoError(t, b.Post(1, typ, nil, bustypes.Normal))
	require.NoError(t, b.Post(1, typ, nil, bustypes.High))

	b.Start()
	defer b.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"HIGH", "NORMAL", "LOW"}, order)
}

func TestCriticalDispatchIsSynchronous(t *testing.T) {
	b, types := newTestBus(t, 4)
	typ, _ := types.RegisterType("ALERT")

	delivered := false
	require.NoError(t, b.Subscribe(1, typ, func(*bustypes.Event, any) {
		delivered = true
	}, nil))

	require.NoError(t, b.Post(1, typ, nil, bustypes.Critical))
	assert.True(t, delivered)
	assert.Equal(t, 0, b.Depths()["HIGH"])
}

func TestSubscribeUnknownTypeRejected(t *testing.T) {
	b, _ := newTestBus(t, 4)
	err := b.Subscribe(1, eventtype.ID(99), func(*bustypes.Event, any) {}, nil)
	assert.ErrorIs(t, err, errs.ErrTypeNotFound)
}

func TestPayloadIsCopiedNotAliased(t *testing.T) {
	b, types := newTestBus(t, 4)
	typ, _ := types.RegisterType("DATA")

	var seen []byte
	require.NoError(t, b.Subscribe(1, typ, func(ev *bustypes.Event, _ any) {
		seen = ev.Payload
	}, nil))

	payload := []byte{1, 2, 3}
	require.NoError(t, b.Post(1, typ, payload, bustypes.Critical))
	payload[0] = 0xFF

	assert.Equal(t, byte(1), seen[0])
}
