package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/quota"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

func TestRegisterLifecycleAndUnregister(t *testing.T) {
	r := New(4, quota.NewManager())

	id, err := r.Register("sensor", nil)
	require.NoError(t, err)

	require.NoError(t, r.SetState(id, regtypes.StateRegistered))
	require.NoError(t, r.SetState(id, regtypes.StateRunning))

	info, err := r.GetInfo(id)
	require.NoError(t, err)
	assert.Equal(t, regtypes.StateRunning, info.State)
	assert.NotZero(t, info.LastHeartbeat)

	require.NoError(t, r.Unregister(id))
	_, err = r.GetInfo(id)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegisterDuplicateName(t *testing.T) {
	r := New(4, quota.NewManager())
	_, err := r.Register("sensor", nil)
	require.NoError(t, err)
	_, err = r.Register("sensor", nil)
	assert.ErrorIs(t, err, errs.ErrAlreadyRegistered)
}

func TestRegisterCapacityFull(t *testing.T) {
	r := New(1, quota.NewManager())
	_, err := r.Register("a", nil)
	require.NoError(t, err)
	_, err = r.Register("b", nil)
	assert.ErrorIs(t, err, errs.ErrRegistryFull)
}

func TestInvalidTransitionRejected(t *testing.T) {
	r := New(4, quota.NewManager())
	id, _ := r.Register("sensor", nil)
	err := r.SetState(id, regtypes.StateRunning)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestHeartbeatRequiresRunning(t *testing.T) {
	r := New(4, quota.NewManager())
	id, _ := r.Register("sensor", nil)
	require.NoError(t, r.SetState(id, regtypes.StateRegistered))
	assert.ErrorIs(t, r.Heartbeat(id), errs.ErrInvalidState)

	require.NoError(t, r.SetState(id, regtypes.StateRunning))
	assert.NoError(t, r.Heartbeat(id))
}

func TestForceStateAndRestartCount(t *testing.T) {
	r := New(4, quota.NewManager())
	id, _ := r.Register("sensor", nil)
	require.NoError(t, r.SetState(id, regtypes.StateRegistered))
	require.NoError(t, r.SetState(id, regtypes.StateRunning))

	require.NoError(t, r.ForceState(id, regtypes.StateError))
	info, _ := r.GetInfo(id)
	assert.Equal(t, 1, info.RestartCount)
}

func TestIDReuseAfterUnregister(t *testing.T) {
	r := New(4, quota.NewManager())
	id1, _ := r.Register("a", nil)
	require.NoError(t, r.Unregister(id1))
	id2, _ := r.Register("b", nil)
	assert.Equal(t, id1, id2)
}

func TestListAllRegistrationOrder(t *testing.T) {
	r := New(4, quota.NewManager())
	_, _ = r.Register("a", nil)
	_, _ = r.Register("b", nil)
	_, _ = r.Register("c", nil)

	list := r.ListAll()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)
	assert.Equal(t, "c", list[2].Name)
}
