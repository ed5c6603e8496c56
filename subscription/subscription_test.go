package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

func noopHandler(*bustypes.Event, any) {}

func TestSubscribeAndSubscribers(t *testing.T) {
	tbl := New(4)
	typ := eventtype.ID(1)

	require.NoError(t, tbl.Subscribe(regtypes.ServiceID(1), typ, noopHandler, nil))
	require.NoError(t, tbl.Subscribe(regtypes.ServiceID(2), typ, noopHandler, nil))

	subs := tbl.Subscribers(typ)
	require.Len(t, subs, 2)
	assert.Equal(t, regtypes.ServiceID(1), subs[0].Service)
	assert.Equal(t, regtypes.ServiceID(2), subs[1].Service)
}

func TestResubscribeReplacesInPlace(t *testing.T) {
	tbl := New(1)
	typ := eventtype.ID(1)
	svc := regtypes.ServiceID(1)

	require.NoError(t, tbl.Subscribe(svc, typ, noopHandler, "first"))
	require.NoError(t, tbl.Subscribe(svc, typ, noopHandler, "second"))

	subs := tbl.Subscribers(typ)
	require.Len(t, subs, 1)
	assert.Equal(t, "second", subs[0].UserData)
}

func TestSubscribeCapacityFull(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.Subscribe(regtypes.ServiceID(1), eventtype.ID(1), noopHandler, nil))
	err := tbl.Subscribe(regtypes.ServiceID(2), eventtype.ID(2), noopHandler, nil)
	assert.ErrorIs(t, err, errs.ErrSubscriptionFull)
}

func TestSubscribeNilHandlerRejected(t *testing.T) {
	tbl := New(4)
	err := tbl.Subscribe(regtypes.ServiceID(1), eventtype.ID(1), nil, nil)
	assert.Error(t, err)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	tbl := New(4)
	svc, typ := regtypes.ServiceID(1), eventtype.ID(1)
	require.NoError(t, tbl.Subscribe(svc, typ, noopHandler, nil))

	tbl.Unsubscribe(svc, typ)
	tbl.Unsubscribe(svc, typ) // no panic, no error path to observe

	assert.Empty(t, tbl.Subscribers(typ))
}

func TestUnsubscribeAll(t *testing.T) {
	tbl := New(4)
	svc := regtypes.ServiceID(1)
	require.NoError(t, tbl.Subscribe(svc, eventtype.ID(1), noopHandler, nil))
	require.NoError(t, tbl.Subscribe(svc, eventtype.ID(2), noopHandler, nil))

	n := tbl.UnsubscribeAll(svc)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, tbl.CountForService(svc))
}
