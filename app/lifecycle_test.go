package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

func TestLifecycleTrackDedupesAndCaps(t *testing.T) {
	l := NewLifecycle(2)
	svc := regtypes.ServiceID(1)

	l.Track(svc, eventtype.ID(1))
	l.Track(svc, eventtype.ID(1)) // duplicate, no growth
	l.Track(svc, eventtype.ID(2))
	l.Track(svc, eventtype.ID(3)) // over capacity, dropped

	assert.Equal(t, 2, l.Count(svc))
}

func TestLifecycleUntrackAndClear(t *testing.T) {
	l := NewLifecycle(4)
	svc := regtypes.ServiceID(1)
	l.Track(svc, eventtype.ID(1))
	l.Track(svc, eventtype.ID(2))

	l.Untrack(svc, eventtype.ID(1))
	assert.ElementsMatch(t, []eventtype.ID{2}, l.Subscriptions(svc))

	l.Clear(svc)
	assert.Equal(t, 0, l.Count(svc))
}
