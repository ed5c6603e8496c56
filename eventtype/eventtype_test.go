package eventtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebus/devicecore/errs"
)

func TestRegisterTypeIsIdempotent(t *testing.T) {
	r := New(4)
	id1, err := r.RegisterType("SENSOR_TICK")
	require.NoError(t, err)
	id2, err := r.RegisterType("SENSOR_TICK")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterTypeCapacityFull(t *testing.T) {
	r := New(1)
	_, err := r.RegisterType("A")
	require.NoError(t, err)
	_, err = r.RegisterType("B")
	assert.ErrorIs(t, err, errs.ErrTypeRegistryFull)
}

func TestGetTypeNameUnknown(t *testing.T) {
	r := New(4)
	_, err := r.GetTypeName(Invalid)
	assert.ErrorIs(t, err, errs.ErrTypeNotFound)
}

func TestLookupAndHas(t *testing.T) {
	r := New(4)
	id, _ := r.RegisterType("X")
	got, ok := r.Lookup("X")
	assert.True(t, ok)
	assert.Equal(t, id, got)
	assert.True(t, r.Has(id))
	assert.False(t, r.Has(Invalid))
}
