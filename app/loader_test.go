package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apptypes "github.com/edgebus/devicecore/app/types"
)

func TestLoadFromStorageRegistersApp(t *testing.T) {
	m, _ := newTestManager(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "weather.apk")
	require.NoError(t, os.WriteFile(path, buildBinary(t, "weather", []byte("code")), 0o644))

	id, err := m.LoadFromStorage(path)
	require.NoError(t, err)

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, "weather", info.Name)
	assert.Equal(t, apptypes.SourceStorage, info.Source)
}

func TestLoadFromStorageRejectsCorruptBinary(t *testing.T) {
	m, _ := newTestManager(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.apk")
	data := buildBinary(t, "bad", []byte("code"))
	data[0] = 'X'
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := m.LoadFromStorage(path)
	assert.Error(t, err)
}

func TestLoadFromURLRegistersApp(t *testing.T) {
	m, _ := newTestManager(t)

	data := buildBinary(t, "remoteapp", []byte("code"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	loader := NewRemoteLoader(time.Second)
	id, err := m.LoadFromURL(context.Background(), loader, srv.URL)
	require.NoError(t, err)

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, "remoteapp", info.Name)
	assert.Equal(t, apptypes.SourceRemote, info.Source)
}

func TestInstallDispatchesOnSourceStorage(t *testing.T) {
	m, _ := newTestManager(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "weather.apk")
	require.NoError(t, os.WriteFile(path, buildBinary(t, "weather", []byte("code")), 0o644))

	id, err := m.Install(context.Background(), apptypes.Manifest{
		Source:   apptypes.SourceStorage,
		Location: path,
	})
	require.NoError(t, err)

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, "weather", info.Name)
	assert.Equal(t, apptypes.SourceStorage, info.Source)
}

func TestInstallDispatchesOnSourceRemote(t *testing.T) {
	m, _ := newTestManager(t)

	data := buildBinary(t, "remoteapp", []byte("code"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	id, err := m.Install(context.Background(), apptypes.Manifest{
		Source:   apptypes.SourceRemote,
		Location: srv.URL,
	})
	require.NoError(t, err)

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, "remoteapp", info.Name)
	assert.Equal(t, apptypes.SourceRemote, info.Source)
}

func TestStartStorageWatchPicksUpDroppedBinary(t *testing.T) {
	m, _ := newTestManager(t)

	dir := t.TempDir()
	require.NoError(t, m.StartStorageWatch(dir))
	defer m.StopStorageWatch()

	path := filepath.Join(dir, "dropped.apk")
	require.NoError(t, os.WriteFile(path, buildBinary(t, "dropped", []byte("code")), 0o644))

	require.Eventually(t, func() bool {
		_, ok := m.Lookup("dropped")
		return ok
	}, time.Second, 10*time.Millisecond)
}
