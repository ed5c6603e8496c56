package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxRemoteBinarySize bounds how much a REMOTE fetch will read, so a
// misbehaving or malicious server can't exhaust memory on the device.
const MaxRemoteBinarySize = 4 << 20 // 4 MiB

// RemoteLoader fetches an `.apk` binary over HTTP(S) for the REMOTE
// app source.
type RemoteLoader struct {
	client *http.Client
}

// NewRemoteLoader builds a loader with the given request timeout.
func NewRemoteLoader(timeout time.Duration) *RemoteLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteLoader{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url and returns its body, capped at
// MaxRemoteBinarySize.
func (r *RemoteLoader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devicecore: remote app fetch %s: status %d", url, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, MaxRemoteBinarySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxRemoteBinarySize {
		return nil, fmt.Errorf("devicecore: remote app binary exceeds %d bytes", MaxRemoteBinarySize)
	}
	return data, nil
}
