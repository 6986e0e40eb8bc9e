package controlplane

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPlainEngine serves a minimal Engine API whose container create always
// answers 404. hasImage decides what an image inspect returns.
func newPlainEngine(t *testing.T, hasImage bool) Daemon {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Api-Version", "1.51")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/_ping":
			w.Write([]byte("OK"))
		case strings.HasSuffix(r.URL.Path, "/containers/create"):
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"No such resource"}`))
		case strings.Contains(r.URL.Path, "/images/") && strings.HasSuffix(r.URL.Path, "/json"):
			if !hasImage {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"message":"No such image: build-agent:latest"}`))
				return
			}
			w.Write([]byte(`{"Id":"sha256:abc","RepoTags":["build-agent:latest"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	d, err := DialDocker(context.Background(), strings.TrimPrefix(srv.URL, "http://"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateContainer_MissingImage(t *testing.T) {
	d := newPlainEngine(t, false)

	_, err := d.CreateContainer(context.Background(), ContainerSpec{Name: "build-agent-1", Image: "build-agent:latest"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestCreateContainer_MissingNetworkIsNotAnImageError(t *testing.T) {
	d := newPlainEngine(t, true)

	_, err := d.CreateContainer(context.Background(), ContainerSpec{
		Name:        "build-agent-1",
		Image:       "build-agent:latest",
		NetworkMode: "build-agents",
	})

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrImageNotFound))
	assert.ErrorIs(t, err, ErrNotFound)
}
