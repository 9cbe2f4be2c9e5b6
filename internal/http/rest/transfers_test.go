package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/host"
	"github.com/italolelis/syncbox/internal/transfer"
)

const waitFor = 5 * time.Second

type taskFactoryFunc func(req transfer.Request) transfer.Task

func (f taskFactoryFunc) NewTask(req transfer.Request) transfer.Task { return f(req) }

// blockingTasks run until their context is cancelled.
var blockingTasks = taskFactoryFunc(func(req transfer.Request) transfer.Task {
	return func(ctx context.Context, _ transfer.ProgressFunc) transfer.Result {
		<-ctx.Done()

		return transfer.Result{File: req.File}
	}
})

func newTestServer(t *testing.T, username, password string) (*httptest.Server, *host.Host) {
	t.Helper()

	h := host.New(context.Background(), func(owner string) *transfer.Manager {
		return transfer.NewManager(owner, blockingTasks, transfer.WithMaxConcurrency(1))
	})

	server := httptest.NewServer(NewTransferHandler(h, username, password).Routes())

	t.Cleanup(func() {
		server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()

		_ = h.Shutdown(ctx)
	})

	return server, h
}

func enqueue(t *testing.T, baseURL, owner, body string) (int, enqueueResponse) {
	t.Helper()

	resp, err := http.Post(baseURL+"/v1/users/"+owner+"/transfers", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out enqueueResponse
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}

	return resp.StatusCode, out
}

func TestTransferHandler_EnqueueAndStatus(t *testing.T) {
	server, _ := newTestServer(t, "", "")

	code, first := enqueue(t, server.URL, "alice", `{"direction":"download","file":{"remote_path":"/a.mkv"}}`)
	require.Equal(t, http.StatusAccepted, code)

	code, second := enqueue(t, server.URL, "alice", `{"direction":"upload","file":{"remote_path":"/b.txt"},"upload":{"local_path":"/tmp/b.txt","collision":"rename"}}`)
	require.Equal(t, http.StatusAccepted, code)

	var status transfer.Status

	require.Eventually(t, func() bool {
		resp, err := http.Get(server.URL + "/v1/users/alice/transfers")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		status = transfer.Status{}

		return json.NewDecoder(resp.Body).Decode(&status) == nil && len(status.Running) == 1
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, first.ID, status.Running[0].ID)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, second.ID, status.Pending[0].ID)
	assert.Equal(t, transfer.CollisionRename, status.Pending[0].Request.Upload.Collision)
	assert.Equal(t, transfer.LocalKeep, status.Pending[0].Request.Upload.LocalAction)
}

func TestTransferHandler_EnqueueValidation(t *testing.T) {
	server, _ := newTestServer(t, "", "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{`, want: http.StatusBadRequest},
		{name: "unknown direction", body: `{"direction":"sideways","file":{"remote_path":"/a"}}`, want: http.StatusBadRequest},
		{name: "missing remote path", body: `{"direction":"download","file":{}}`, want: http.StatusBadRequest},
		{name: "upload without local path", body: `{"direction":"upload","file":{"remote_path":"/a"}}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := enqueue(t, server.URL, "alice", tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestTransferHandler_GetFindAndCancel(t *testing.T) {
	server, h := newTestServer(t, "", "")

	code, created := enqueue(t, server.URL, "alice", `{"direction":"download","file":{"remote_path":"/a.mkv"}}`)
	require.Equal(t, http.StatusAccepted, code)

	m, err := h.Manager("alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr, _, _ := m.Transfer(context.Background(), created.ID)

		return tr.State == transfer.StateRunning
	}, waitFor, 5*time.Millisecond)

	resp, err := http.Get(server.URL + "/v1/users/alice/transfers/" + created.ID.String())
	require.NoError(t, err)

	var got transfer.Transfer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, created.ID, got.ID)

	resp, err = http.Get(server.URL + "/v1/users/alice/transfers/find?remote_path=/a.mkv")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/v1/users/alice/transfers/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(server.URL + "/v1/users/alice/transfers/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/users/alice/transfers/"+created.ID.String(), nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		tr, _, _ := m.Transfer(context.Background(), created.ID)

		return tr.State == transfer.StateFailed
	}, waitFor, 5*time.Millisecond)

	resp, err = http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "finished transfers cannot be cancelled")
}

func TestTransferHandler_BasicAuth(t *testing.T) {
	server, _ := newTestServer(t, "admin", "secret")

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/healthz", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransferHandler_ReadsNeverCreateManagers(t *testing.T) {
	server, h := newTestServer(t, "", "")

	for _, path := range []string{
		"/v1/users/mallory/transfers",
		"/v1/users/mallory/transfers/" + uuid.NewString(),
		"/v1/users/mallory/transfers/find?remote_path=/a.mkv",
	} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/users/mallory/transfers/"+uuid.NewString(), nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Empty(t, h.Owners())

	code, _ := enqueue(t, server.URL, "alice", `{"direction":"download","file":{"remote_path":"/a.mkv"}}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"alice"}, h.Owners())
}
