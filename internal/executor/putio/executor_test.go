package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	putio "github.com/putdotio/go-putio"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/transfer"
)

const folderJSON = `{"id":%d,"name":%q,"size":0,"file_type":"FOLDER","content_type":"application/x-directory","parent_id":%d}`

// fakePutio serves the subset of the put.io files API the executor uses.
type fakePutio struct {
	mu       sync.Mutex
	children map[int64][]string
	nextID   int64
	created  []string
	deleted  []string
	content  string
}

func newFakePutio() *fakePutio {
	return &fakePutio{children: map[int64][]string{}, nextID: 100}
}

func (f *fakePutio) handler(baseURL func() string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/files/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var parent int64
		fmt.Sscan(r.URL.Query().Get("parent_id"), &parent)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"files":[%s],"parent":`+folderJSON+`,"status":"OK"}`,
			strings.Join(f.children[parent], ","), parent, "parent", 0)
	})

	mux.HandleFunc("/v2/files/create-folder", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		_ = r.ParseForm()

		var parent int64
		fmt.Sscan(r.PostForm.Get("parent_id"), &parent)

		f.nextID++
		folder := fmt.Sprintf(folderJSON, f.nextID, r.PostForm.Get("name"), parent)
		f.children[parent] = append(f.children[parent], folder)
		f.created = append(f.created, r.PostForm.Get("name"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"file":%s,"status":"OK"}`, folder)
	})

	mux.HandleFunc("/v2/files/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		_ = r.ParseForm()
		f.deleted = append(f.deleted, r.PostForm.Get("file_ids"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"OK"}`)
	})

	mux.HandleFunc("/v2/files/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/v2/files/")
		w.Header().Set("Content-Type", "application/json")

		if id, ok := strings.CutSuffix(rest, "/url"); ok {
			fmt.Fprintf(w, `{"url":%q,"status":"OK"}`, baseURL()+"/download/"+id)

			return
		}

		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error_type":"NOT_FOUND","error_message":"not found","status":"ERROR"}`)
	})

	mux.HandleFunc("/download/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, f.content)
	})

	return mux
}

func newTestExecutor(t *testing.T, fake *fakePutio) (*Executor, afero.Fs) {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(fake.handler(func() string { return server.URL }))
	t.Cleanup(server.Close)

	goputioClient := putio.NewClient(nil)
	u, _ := url.Parse(server.URL)
	goputioClient.BaseURL = u

	local := afero.NewMemMapFs()

	return newExecutor(goputioClient, server.Client(), local, "/data"), local
}

func TestExecutor_Download(t *testing.T) {
	fake := newFakePutio()
	fake.content = "matroska bytes"
	fake.children[0] = []string{fmt.Sprintf(folderJSON, 10, "movies", 0)}
	fake.children[10] = []string{`{"id":11,"name":"a.mkv","size":14,"file_type":"VIDEO","content_type":"video/x-matroska","parent_id":10,"crc32":"deadbeef"}`}

	e, local := newTestExecutor(t, fake)

	var last int

	req := transfer.NewDownloadRequest("alice", transfer.File{RemotePath: "/movies/a.mkv"})
	f, err := e.Download(context.Background(), req, func(p int) { last = p })
	require.NoError(t, err)

	assert.Equal(t, "11", f.RemoteID)
	assert.Equal(t, "/data/movies/a.mkv", f.LocalPath)
	assert.Equal(t, int64(14), f.Length)
	assert.Equal(t, "video/x-matroska", f.MimeType)
	assert.Equal(t, "deadbeef", f.Checksum)
	assert.Equal(t, 100, last)

	got, err := afero.ReadFile(local, "/data/movies/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "matroska bytes", string(got))
}

func TestExecutor_DownloadMissing(t *testing.T) {
	fake := newFakePutio()
	fake.children[0] = []string{fmt.Sprintf(folderJSON, 10, "movies", 0)}

	e, _ := newTestExecutor(t, fake)

	req := transfer.NewDownloadRequest("alice", transfer.File{RemotePath: "/movies/missing.mkv"})
	_, err := e.Download(context.Background(), req, func(int) {})

	var invalid *transfer.InvalidContentError
	assert.True(t, errors.As(err, &invalid), "got %v", err)
}

type capturedUpload struct {
	name   string
	parent int64
	body   string
}

func stubUpload(e *Executor) *capturedUpload {
	captured := &capturedUpload{}

	e.upload = func(_ context.Context, r io.Reader, filename string, parent int64) (*putio.File, error) {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}

		captured.name, captured.parent, captured.body = filename, parent, string(body)

		return &putio.File{ID: 500, Name: filename, Size: int64(len(body)), ContentType: "text/plain", ParentID: parent}, nil
	}

	return captured
}

func TestExecutor_Upload(t *testing.T) {
	tests := []struct {
		name        string
		children    map[int64][]string
		opts        transfer.UploadOptions
		wantName    string
		wantCreated []string
		wantDeleted bool
		wantErrAs   any
	}{
		{
			name:     "existing folder",
			children: map[int64][]string{0: {fmt.Sprintf(folderJSON, 10, "docs", 0)}},
			opts:     transfer.UploadOptions{LocalPath: "/src/a.txt"},
			wantName: "a.txt",
		},
		{
			name:      "missing folder",
			opts:      transfer.UploadOptions{LocalPath: "/src/a.txt"},
			wantErrAs: new(*transfer.DirectoryError),
		},
		{
			name:        "create parents",
			opts:        transfer.UploadOptions{LocalPath: "/src/a.txt", CreateParents: true},
			wantName:    "a.txt",
			wantCreated: []string{"docs"},
		},
		{
			name: "rename on collision",
			children: map[int64][]string{
				0:  {fmt.Sprintf(folderJSON, 10, "docs", 0)},
				10: {`{"id":12,"name":"a.txt","size":1,"file_type":"TEXT","content_type":"text/plain","parent_id":10}`},
			},
			opts:     transfer.UploadOptions{LocalPath: "/src/a.txt", Collision: transfer.CollisionRename},
			wantName: "a (2).txt",
		},
		{
			name: "overwrite deletes first",
			children: map[int64][]string{
				0:  {fmt.Sprintf(folderJSON, 10, "docs", 0)},
				10: {`{"id":12,"name":"a.txt","size":1,"file_type":"TEXT","content_type":"text/plain","parent_id":10}`},
			},
			opts:        transfer.UploadOptions{LocalPath: "/src/a.txt", Collision: transfer.CollisionOverwrite},
			wantName:    "a.txt",
			wantDeleted: true,
		},
		{
			name: "cancel on collision",
			children: map[int64][]string{
				0:  {fmt.Sprintf(folderJSON, 10, "docs", 0)},
				10: {`{"id":12,"name":"a.txt","size":1,"file_type":"TEXT","content_type":"text/plain","parent_id":10}`},
			},
			opts:      transfer.UploadOptions{LocalPath: "/src/a.txt"},
			wantErrAs: new(*transfer.CollisionError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakePutio()
			for id, c := range tt.children {
				fake.children[id] = c
			}

			e, local := newTestExecutor(t, fake)
			captured := stubUpload(e)

			require.NoError(t, afero.WriteFile(local, "/src/a.txt", []byte("note"), 0o644))

			req := transfer.NewUploadRequest("alice", transfer.File{RemotePath: "/docs/a.txt"}, tt.opts)
			f, err := e.Upload(context.Background(), req, func(int) {})

			if tt.wantErrAs != nil {
				require.Error(t, err)
				assert.True(t, errors.As(err, tt.wantErrAs), "got %T: %v", err, err)
				assert.Empty(t, captured.name, "nothing must be uploaded")

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, captured.name)
			assert.Equal(t, "note", captured.body)
			assert.Equal(t, "/docs/"+tt.wantName, f.RemotePath)
			assert.Equal(t, "500", f.RemoteID)
			assert.Equal(t, "/src/a.txt", f.LocalPath)
			assert.Equal(t, tt.wantCreated, fake.created)
			assert.Equal(t, tt.wantDeleted, len(fake.deleted) == 1)
		})
	}
}
