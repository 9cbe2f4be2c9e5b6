// Package putio executes transfers against a put.io account.
package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/putdotio/go-putio"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"

	"github.com/italolelis/syncbox/internal/executor"
	"github.com/italolelis/syncbox/internal/executor/progress"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

const rootFolderID int64 = 0

var errNotFound = errors.New("not found")

type uploadFunc func(ctx context.Context, r io.Reader, filename string, parent int64) (*putio.File, error)

// Executor moves files between the local filesystem and put.io.
type Executor struct {
	putioClient *putio.Client
	httpClient  *http.Client
	local       afero.Fs
	dataDir     string
	upload      uploadFunc
}

// NewExecutor authenticates requests with a static OAuth token.
func NewExecutor(token string, local afero.Fs, dataDir string) *Executor {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return newExecutor(putio.NewClient(oauthClient), http.DefaultClient, local, dataDir)
}

func newExecutor(client *putio.Client, httpClient *http.Client, local afero.Fs, dataDir string) *Executor {
	e := &Executor{
		putioClient: client,
		httpClient:  httpClient,
		local:       local,
		dataDir:     dataDir,
	}

	e.upload = func(ctx context.Context, r io.Reader, filename string, parent int64) (*putio.File, error) {
		u, err := client.Files.Upload(ctx, r, filename, parent)
		if err != nil {
			return nil, err
		}

		return u.File, nil
	}

	return e
}

// Authenticate checks the token against the account endpoint.
func (e *Executor) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := e.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return &transfer.AuthenticationError{Operation: "account_info", Err: err}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// Download streams the remote file to the local target.
func (e *Executor) Download(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	logger := logctx.LoggerFromContext(ctx).With("remote_path", req.File.RemotePath)

	file, err := e.lookup(ctx, req.File)
	if err != nil {
		return transfer.File{}, err
	}

	if file.IsDir() {
		return transfer.File{}, &transfer.InvalidContentError{Filename: req.File.RemotePath, Reason: "is a folder"}
	}

	url, err := e.putioClient.Files.URL(ctx, file.ID, false)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get file download url", "file_id", file.ID, "err", err)

		return transfer.File{}, &transfer.NetworkError{Operation: "download_url", APIMessage: err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return transfer.File{}, &transfer.NetworkError{Operation: "download", APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transfer.File{}, &transfer.NetworkError{Operation: "download", StatusCode: resp.StatusCode, APIMessage: resp.Status}
	}

	onProgress(0)

	target := executor.LocalTarget(e.dataDir, req)

	written, err := executor.WriteFile(ctx, e.local, target, resp.Body, file.Size, onProgress)
	if err != nil {
		return transfer.File{}, err
	}

	logger.InfoContext(ctx, "downloaded file", "file_id", file.ID, "target", target)

	f := toFile(file, req.File.RemotePath)
	f.LocalPath = target
	f.Length = written.Bytes

	return f, nil
}

// Upload sends the local source to the remote folder, resolving collisions among
// the folder's current children.
func (e *Executor) Upload(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	logger := logctx.LoggerFromContext(ctx).With("remote_path", req.File.RemotePath)

	remotePath := path.Clean("/" + req.File.RemotePath)

	src, err := e.local.Open(req.Upload.LocalPath)
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to stat local file: %w", err)
	}

	parentID, err := e.folderID(ctx, path.Dir(remotePath), req.Upload.CreateParents)
	if err != nil {
		return transfer.File{}, err
	}

	children, _, err := e.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return transfer.File{}, &transfer.NetworkError{Operation: "list", APIMessage: err.Error(), Err: err}
	}

	byName := make(map[string]int64, len(children))
	for _, c := range children {
		byName[c.Name] = c.ID
	}

	res, err := executor.ResolveCollision(ctx, req.Upload.Collision, remotePath, func(_ context.Context, p string) (bool, error) {
		_, ok := byName[path.Base(p)]

		return ok, nil
	})
	if err != nil {
		return transfer.File{}, err
	}

	if res.Replace {
		logger.InfoContext(ctx, "replacing existing remote file")

		if err := e.putioClient.Files.Delete(ctx, byName[path.Base(res.RemotePath)]); err != nil {
			return transfer.File{}, &transfer.NetworkError{Operation: "delete", APIMessage: err.Error(), Err: err}
		}
	}

	onProgress(0)

	pr := progress.NewReader(ctx, src, info.Size(), onProgress)

	uploaded, err := e.upload(ctx, pr, path.Base(res.RemotePath), parentID)
	if err != nil {
		return transfer.File{}, &transfer.NetworkError{Operation: "upload", APIMessage: err.Error(), Err: err}
	}

	if uploaded == nil {
		return transfer.File{}, &transfer.InvalidContentError{Filename: res.RemotePath, Reason: "put.io did not return the uploaded file"}
	}

	onProgress(100)

	logger.InfoContext(ctx, "uploaded file", "file_id", uploaded.ID, "final_path", res.RemotePath)

	f := toFile(*uploaded, res.RemotePath)
	f.LocalPath = req.Upload.LocalPath

	return f, nil
}

// lookup resolves a file by id when known, otherwise by walking its path from the root.
func (e *Executor) lookup(ctx context.Context, f transfer.File) (putio.File, error) {
	if f.RemoteID != "" {
		id, err := strconv.ParseInt(f.RemoteID, 10, 64)
		if err == nil {
			file, err := e.putioClient.Files.Get(ctx, id)
			if err != nil {
				return putio.File{}, &transfer.NetworkError{Operation: "get", APIMessage: err.Error(), Err: err}
			}

			return file, nil
		}
	}

	dir, name := path.Split(path.Clean("/" + f.RemotePath))

	parentID, err := e.folderID(ctx, dir, false)
	if err != nil {
		return putio.File{}, err
	}

	file, err := e.child(ctx, parentID, name)
	if errors.Is(err, errNotFound) {
		return putio.File{}, &transfer.InvalidContentError{Filename: f.RemotePath, Reason: "not found on put.io", Err: err}
	}

	return file, err
}

// folderID walks dir from the root folder, creating missing folders when create is set.
func (e *Executor) folderID(ctx context.Context, dir string, create bool) (int64, error) {
	id := rootFolderID

	for _, name := range strings.Split(strings.Trim(path.Clean("/"+dir), "/"), "/") {
		if name == "" {
			continue
		}

		child, err := e.child(ctx, id, name)

		switch {
		case err == nil && child.IsDir():
			id = child.ID

			continue
		case err == nil:
			return 0, &transfer.DirectoryError{DirectoryName: dir, Reason: name + " is not a folder"}
		case !errors.Is(err, errNotFound):
			return 0, &transfer.DirectoryError{DirectoryName: dir, Reason: "directory not found or inaccessible", Err: err}
		case !create:
			return 0, &transfer.DirectoryError{DirectoryName: dir, Reason: "directory not found", Err: err}
		}

		folder, err := e.putioClient.Files.CreateFolder(ctx, name, id)
		if err != nil {
			return 0, &transfer.DirectoryError{DirectoryName: dir, Reason: "failed to create folder " + name, Err: err}
		}

		id = folder.ID
	}

	return id, nil
}

func (e *Executor) child(ctx context.Context, parentID int64, name string) (putio.File, error) {
	children, _, err := e.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return putio.File{}, fmt.Errorf("failed to list files: %w", err)
	}

	for _, c := range children {
		if c.Name == name {
			return c, nil
		}
	}

	return putio.File{}, fmt.Errorf("%s in folder %d: %w", name, parentID, errNotFound)
}

func toFile(f putio.File, remotePath string) transfer.File {
	out := transfer.File{
		RemotePath: remotePath,
		RemoteID:   strconv.FormatInt(f.ID, 10),
		Length:     f.Size,
		MimeType:   f.ContentType,
		Checksum:   f.CRC32,
	}

	if f.UpdatedAt != nil {
		out.ModifiedAt = f.UpdatedAt.Time
	}

	return out
}
