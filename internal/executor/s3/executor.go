// Package s3 executes transfers against an S3 compatible bucket.
// Remote paths map to object keys under an optional prefix. S3 has no real
// folders, so parent prefixes always exist and CreateParents has no effect.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/italolelis/syncbox/internal/executor"
	"github.com/italolelis/syncbox/internal/executor/progress"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// API is the subset of the S3 client the executor needs.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config selects the bucket and endpoint.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	Prefix       string
}

// Executor moves files between the local filesystem and a bucket.
type Executor struct {
	client  API
	bucket  string
	prefix  string
	local   afero.Fs
	dataDir string
}

// New loads credentials from the default AWS chain.
func New(ctx context.Context, cfg Config, local afero.Fs, dataDir string) (*Executor, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix, local, dataDir), nil
}

// NewWithClient uses an existing client.
func NewWithClient(client API, bucket, prefix string, local afero.Fs, dataDir string) *Executor {
	return &Executor{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		local:   local,
		dataDir: dataDir,
	}
}

func (e *Executor) key(remotePath string) string {
	return path.Join(e.prefix, strings.TrimPrefix(path.Clean("/"+remotePath), "/"))
}

// Download streams the object to the local target.
func (e *Executor) Download(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	logger := logctx.LoggerFromContext(ctx).With("remote_path", req.File.RemotePath, "bucket", e.bucket)

	key := e.key(req.File.RemotePath)

	out, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return transfer.File{}, &transfer.InvalidContentError{Filename: req.File.RemotePath, Reason: "object not found", Err: err}
		}

		return transfer.File{}, remoteError("get_object", err)
	}
	defer out.Body.Close()

	onProgress(0)

	target := executor.LocalTarget(e.dataDir, req)

	written, err := executor.WriteFile(ctx, e.local, target, out.Body, aws.ToInt64(out.ContentLength), onProgress)
	if err != nil {
		return transfer.File{}, err
	}

	logger.InfoContext(ctx, "downloaded object", "key", key, "target", target)

	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" {
		mimeType = written.MimeType
	}

	return transfer.File{
		RemotePath: req.File.RemotePath,
		RemoteID:   key,
		LocalPath:  target,
		Length:     written.Bytes,
		MimeType:   mimeType,
		ETag:       strings.Trim(aws.ToString(out.ETag), `"`),
		Checksum:   written.Checksum,
		ModifiedAt: aws.ToTime(out.LastModified),
	}, nil
}

// Upload puts the local source under the resolved key.
func (e *Executor) Upload(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	logger := logctx.LoggerFromContext(ctx).With("remote_path", req.File.RemotePath, "bucket", e.bucket)

	src, err := e.local.Open(req.Upload.LocalPath)
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to stat local file: %w", err)
	}

	if info.IsDir() {
		return transfer.File{}, &transfer.InvalidContentError{Filename: req.Upload.LocalPath, Reason: "is a directory"}
	}

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to detect content type: %w", err)
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return transfer.File{}, fmt.Errorf("failed to rewind local file: %w", err)
	}

	res, err := executor.ResolveCollision(ctx, req.Upload.Collision, path.Clean("/"+req.File.RemotePath), e.exists)
	if err != nil {
		return transfer.File{}, err
	}

	key := e.key(res.RemotePath)

	onProgress(0)

	out, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(key),
		Body:          progress.NewReader(ctx, src, info.Size(), onProgress),
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(mt.String()),
	})
	if err != nil {
		return transfer.File{}, remoteError("put_object", err)
	}

	onProgress(100)

	logger.InfoContext(ctx, "uploaded object", "key", key, "replaced", res.Replace)

	return transfer.File{
		RemotePath: res.RemotePath,
		RemoteID:   key,
		LocalPath:  req.Upload.LocalPath,
		Length:     info.Size(),
		MimeType:   mt.String(),
		ETag:       strings.Trim(aws.ToString(out.ETag), `"`),
		ModifiedAt: info.ModTime(),
	}, nil
}

func (e *Executor) exists(ctx context.Context, remotePath string) (bool, error) {
	_, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(remotePath)),
	})

	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, remoteError("head_object", err)
	}
}

func isNotFound(err error) bool {
	var notFound *types.NotFound

	var noSuchKey *types.NoSuchKey

	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func remoteError(op string, err error) error {
	var respErr *awshttp.ResponseError
	if !errors.As(err, &respErr) {
		return &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}

	status := respErr.HTTPStatusCode()
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &transfer.AuthenticationError{Operation: op, Err: err}
	}

	return &transfer.NetworkError{Operation: op, StatusCode: status, APIMessage: err.Error(), Err: err}
}
