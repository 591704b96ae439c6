// Package ossstore implements blobstore.Backend on an Aliyun OSS bucket.
package ossstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/dendrascience/dendra-blobfs/version"
)

const pageSize = 1000

type service interface {
	IsBucketExist(bucketName string) (bool, error)
	CreateBucket(bucketName string, options ...oss.Option) error
}

type bucket interface {
	IsObjectExist(objectKey string, options ...oss.Option) (bool, error)
	GetObjectDetailedMeta(objectKey string, options ...oss.Option) (http.Header, error)
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
	DeleteObject(objectKey string, options ...oss.Option) error
	ListObjects(options ...oss.Option) (oss.ListObjectsResult, error)
	CopyObject(srcObjectKey, destObjectKey string, options ...oss.Option) (oss.CopyObjectResult, error)
}

// Config holds the connection settings of a bucket.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Backend is a blobstore.Backend over one OSS bucket. The bucket plays the
// role of the container.
type Backend struct {
	name    string
	service service
	bucket  bucket
}

// New connects to OSS. No request is made until the first operation.
func New(cfg Config) (*Backend, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret,
		oss.UserAgent(version.UserAgent()))
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}
	b, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}
	return &Backend{name: cfg.Bucket, service: client, bucket: b}, nil
}

// isNotFound reports whether err is an OSS 404 of any flavour.
func isNotFound(err error) bool {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.Code == "NoSuchKey"
	}
	return false
}

func wrap(name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}
	return fmt.Errorf("oss %s: %w", name, err)
}

// propertiesFromHeader reads the response headers of a HEAD request. OSS
// does not record creation time, so Created stays zero.
func propertiesFromHeader(h http.Header) blobstore.Properties {
	var p blobstore.Properties
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		p.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		p.LastModified = t.UTC()
	}
	p.ContentType = h.Get("Content-Type")
	p.CacheControl = h.Get("Cache-Control")
	return p
}

func (b *Backend) EnsureContainer(ctx context.Context, publicRead bool) error {
	ok, err := b.service.IsBucketExist(b.name)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", b.name, err)
	}
	if ok {
		return nil
	}
	acl := oss.ACLPrivate
	if publicRead {
		acl = oss.ACLPublicRead
	}
	if err := b.service.CreateBucket(b.name, oss.ACL(acl)); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", b.name, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := b.bucket.IsObjectExist(name)
	if err != nil {
		return false, wrap(name, err)
	}
	return ok, nil
}

func (b *Backend) Stat(ctx context.Context, name string) (blobstore.Properties, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Properties{}, err
	}
	h, err := b.bucket.GetObjectDetailedMeta(name)
	if err != nil {
		return blobstore.Properties{}, wrap(name, err)
	}
	return propertiesFromHeader(h), nil
}

func (b *Backend) Upload(ctx context.Context, name string, r io.Reader, opts blobstore.UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var options []oss.Option
	if opts.ContentType != "" {
		options = append(options, oss.ContentType(opts.ContentType))
	}
	if opts.CacheControl != "" {
		options = append(options, oss.CacheControl(opts.CacheControl))
	}
	if err := b.bucket.PutObject(name, r, options...); err != nil {
		return wrap(name, err)
	}
	return nil
}

func (b *Backend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := b.bucket.GetObject(name)
	if err != nil {
		return nil, wrap(name, err)
	}
	return rc, nil
}

// Delete probes first because OSS acknowledges deletes of absent keys.
func (b *Backend) Delete(ctx context.Context, name string) error {
	ok, err := b.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}
	if err := b.bucket.DeleteObject(name); err != nil {
		return wrap(name, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string, flat bool) ([]blobstore.Item, error) {
	var items []blobstore.Item
	marker := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		options := []oss.Option{oss.Prefix(prefix), oss.Marker(marker), oss.MaxKeys(pageSize)}
		if !flat {
			options = append(options, oss.Delimiter("/"))
		}
		res, err := b.bucket.ListObjects(options...)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		for _, dir := range res.CommonPrefixes {
			items = append(items, blobstore.Item{Name: dir, IsDirectory: true})
		}
		for _, obj := range res.Objects {
			items = append(items, blobstore.Item{
				Name: obj.Key,
				Properties: blobstore.Properties{
					Size:         obj.Size,
					LastModified: obj.LastModified.UTC(),
				},
			})
		}
		if !res.IsTruncated {
			return items, nil
		}
		marker = res.NextMarker
	}
}

// StartCopy issues a CopyObject, which OSS completes before responding.
func (b *Backend) StartCopy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.bucket.CopyObject(src, dst); err != nil {
		return wrap(src, err)
	}
	return nil
}

// CopyStatus reports success once the destination exists.
func (b *Backend) CopyStatus(ctx context.Context, dst string) (blobstore.CopyStatus, error) {
	ok, err := b.Exists(ctx, dst)
	if err != nil {
		return blobstore.CopyFailed, err
	}
	if !ok {
		return blobstore.CopyFailed, fmt.Errorf("%s: %w", dst, blobstore.ErrNoCopy)
	}
	return blobstore.CopySuccess, nil
}

var _ blobstore.Backend = (*Backend)(nil)

