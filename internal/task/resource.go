package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/karton/internal/objectstore"
)

// resourceKey marks a resource reference inside a serialized payload.
const resourceKey = "__karton_resource__"

// Resource is a named binary payload attached to a task.
type Resource interface {
	Name() string
	Bucket() string
	UID() string
	Size() int64
}

// resourceRef is the serialized form shared by local and remote resources.
type resourceRef struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
	UID    string `json:"uid"`
	Size   int64  `json:"size"`
}

func marshalRef(ref resourceRef) ([]byte, error) {
	return json.Marshal(map[string]resourceRef{resourceKey: ref})
}

// LocalResource is pending upload: it owns its content until the producer
// stores it.
type LocalResource struct {
	name    string
	bucket  string
	uid     string
	content []byte
	path    string
	size    int64
}

// NewLocalResource creates a resource from in-memory content.
func NewLocalResource(name string, content []byte) *LocalResource {
	return &LocalResource{
		name:    name,
		uid:     uuid.New().String(),
		content: content,
		size:    int64(len(content)),
	}
}

// NewLocalResourceFromFile creates a resource backed by a file on disk.
// The name defaults to the file's base name.
func NewLocalResourceFromFile(name, path string) (*LocalResource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat resource file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("resource path %s is a directory", path)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return &LocalResource{
		name: name,
		uid:  uuid.New().String(),
		path: path,
		size: info.Size(),
	}, nil
}

func (r *LocalResource) Name() string   { return r.name }
func (r *LocalResource) Bucket() string { return r.bucket }
func (r *LocalResource) UID() string    { return r.uid }
func (r *LocalResource) Size() int64    { return r.size }

// SetBucket assigns the bucket the resource will be uploaded to.
func (r *LocalResource) SetBucket(bucket string) { r.bucket = bucket }

// Upload stores the content under (bucket, uid).
func (r *LocalResource) Upload(ctx context.Context, store objectstore.Store) error {
	if r.bucket == "" {
		return fmt.Errorf("resource %s has no bucket", r.name)
	}

	var src io.Reader
	if r.path != "" {
		f, err := os.Open(r.path)
		if err != nil {
			return fmt.Errorf("open resource file: %w", err)
		}
		defer f.Close()
		src = f
	} else {
		src = bytes.NewReader(r.content)
	}

	if err := store.Put(ctx, r.bucket, r.uid, src, r.size); err != nil {
		return fmt.Errorf("upload resource %s: %w", r.name, err)
	}
	return nil
}

// MarshalJSON encodes the resource as a reference, identical to a remote one.
func (r *LocalResource) MarshalJSON() ([]byte, error) {
	return marshalRef(resourceRef{Name: r.name, Bucket: r.bucket, UID: r.uid, Size: r.size})
}

// RemoteResource references an object already stored in the object store.
type RemoteResource struct {
	name   string
	bucket string
	uid    string
	size   int64
}

// NewRemoteResource references an existing object.
func NewRemoteResource(name, bucket, uid string, size int64) *RemoteResource {
	return &RemoteResource{name: name, bucket: bucket, uid: uid, size: size}
}

func (r *RemoteResource) Name() string   { return r.name }
func (r *RemoteResource) Bucket() string { return r.bucket }
func (r *RemoteResource) UID() string    { return r.uid }
func (r *RemoteResource) Size() int64    { return r.size }

// MarshalJSON encodes the resource reference.
func (r *RemoteResource) MarshalJSON() ([]byte, error) {
	return marshalRef(resourceRef{Name: r.name, Bucket: r.bucket, UID: r.uid, Size: r.size})
}

// Download settings for objects that are referenced before the producer
// finished uploading them.
var (
	DownloadAttempts = 5
	DownloadBackoff  = 200 * time.Millisecond
)

// Open returns a reader on the stored object. A missing object is retried
// with exponential backoff before giving up with objectstore.ErrNotFound.
func (r *RemoteResource) Open(ctx context.Context, store objectstore.Store) (io.ReadCloser, error) {
	backoff := DownloadBackoff
	for attempt := 1; ; attempt++ {
		rc, err := store.Get(ctx, r.bucket, r.uid)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, objectstore.ErrNotFound) || attempt >= DownloadAttempts {
			return nil, fmt.Errorf("download resource %s: %w", r.name, err)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

// Content downloads the whole object into memory.
func (r *RemoteResource) Content(ctx context.Context, store objectstore.Store) ([]byte, error) {
	rc, err := r.Open(ctx, store)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", r.name, err)
	}
	return data, nil
}

// Download writes the object to path.
func (r *RemoteResource) Download(ctx context.Context, store objectstore.Store, path string) error {
	rc, err := r.Open(ctx, store)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
