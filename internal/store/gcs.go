package store

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/Laisky/errors/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcsapi "google.golang.org/api/storage/v1"
)

type ObjectStore interface {
	Backend() string
	PutObject(ctx context.Context, objectPath, contentType string, data []byte) error
	DeleteObject(ctx context.Context, objectPath string) error
}

type gcsObjectStore struct {
	bucketName string
	service    *gcsapi.Service
}

// NewGCSObjectStore checks the bucket is readable before returning.
func NewGCSObjectStore(ctx context.Context, bucketName string, opts ...option.ClientOption) (ObjectStore, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs service")
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, errors.Wrap(err, "read gcs bucket attrs")
	}

	return &gcsObjectStore{bucketName: trimmedBucket, service: service}, nil
}

func (s *gcsObjectStore) Backend() string {
	return "gcs"
}

func (s *gcsObjectStore) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return errors.New("object path is required")
	}

	trimmedType := strings.TrimSpace(contentType)
	if trimmedType == "" {
		trimmedType = "application/octet-stream"
	}

	object := &gcsapi.Object{
		Name:        cleanPath,
		ContentType: trimmedType,
	}

	if _, err := s.service.Objects.Insert(s.bucketName, object).Media(bytes.NewReader(data)).Context(ctx).Do(); err != nil {
		return errors.Wrapf(err, "write gcs object %q", cleanPath)
	}
	return nil
}

func (s *gcsObjectStore) DeleteObject(ctx context.Context, objectPath string) error {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return nil
	}

	err := s.service.Objects.Delete(s.bucketName, cleanPath).Context(ctx).Do()
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}

	return errors.Wrapf(err, "delete gcs object %q", cleanPath)
}

// Exporter copies stored runs to object storage as <prefix>/<id>.json.
type Exporter struct {
	objects ObjectStore
	prefix  string
}

func NewExporter(objects ObjectStore, prefix string) *Exporter {
	return &Exporter{objects: objects, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}
}

func (e *Exporter) objectPath(id string) string {
	name := strings.TrimSpace(id) + ".json"
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}

func (e *Exporter) Export(ctx context.Context, run Run) (string, error) {
	if strings.TrimSpace(run.ID) == "" {
		return "", errors.New("run id is required")
	}
	payload, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal run export")
	}
	objectPath := e.objectPath(run.ID)
	if err := e.objects.PutObject(ctx, objectPath, "application/json", payload); err != nil {
		return "", err
	}
	return objectPath, nil
}

func (e *Exporter) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return e.objects.DeleteObject(ctx, e.objectPath(id))
}

func (e *Exporter) Backend() string {
	return e.objects.Backend()
}
