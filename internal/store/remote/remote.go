// Package remote is the object-store-backed authoritative artifact
// repository. It mirrors the local store's read/existence/listing surface and
// additionally archives the exact original build files next to each artifact.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"solvault/internal/artifact"
	"solvault/internal/safeio"
)

// ErrNotFound reports a missing artifact or tag object. A missing key on an
// existence check is a normal false result, never an error.
var ErrNotFound = errors.New("artifact not found")

// DefaultRootPrefix is the key prefix all projects live under unless
// configured otherwise.
const DefaultRootPrefix = "projects/"

const (
	// Session duration bounds imposed by STS.
	minSessionSeconds = 900
	maxSessionSeconds = 43200
)

// AssumeRoleConfig optionally elevates credentials before any object-store
// call. Elevated credentials are cached for the lifetime of one Store
// instance and re-derived per instance, never shared globally.
type AssumeRoleConfig struct {
	RoleARN         string
	ExternalID      string
	SessionName     string
	DurationSeconds int
}

type Config struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	RootPrefix string
	AssumeRole *AssumeRoleConfig
}

// Entry is one listed id or tag with the object's last-modified time.
type Entry struct {
	Name         string
	LastModified time.Time
}

// UploadRequest carries everything one push writes: the canonical artifact,
// the original files it was normalized from (paths relative to OriginalRoot),
// and an optional tag to bind afterwards.
type UploadRequest struct {
	Project       string
	Artifact      *artifact.Artifact
	OriginalRoot  string
	OriginalFiles []string
	Tag           string
}

type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	rootPrefix string
	initOnce   sync.Once
	initErr    error
}

func NewStore(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	rootPrefix := normalizePrefix(cfg.RootPrefix)

	creds := credentials.NewStaticV4(access, secret, "")
	if cfg.AssumeRole != nil {
		var err error
		creds, err = assumeRoleCredentials(endpoint, cfg.UseSSL, access, secret, region, *cfg.AssumeRole)
		if err != nil {
			return nil, fmt.Errorf("assume role: %w", err)
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}

	return &Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		rootPrefix: rootPrefix,
	}, nil
}

// assumeRoleCredentials derives temporary credentials via STS. The returned
// provider caches the session internally, so elevation happens once per
// store instance.
func assumeRoleCredentials(endpoint string, useSSL bool, access, secret, region string, ar AssumeRoleConfig) (*credentials.Credentials, error) {
	roleARN := strings.TrimSpace(ar.RoleARN)
	if roleARN == "" {
		return nil, fmt.Errorf("role ARN is required")
	}
	duration := ar.DurationSeconds
	if duration == 0 {
		duration = minSessionSeconds
	}
	if duration < minSessionSeconds || duration > maxSessionSeconds {
		return nil, fmt.Errorf("session duration %ds outside [%d, %d]", duration, minSessionSeconds, maxSessionSeconds)
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return credentials.NewSTSAssumeRole(scheme+"://"+endpoint, credentials.STSAssumeRoleOptions{
		AccessKey:       access,
		SecretKey:       secret,
		Location:        region,
		RoleARN:         roleARN,
		RoleSessionName: strings.TrimSpace(ar.SessionName),
		ExternalID:      strings.TrimSpace(ar.ExternalID),
		DurationSeconds: duration,
	})
}

func (s *Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// HasArtifactByID reports whether the id object exists.
func (s *Store) HasArtifactByID(ctx context.Context, project, id string) (bool, error) {
	return s.exists(ctx, s.idKey(project, id))
}

// HasArtifactByTag reports whether the tag object exists.
func (s *Store) HasArtifactByTag(ctx context.Context, project, tag string) (bool, error) {
	return s.exists(ctx, s.tagKey(project, tag))
}

// ListIDs lists the project's artifact ids with object mod times.
func (s *Store) ListIDs(ctx context.Context, project string) ([]Entry, error) {
	return s.list(ctx, s.rootPrefix+project+"/ids/")
}

// ListTags lists the project's tags with object mod times.
func (s *Store) ListTags(ctx context.Context, project string) ([]Entry, error) {
	return s.list(ctx, s.rootPrefix+project+"/tags/")
}

// ListProjects enumerates project namespaces under the root prefix.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	var projects []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.rootPrefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, s.rootPrefix), "/")
		if name != "" {
			projects = append(projects, name)
		}
	}
	return projects, nil
}

// UploadArtifact writes the canonical JSON at the id key, archives every
// original file under ids/<id>/original-content/, then optionally binds the
// tag. Side effects are strictly additive.
func (s *Store) UploadArtifact(ctx context.Context, req UploadRequest) error {
	if req.Artifact == nil {
		return fmt.Errorf("artifact is required")
	}
	project := strings.TrimSpace(req.Project)
	if project == "" {
		return fmt.Errorf("project is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	data, err := artifact.Encode(req.Artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := s.put(ctx, s.idKey(project, req.Artifact.ID), data, "application/json"); err != nil {
		return fmt.Errorf("upload artifact %s: %w", req.Artifact.ID, err)
	}

	if len(req.OriginalFiles) > 0 {
		fsys, err := safeio.New(req.OriginalRoot)
		if err != nil {
			return fmt.Errorf("open original root: %w", err)
		}
		for _, rel := range req.OriginalFiles {
			raw, err := fsys.ReadFile(rel)
			if err != nil {
				return fmt.Errorf("read original %s: %w", rel, err)
			}
			key := s.originalKey(project, req.Artifact.ID, rel)
			if err := s.put(ctx, key, raw, "application/octet-stream"); err != nil {
				return fmt.Errorf("archive original %s: %w", rel, err)
			}
		}
	}

	if tag := strings.TrimSpace(req.Tag); tag != "" {
		return s.TagArtifact(ctx, project, req.Artifact.ID, tag)
	}
	return nil
}

// TagArtifact binds a tag by copying the id object, so the tag always
// references exactly the bytes of an existing id. Re-tagging overwrites the
// previous pointer; the previously tagged content stays retrievable by id.
func (s *Store) TagArtifact(ctx context.Context, project, id, tag string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucketName, Object: s.tagKey(project, tag)},
		minio.CopySrcOptions{Bucket: s.bucketName, Object: s.idKey(project, id)},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("tag %s -> %s: %w", tag, id, err)
	}
	return nil
}

// DownloadArtifactByID streams the canonical artifact object. The caller owns
// the returned reader; contents are never buffered in full here.
func (s *Store) DownloadArtifactByID(ctx context.Context, project, id string) (io.ReadCloser, error) {
	return s.download(ctx, s.idKey(project, id))
}

// DownloadArtifactByTag streams the artifact object the tag points to.
func (s *Store) DownloadArtifactByTag(ctx context.Context, project, tag string) (io.ReadCloser, error) {
	return s.download(ctx, s.tagKey(project, tag))
}

// RetrieveArtifactByID downloads, parses and schema-validates an artifact.
func (s *Store) RetrieveArtifactByID(ctx context.Context, project, id string) (*artifact.Artifact, error) {
	return s.retrieve(ctx, s.idKey(project, id))
}

// RetrieveArtifactByTag downloads, parses and schema-validates the artifact
// the tag points to.
func (s *Store) RetrieveArtifactByTag(ctx context.Context, project, tag string) (*artifact.Artifact, error) {
	return s.retrieve(ctx, s.tagKey(project, tag))
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) list(ctx context.Context, prefix string) ([]Entry, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	var out []Entry
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		// Skip the ids/<id>/ prefixes holding archived originals.
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		base := strings.TrimPrefix(obj.Key, prefix)
		out = append(out, Entry{
			Name:         strings.TrimSuffix(base, ".json"),
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

func (s *Store) put(ctx context.Context, key string, content []byte, contentType string) error {
	if content == nil {
		content = []byte{}
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *Store) download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; force the first round trip so a missing key surfaces
	// here instead of on the caller's first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (s *Store) retrieve(ctx context.Context, key string) (*artifact.Artifact, error) {
	rc, err := s.download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	a, err := artifact.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return a, nil
}

func (s *Store) idKey(project, id string) string {
	return s.rootPrefix + project + "/ids/" + id + ".json"
}

func (s *Store) tagKey(project, tag string) string {
	return s.rootPrefix + project + "/tags/" + tag + ".json"
}

func (s *Store) originalKey(project, id, rel string) string {
	return s.rootPrefix + project + "/ids/" + id + "/original-content/" + SanitizeArchivePath(rel)
}

// SanitizeArchivePath strips leading "/" and "./" segments so archived
// original-content keys stay relative and collision-free.
func SanitizeArchivePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for {
		switch {
		case strings.HasPrefix(p, "/"):
			p = strings.TrimPrefix(p, "/")
		case strings.HasPrefix(p, "./"):
			p = strings.TrimPrefix(p, "./")
		default:
			return p
		}
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return DefaultRootPrefix
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
