package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solvault/internal/artifact"
	"solvault/internal/store/local"
	"solvault/internal/store/remote"
)

// fakeRemote is an in-memory RemoteStore. Objects are stored as encoded
// artifact bytes keyed project/name; downloads can be failed per key to
// exercise partial-failure paths.
type fakeRemote struct {
	mu        sync.Mutex
	tags      map[string][]byte
	ids       map[string][]byte
	originals map[string][]byte
	uploads   []remote.UploadRequest
	failKeys  map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tags:      map[string][]byte{},
		ids:       map[string][]byte{},
		originals: map[string][]byte{},
		failKeys:  map[string]error{},
	}
}

func (f *fakeRemote) seed(t *testing.T, project string, a *artifact.Artifact, tags ...string) {
	t.Helper()
	data, err := artifact.Encode(a)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[project+"/"+a.ID] = data
	for _, tag := range tags {
		f.tags[project+"/"+tag] = data
	}
}

func (f *fakeRemote) HasArtifactByTag(_ context.Context, project, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tags[project+"/"+tag]
	return ok, nil
}

func (f *fakeRemote) ListTags(_ context.Context, project string) ([]remote.Entry, error) {
	return f.listKind(f.tags, project), nil
}

func (f *fakeRemote) ListIDs(_ context.Context, project string) ([]remote.Entry, error) {
	return f.listKind(f.ids, project), nil
}

func (f *fakeRemote) listKind(kind map[string][]byte, project string) []remote.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Entry
	for key := range kind {
		if name, ok := strings.CutPrefix(key, project+"/"); ok {
			out = append(out, remote.Entry{Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *fakeRemote) UploadArtifact(_ context.Context, req remote.UploadRequest) error {
	data, err := artifact.Encode(req.Artifact)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	f.ids[req.Project+"/"+req.Artifact.ID] = data
	for _, rel := range req.OriginalFiles {
		raw, err := os.ReadFile(filepath.Join(req.OriginalRoot, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		f.originals[req.Project+"/"+req.Artifact.ID+"/"+remote.SanitizeArchivePath(rel)] = raw
	}
	if req.Tag != "" {
		f.tags[req.Project+"/"+req.Tag] = data
	}
	return nil
}

func (f *fakeRemote) DownloadArtifactByTag(_ context.Context, project, tag string) (io.ReadCloser, error) {
	return f.open(f.tags, project+"/"+tag, "tag:"+tag)
}

func (f *fakeRemote) DownloadArtifactByID(_ context.Context, project, id string) (io.ReadCloser, error) {
	return f.open(f.ids, project+"/"+id, "id:"+id)
}

func (f *fakeRemote) open(kind map[string][]byte, key, failKey string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failKeys[failKey]; ok {
		return nil, err
	}
	data, ok := kind[key]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func buildArtifact(t *testing.T, metas map[string]map[string]string) *artifact.Artifact {
	t.Helper()
	out := artifact.Output{Contracts: map[string]map[string]artifact.Contract{}}
	for path, byName := range metas {
		out.Contracts[path] = map[string]artifact.Contract{}
		for name, meta := range byName {
			out.Contracts[path][name] = artifact.Contract{Metadata: meta}
		}
	}
	return &artifact.Artifact{
		ID:              artifact.DeriveID(out),
		Origin:          artifact.Origin{ID: "build-1", Format: artifact.FormatHardhatBuildInfo},
		SolcLongVersion: "0.8.20+commit.a1b79de6",
		Input:           artifact.Input{Language: "Solidity"},
		Output:          out,
	}
}

// writeBuildInfoFixture writes a hardhat-style build info file holding the
// given per-contract metadata strings and returns its path.
func writeBuildInfoFixture(t *testing.T, dir string, metas map[string]map[string]string) string {
	t.Helper()
	contracts := map[string]map[string]map[string]any{}
	for path, byName := range metas {
		contracts[path] = map[string]map[string]any{}
		for name, meta := range byName {
			contracts[path][name] = map[string]any{"metadata": meta}
		}
	}
	doc := map[string]any{
		"_format":         string(artifact.FormatHardhatBuildInfo),
		"id":              "build-1",
		"solcLongVersion": "0.8.20+commit.a1b79de6",
		"input":           map[string]any{"language": "Solidity"},
		"output":          map[string]any{"contracts": contracts},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "build-1.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func newLocalStore(t *testing.T) *local.Store {
	t.Helper()
	s, err := local.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureSetup())
	return s
}

func TestPushReturnsDerivedID(t *testing.T) {
	metas := map[string]map[string]string{
		"src/Counter.sol": {"Counter": `{"compiler":{"version":"0.8.20"}}`},
	}
	path := writeBuildInfoFixture(t, t.TempDir(), metas)
	store := newFakeRemote()

	id, err := Push(context.Background(), path, "demo", "", store, Options{})
	require.NoError(t, err)
	assert.Equal(t, buildArtifact(t, metas).ID, id)

	require.Len(t, store.uploads, 1)
	up := store.uploads[0]
	assert.Equal(t, "demo", up.Project)
	assert.Empty(t, up.Tag)
	// The exact original file travels with the artifact.
	assert.Contains(t, store.originals, "demo/"+id+"/build-1.json")
}

func TestPushRequiresProject(t *testing.T) {
	_, err := Push(context.Background(), "irrelevant", "  ", "", newFakeRemote(), Options{})
	assert.True(t, IsKind(err, KindBadInput))
}

func TestPushRejectsMissingPath(t *testing.T) {
	_, err := Push(context.Background(), filepath.Join(t.TempDir(), "nope"), "demo", "", newFakeRemote(), Options{})
	assert.True(t, IsKind(err, KindBadInput))
}

func TestPushRejectsAmbiguousDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{}"), 0o644))

	_, err := Push(context.Background(), dir, "demo", "", newFakeRemote(), Options{})
	require.True(t, IsKind(err, KindBadInput))
	assert.Contains(t, err.Error(), "candidates")
}

func TestPushPrefersBuildInfoSubdirectory(t *testing.T) {
	metas := map[string]map[string]string{
		"src/Counter.sol": {"Counter": `{"v":"1"}`},
	}
	dir := t.TempDir()
	biDir := filepath.Join(dir, "build-info")
	require.NoError(t, os.Mkdir(biDir, 0o755))
	writeBuildInfoFixture(t, biDir, metas)
	// Stray JSON outside build-info must not make the search ambiguous.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.json"), []byte("{}"), 0o644))

	id, err := Push(context.Background(), dir, "demo", "", newFakeRemote(), Options{})
	require.NoError(t, err)
	assert.Equal(t, buildArtifact(t, metas).ID, id)
}

func TestPushTagConflict(t *testing.T) {
	metas := map[string]map[string]string{
		"src/Counter.sol": {"Counter": `{"v":"1"}`},
	}
	path := writeBuildInfoFixture(t, t.TempDir(), metas)
	store := newFakeRemote()
	store.seed(t, "demo", buildArtifact(t, map[string]map[string]string{
		"src/Old.sol": {"Old": `{"v":"0"}`},
	}), "v1.0.0")

	_, err := Push(context.Background(), path, "demo", "v1.0.0", store, Options{})
	require.True(t, IsKind(err, KindTagExists))
	// The conflicting push must not have uploaded anything.
	assert.Empty(t, store.uploads)

	id, err := Push(context.Background(), path, "demo", "v1.0.0", store, Options{Force: true})
	require.NoError(t, err)
	require.Len(t, store.uploads, 1)
	assert.Equal(t, "v1.0.0", store.uploads[0].Tag)
	assert.Equal(t, id, store.uploads[0].Artifact.ID)
}

func TestPushSameContentTwiceIsIdempotentByID(t *testing.T) {
	metas := map[string]map[string]string{
		"src/Counter.sol": {"Counter": `{"v":"1"}`},
	}
	path := writeBuildInfoFixture(t, t.TempDir(), metas)
	store := newFakeRemote()

	first, err := Push(context.Background(), path, "demo", "", store, Options{})
	require.NoError(t, err)
	second, err := Push(context.Background(), path, "demo", "", store, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, store.ids, 1)
}

func TestPullEverything(t *testing.T) {
	store := newFakeRemote()
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	b := buildArtifact(t, map[string]map[string]string{"src/B.sol": {"B": `{"v":"b"}`}})
	store.seed(t, "demo", a, "stable")
	store.seed(t, "demo", b)
	localStore := newLocalStore(t)

	result, err := Pull(context.Background(), "demo", "", store, localStore, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"stable"}, result.RemoteTags)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, result.RemoteIDs)
	assert.Equal(t, []string{"stable"}, result.PulledTags)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, result.PulledIDs)
	assert.Empty(t, result.FailedTags)
	assert.Empty(t, result.FailedIDs)

	got, err := localStore.RetrieveArtifactByTag("demo", "stable")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	_, err = localStore.RetrieveArtifactByID("demo", b.ID)
	require.NoError(t, err)
}

func TestPullSkipsAlreadyPresent(t *testing.T) {
	store := newFakeRemote()
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	store.seed(t, "demo", a, "stable")
	localStore := newLocalStore(t)
	require.NoError(t, localStore.CreateArtifactByTag("demo", "stable", a))
	require.NoError(t, localStore.CreateArtifactByID("demo", a))

	result, err := Pull(context.Background(), "demo", "", store, localStore, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.PulledTags)
	assert.Empty(t, result.PulledIDs)

	forced, err := Pull(context.Background(), "demo", "", store, localStore, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"stable"}, forced.PulledTags)
	assert.Equal(t, []string{a.ID}, forced.PulledIDs)
}

func TestPullSelector(t *testing.T) {
	store := newFakeRemote()
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	b := buildArtifact(t, map[string]map[string]string{"src/B.sol": {"B": `{"v":"b"}`}})
	store.seed(t, "demo", a, "stable")
	store.seed(t, "demo", b)

	t.Run("by tag", func(t *testing.T) {
		localStore := newLocalStore(t)
		result, err := Pull(context.Background(), "demo", "stable", store, localStore, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"stable"}, result.PulledTags)
		assert.Empty(t, result.PulledIDs)
	})

	t.Run("by id", func(t *testing.T) {
		localStore := newLocalStore(t)
		result, err := Pull(context.Background(), "demo", b.ID, store, localStore, Options{})
		require.NoError(t, err)
		assert.Empty(t, result.PulledTags)
		assert.Equal(t, []string{b.ID}, result.PulledIDs)
	})

	t.Run("no match", func(t *testing.T) {
		localStore := newLocalStore(t)
		_, err := Pull(context.Background(), "demo", "v9.9.9", store, localStore, Options{})
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestPullIsolatesPerUnitFailures(t *testing.T) {
	store := newFakeRemote()
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	b := buildArtifact(t, map[string]map[string]string{"src/B.sol": {"B": `{"v":"b"}`}})
	c := buildArtifact(t, map[string]map[string]string{"src/C.sol": {"C": `{"v":"c"}`}})
	store.seed(t, "demo", a, "stable")
	store.seed(t, "demo", b)
	store.seed(t, "demo", c)
	store.failKeys["id:"+b.ID] = fmt.Errorf("connection reset")
	localStore := newLocalStore(t)

	result, err := Pull(context.Background(), "demo", "", store, localStore, Options{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"stable"}, result.PulledTags)
	assert.ElementsMatch(t, []string{a.ID, c.ID}, result.PulledIDs)
	assert.Equal(t, []string{b.ID}, result.FailedIDs)

	// The failed unit left nothing behind; the others are intact.
	ok, err := localStore.HasID("demo", b.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = localStore.HasID("demo", c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPullRejectsIDContentMismatch(t *testing.T) {
	store := newFakeRemote()
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	data, err := artifact.Encode(a)
	require.NoError(t, err)
	// The object sits under a key that is not its content-derived id.
	store.ids["demo/aaaaaaaaaaaa"] = data
	localStore := newLocalStore(t)

	result, err := Pull(context.Background(), "demo", "", store, localStore, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaaaaaaaaaa"}, result.FailedIDs)

	ok, err := localStore.HasID("demo", "aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDedupesTaggedIDs(t *testing.T) {
	localStore := newLocalStore(t)
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	b := buildArtifact(t, map[string]map[string]string{"src/B.sol": {"B": `{"v":"b"}`}})
	require.NoError(t, localStore.CreateArtifactByID("demo", a))
	require.NoError(t, localStore.CreateArtifactByID("demo", b))
	require.NoError(t, localStore.CreateArtifactByTag("demo", "v1", a))

	rows, err := ListPulledArtifacts(localStore, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// The tagged id shows once, as its tag row; the untagged id shows bare.
	assert.Equal(t, "v1", rows[0].Tag)
	assert.Equal(t, a.ID, rows[0].ID)
	assert.Empty(t, rows[1].Tag)
	assert.Equal(t, b.ID, rows[1].ID)
}

func TestListSpansProjects(t *testing.T) {
	localStore := newLocalStore(t)
	a := buildArtifact(t, map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}})
	require.NoError(t, localStore.CreateArtifactByTag("alpha", "v1", a))
	require.NoError(t, localStore.CreateArtifactByTag("beta", "v1", a))

	rows, err := ListPulledArtifacts(localStore, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].Project)
	assert.Equal(t, "beta", rows[1].Project)
}

func TestDiffClassifiesContractChanges(t *testing.T) {
	localStore := newLocalStore(t)
	stored := buildArtifact(t, map[string]map[string]string{
		"src/Keep.sol":   {"Keep": `{"v":"same"}`},
		"src/Change.sol": {"Change": `{"v":"old"}`},
		"src/Gone.sol":   {"Gone": `{"v":"gone"}`},
	})
	require.NoError(t, localStore.CreateArtifactByTag("demo", "v1", stored))

	candidate := writeBuildInfoFixture(t, t.TempDir(), map[string]map[string]string{
		"src/Keep.sol":   {"Keep": `{"v":"same"}`},
		"src/Change.sol": {"Change": `{"v":"new"}`},
		"src/New.sol":    {"New": `{"v":"new"}`},
	})

	diffs, err := Diff(candidate, DiffTarget{Project: "demo", TagOrID: "v1"}, localStore, Options{})
	require.NoError(t, err)

	assert.Equal(t, []Difference{
		{Contract: "src/Change.sol:Change", Kind: ChangeChanged},
		{Contract: "src/Gone.sol:Gone", Kind: ChangeRemoved},
		{Contract: "src/New.sol:New", Kind: ChangeAdded},
	}, diffs)
}

func TestDiffResolvesTargetByIDToo(t *testing.T) {
	localStore := newLocalStore(t)
	metas := map[string]map[string]string{"src/A.sol": {"A": `{"v":"a"}`}}
	stored := buildArtifact(t, metas)
	require.NoError(t, localStore.CreateArtifactByID("demo", stored))

	candidate := writeBuildInfoFixture(t, t.TempDir(), metas)
	diffs, err := Diff(candidate, DiffTarget{Project: "demo", TagOrID: stored.ID}, localStore, Options{})
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestDiffUnknownTargetIsNotFound(t *testing.T) {
	localStore := newLocalStore(t)
	require.NoError(t, localStore.EnsureProjectSetup("demo"))
	candidate := writeBuildInfoFixture(t, t.TempDir(), map[string]map[string]string{
		"src/A.sol": {"A": `{"v":"a"}`},
	})

	_, err := Diff(candidate, DiffTarget{Project: "demo", TagOrID: "ghost"}, localStore, Options{})
	assert.True(t, IsKind(err, KindNotFound))
}
