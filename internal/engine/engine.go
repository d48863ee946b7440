// Package engine orchestrates push, pull, diff, and list across the local
// cache and the remote repository. It is the only layer that turns store and
// normalizer failures into user-facing errors or structured partial results.
package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strings"
	"sync"

	"solvault/internal/artifact"
	"solvault/internal/normalize"
	"solvault/internal/store/local"
	"solvault/internal/store/remote"
)

// defaultPullWidth bounds the concurrent download fan-out. Units are
// independent and idempotent, so the bound changes throughput, not semantics.
const defaultPullWidth = 8

// RemoteStore is the object-store capability the engine depends on,
// satisfied by *remote.Store and by test fakes.
type RemoteStore interface {
	HasArtifactByTag(ctx context.Context, project, tag string) (bool, error)
	ListIDs(ctx context.Context, project string) ([]remote.Entry, error)
	ListTags(ctx context.Context, project string) ([]remote.Entry, error)
	UploadArtifact(ctx context.Context, req remote.UploadRequest) error
	DownloadArtifactByID(ctx context.Context, project, id string) (io.ReadCloser, error)
	DownloadArtifactByTag(ctx context.Context, project, tag string) (io.ReadCloser, error)
}

// Options adjust engine behavior without changing observable invariants.
type Options struct {
	// Force overrides the tag-exists check on push and the already-present
	// filter on pull.
	Force bool
	// Debug surfaces underlying causes and normalizer diagnostics in the log.
	// It never changes control flow.
	Debug bool
	// Concurrency bounds the pull fan-out; <= 0 selects the default.
	Concurrency int
}

// PullResult reports a pull, with partial failure as a first-class outcome:
// failed units are data here, not errors.
type PullResult struct {
	RemoteTags []string
	RemoteIDs  []string
	PulledTags []string
	PulledIDs  []string
	FailedTags []string
	FailedIDs  []string
}

// Push locates a candidate build output, normalizes it, derives its id,
// claims the optional tag, and uploads artifact plus originals. It returns
// the derived id. Side effects are strictly additive to the remote store.
//
// The tag-existence check and the upload are not one transaction; two pushes
// racing on the same new tag can both pass the check. Accepted gap.
func Push(ctx context.Context, artifactPath, project, tag string, store RemoteStore, opts Options) (string, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return "", badInput(nil, "project is required")
	}

	located, err := locateBuildOutput(artifactPath)
	if err != nil {
		return "", badInput(err, "cannot locate a build output at %s", artifactPath)
	}

	result, err := normalize.Normalize(located)
	if err != nil {
		return "", badInput(err, "cannot normalize %s", located)
	}
	if opts.Debug {
		for _, d := range result.Diagnostics {
			log.Printf("normalize: %s", d)
		}
	}
	a := result.Artifact

	tag = strings.TrimSpace(tag)
	if tag != "" {
		taken, err := store.HasArtifactByTag(ctx, project, tag)
		if err != nil {
			return "", internal(err, "checking tag %q in project %s", tag, project)
		}
		if taken {
			if !opts.Force {
				return "", tagExists(tag)
			}
			log.Printf("warning: tag %q already exists in project %s, re-pointing it to %s", tag, project, a.ID)
		}
	}

	err = store.UploadArtifact(ctx, remote.UploadRequest{
		Project:       project,
		Artifact:      a,
		OriginalRoot:  result.Root,
		OriginalFiles: result.SourceFiles,
		Tag:           tag,
	})
	if err != nil {
		return "", internal(err, "uploading artifact %s to project %s", a.ID, project)
	}
	if opts.Debug {
		log.Printf("pushed %s (origin %s, format %s) to project %s", a.ID, a.Origin.ID, a.Origin.Format, project)
	}
	return a.ID, nil
}

// unitKind tags a pull unit of work as a tag or an id download.
type unitKind int

const (
	unitTag unitKind = iota
	unitID
)

type pullUnit struct {
	kind unitKind
	key  string
}

type unitOutcome struct {
	unit pullUnit
	err  error
}

// Pull reconciles the local store against the remote one: list, resolve the
// optional selector, drop what is already present (unless forced), then
// download and persist the remaining tags and ids concurrently. A failing
// unit never aborts or rolls back the others.
func Pull(ctx context.Context, project, tagOrID string, store RemoteStore, localStore *local.Store, opts Options) (*PullResult, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, badInput(nil, "project is required")
	}

	remoteTagEntries, err := store.ListTags(ctx, project)
	if err != nil {
		return nil, internal(err, "listing remote tags for project %s", project)
	}
	remoteIDEntries, err := store.ListIDs(ctx, project)
	if err != nil {
		return nil, internal(err, "listing remote ids for project %s", project)
	}

	result := &PullResult{
		RemoteTags: entryNames(remoteTagEntries),
		RemoteIDs:  entryNames(remoteIDEntries),
	}

	wantTags, wantIDs := result.RemoteTags, result.RemoteIDs
	if selector := strings.TrimSpace(tagOrID); selector != "" {
		switch {
		case contains(result.RemoteTags, selector):
			wantTags, wantIDs = []string{selector}, nil
		case contains(result.RemoteIDs, selector):
			wantTags, wantIDs = nil, []string{selector}
		default:
			return nil, notFound("%q matches no remote tag or id in project %s", selector, project)
		}
	}

	units := make([]pullUnit, 0, len(wantTags)+len(wantIDs))
	for _, tag := range wantTags {
		if !opts.Force {
			// Presence only: an existing local tag file is trusted as-is.
			present, err := localStore.HasTag(project, tag)
			if err != nil {
				return nil, internal(err, "checking local tag %q", tag)
			}
			if present {
				continue
			}
		}
		units = append(units, pullUnit{kind: unitTag, key: tag})
	}
	for _, id := range wantIDs {
		if !opts.Force {
			present, err := localStore.HasID(project, id)
			if err != nil {
				return nil, internal(err, "checking local id %q", id)
			}
			if present {
				continue
			}
		}
		units = append(units, pullUnit{kind: unitID, key: id})
	}

	outcomes := runPullUnits(ctx, project, units, store, localStore, opts)
	for _, out := range outcomes {
		switch {
		case out.err == nil && out.unit.kind == unitTag:
			result.PulledTags = append(result.PulledTags, out.unit.key)
		case out.err == nil:
			result.PulledIDs = append(result.PulledIDs, out.unit.key)
		case out.unit.kind == unitTag:
			result.FailedTags = append(result.FailedTags, out.unit.key)
			if opts.Debug {
				log.Printf("pull tag %q failed: %v", out.unit.key, out.err)
			}
		default:
			result.FailedIDs = append(result.FailedIDs, out.unit.key)
			if opts.Debug {
				log.Printf("pull id %q failed: %v", out.unit.key, out.err)
			}
		}
	}

	sort.Strings(result.PulledTags)
	sort.Strings(result.PulledIDs)
	sort.Strings(result.FailedTags)
	sort.Strings(result.FailedIDs)
	return result, nil
}

// runPullUnits fans the units out over a bounded worker set and collects one
// outcome per unit. Each outcome carries its originating key so the caller
// classifies failures without guessing.
func runPullUnits(ctx context.Context, project string, units []pullUnit, store RemoteStore, localStore *local.Store, opts Options) []unitOutcome {
	width := opts.Concurrency
	if width <= 0 {
		width = defaultPullWidth
	}
	if width > len(units) {
		width = len(units)
	}

	sem := make(chan struct{}, max(width, 1))
	results := make(chan unitOutcome, len(units))
	var wg sync.WaitGroup
	for _, unit := range units {
		wg.Add(1)
		go func(u pullUnit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- unitOutcome{unit: u, err: pullOne(ctx, project, u, store, localStore)}
		}(unit)
	}
	wg.Wait()
	close(results)

	out := make([]unitOutcome, 0, len(units))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// pullOne downloads, decodes, validates, and persists a single tag or id.
// It is idempotent against its own key and touches no other unit's files.
func pullOne(ctx context.Context, project string, unit pullUnit, store RemoteStore, localStore *local.Store) error {
	var (
		rc  io.ReadCloser
		err error
	)
	if unit.kind == unitTag {
		rc, err = store.DownloadArtifactByTag(ctx, project, unit.key)
	} else {
		rc, err = store.DownloadArtifactByID(ctx, project, unit.key)
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	a, err := artifact.Decode(raw)
	if err != nil {
		return err
	}
	if unit.kind == unitID {
		if a.ID != unit.key {
			return errors.New("downloaded artifact content does not match requested id " + unit.key)
		}
		return localStore.CreateArtifactByID(project, a)
	}
	return localStore.CreateArtifactByTag(project, unit.key, a)
}

func entryNames(entries []remote.Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
