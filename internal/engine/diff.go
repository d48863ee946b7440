package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"sort"

	"solvault/internal/artifact"
	"solvault/internal/normalize"
	"solvault/internal/store/local"
)

// ChangeKind classifies one contract key in a diff. Unchanged contracts are
// omitted from the output entirely.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// Difference is one contract-level change, keyed "sourcePath:contractName".
type Difference struct {
	Contract string
	Kind     ChangeKind
}

// DiffTarget names the stored release to compare against, by tag or by id,
// within a project.
type DiffTarget struct {
	Project string
	TagOrID string
}

// Diff normalizes a local candidate build output and compares it contract by
// contract against a release already pulled into the local store. Used as a
// pre-flight inspection before pushing a new tag.
func Diff(artifactPath string, target DiffTarget, localStore *local.Store, opts Options) ([]Difference, error) {
	located, err := locateBuildOutput(artifactPath)
	if err != nil {
		return nil, badInput(err, "cannot locate a build output at %s", artifactPath)
	}
	result, err := normalize.Normalize(located)
	if err != nil {
		return nil, badInput(err, "cannot normalize %s", located)
	}
	if opts.Debug {
		for _, d := range result.Diagnostics {
			log.Printf("normalize: %s", d)
		}
	}

	stored, err := resolveLocal(localStore, target)
	if err != nil {
		return nil, err
	}
	return diffOutputs(result.Artifact.Output, stored.Output), nil
}

// resolveLocal looks the target up as a tag first, then as an id.
func resolveLocal(localStore *local.Store, target DiffTarget) (*artifact.Artifact, error) {
	a, err := localStore.RetrieveArtifactByTag(target.Project, target.TagOrID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, local.ErrNotFound) {
		return nil, internal(err, "reading tag %q in project %s", target.TagOrID, target.Project)
	}
	a, err = localStore.RetrieveArtifactByID(target.Project, target.TagOrID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, local.ErrNotFound) {
		return nil, internal(err, "reading id %q in project %s", target.TagOrID, target.Project)
	}
	return nil, notFound("%q matches no pulled tag or id in project %s; pull the release first", target.TagOrID, target.Project)
}

// diffOutputs classifies every contract key as added, removed, or changed,
// comparing canonical content.
func diffOutputs(candidate, stored artifact.Output) []Difference {
	candidateByKey := contractsByKey(candidate)
	storedByKey := contractsByKey(stored)

	var diffs []Difference
	for key, c := range candidateByKey {
		s, ok := storedByKey[key]
		if !ok {
			diffs = append(diffs, Difference{Contract: key, Kind: ChangeAdded})
			continue
		}
		if !sameContract(c, s) {
			diffs = append(diffs, Difference{Contract: key, Kind: ChangeChanged})
		}
	}
	for key := range storedByKey {
		if _, ok := candidateByKey[key]; !ok {
			diffs = append(diffs, Difference{Contract: key, Kind: ChangeRemoved})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Contract < diffs[j].Contract })
	return diffs
}

func contractsByKey(out artifact.Output) map[string]artifact.Contract {
	byKey := map[string]artifact.Contract{}
	for path, contracts := range out.Contracts {
		for name, c := range contracts {
			byKey[path+":"+name] = c
		}
	}
	return byKey
}

func sameContract(a, b artifact.Contract) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
