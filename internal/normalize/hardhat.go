package normalize

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"solvault/internal/artifact"
)

// buildInfoFile is the single-file hardhat build-info shape shared by the v1
// and v3 formats. The v3 variant carries extra invocation fields inside input;
// unmarshalling into the typed canonical Input strips them.
type buildInfoFile struct {
	Format          string          `json:"_format"`
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           artifact.Input  `json:"input"`
	Output          artifact.Output `json:"output"`

	raw []byte
}

func probeBuildInfo(raw []byte, probe map[string]json.RawMessage) (*buildInfoFile, bool) {
	rawFormat, ok := probe["_format"]
	if !ok {
		return nil, false
	}
	var format string
	if err := json.Unmarshal(rawFormat, &format); err != nil {
		return nil, false
	}
	if format != string(artifact.FormatHardhatBuildInfo) && format != string(artifact.FormatHardhat3BuildInfo) {
		return nil, false
	}
	if _, ok := probe["input"]; !ok {
		return nil, false
	}
	if _, ok := probe["output"]; !ok {
		return nil, false
	}

	var bi buildInfoFile
	if err := json.Unmarshal(raw, &bi); err != nil {
		return nil, false
	}
	if strings.TrimSpace(bi.SolcLongVersion) == "" {
		return nil, false
	}
	if len(bi.Output.Contracts) == 0 {
		return nil, false
	}
	return &bi, true
}

func normalizeBuildInfo(path string, format artifact.Format, bi *buildInfoFile) (*Result, error) {
	originID := strings.TrimSpace(bi.ID)
	if originID == "" {
		originID = artifact.FileChecksum(bi.raw)
	}

	a := &artifact.Artifact{
		ID: artifact.DeriveID(bi.Output),
		Origin: artifact.Origin{
			ID:     originID,
			Format: format,
		},
		SolcLongVersion: bi.SolcLongVersion,
		Input:           bi.Input,
		Output:          bi.Output,
	}
	if err := artifact.Validate(a); err != nil {
		return nil, &FormatError{Path: path, Hint: "build info parsed but did not normalize to a valid artifact", Err: err}
	}

	return &Result{
		Artifact:    a,
		Root:        filepath.Dir(path),
		SourceFiles: []string{filepath.Base(path)},
	}, nil
}
