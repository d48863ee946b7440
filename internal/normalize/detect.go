// Package normalize maps heterogeneous compiler build outputs into the
// canonical artifact schema. Detection probes a closed set of structural
// shapes in priority order and reports the first one that validates.
package normalize

import (
	"encoding/json"
	"fmt"
	"os"

	"solvault/internal/artifact"
)

// FormatError reports a build output that could not be recognized or
// normalized. Hint carries targeted guidance based on telltale marker fields.
type FormatError struct {
	Path string
	Hint string
	Err  error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("unrecognized build output %s", e.Path)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// DetectedFormat is the sum of every shape Detect can recognize. Exactly one
// variant pointer is non-nil, matching Format.
type DetectedFormat struct {
	Format artifact.Format

	BuildInfo *buildInfoFile   // FormatHardhatBuildInfo / FormatHardhat3BuildInfo
	Manifest  *foundryManifest // FormatFoundryOut
}

// Result is a normalized artifact plus the original files that produced it.
// SourceFiles are relative to Root so the remote store can archive them under
// stable keys.
type Result struct {
	Artifact    *artifact.Artifact
	Root        string
	SourceFiles []string
	Diagnostics []string
}

// Detect reads the candidate file and classifies it. Formats are tried in
// order: hardhat build info, hardhat v3 build info, foundry manifest.
func Detect(path string) (*DetectedFormat, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build output: %w", err)
	}
	return detectRaw(path, raw)
}

func detectRaw(path string, raw []byte) (*DetectedFormat, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &FormatError{Path: path, Hint: "file is not a JSON object", Err: err}
	}

	if bi, ok := probeBuildInfo(raw, probe); ok {
		format := artifact.FormatHardhatBuildInfo
		if bi.Format == string(artifact.FormatHardhat3BuildInfo) {
			format = artifact.FormatHardhat3BuildInfo
		}
		bi.raw = raw
		return &DetectedFormat{Format: format, BuildInfo: bi}, nil
	}

	if m, ok := probeFoundryManifest(raw, probe); ok {
		m.raw = raw
		m.path = path
		return &DetectedFormat{Format: artifact.FormatFoundryOut, Manifest: m}, nil
	}

	return nil, &FormatError{Path: path, Hint: detectionHint(probe)}
}

// detectionHint inspects marker fields of a file that matched no format, so
// the user learns which toolchain's shape it resembles instead of a generic
// failure. This matters most when a toolchain upgrade drifts the schema.
func detectionHint(probe map[string]json.RawMessage) string {
	if rawFormat, ok := probe["_format"]; ok {
		var format string
		_ = json.Unmarshal(rawFormat, &format)
		return fmt.Sprintf("has a build-info _format marker (%q) but its input/output sections did not validate; the toolchain version may be newer than this tool supports", format)
	}
	if _, ok := probe["files"]; ok {
		return "has a scattered-format manifest shape (a files map) but its entries did not validate as contract-id to source-path pairs"
	}
	return "no recognized format marker; expected a hardhat build-info file or a foundry cache manifest"
}

// Normalize detects the format of the file at path and converts it into a
// canonical artifact, returning the original files consumed along the way.
func Normalize(path string) (*Result, error) {
	detected, err := Detect(path)
	if err != nil {
		return nil, err
	}
	switch {
	case detected.BuildInfo != nil:
		return normalizeBuildInfo(path, detected.Format, detected.BuildInfo)
	case detected.Manifest != nil:
		return normalizeFoundry(detected.Manifest)
	default:
		return nil, &FormatError{Path: path, Hint: "detector produced no variant"}
	}
}
