package normalize

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"solvault/internal/artifact"
)

// foundryManifest is the root cache manifest of the scattered foundry layout:
// a map of small integer contract identifiers to source file paths. The
// per-contract outputs live in sibling files under the project root.
type foundryManifest struct {
	Format string            `json:"_format"`
	Files  map[string]string `json:"files"`

	path string
	raw  []byte
}

// ReconstructionError signals a corrupted or partial scattered build: the
// scanned per-contract files did not cover every source path the manifest
// declares. It is fatal and never retried.
type ReconstructionError struct {
	ManifestPath string
	Declared     int
	Found        int
}

func (e *ReconstructionError) Error() string {
	return fmt.Sprintf(
		"scattered build at %s is incomplete: manifest declares %d source paths but contract files cover %d; re-run the build before pushing",
		e.ManifestPath, e.Declared, e.Found,
	)
}

func probeFoundryManifest(raw []byte, probe map[string]json.RawMessage) (*foundryManifest, bool) {
	rawFiles, ok := probe["files"]
	if !ok {
		return nil, false
	}
	var files map[string]string
	if err := json.Unmarshal(rawFiles, &files); err != nil {
		return nil, false
	}
	if len(files) == 0 {
		return nil, false
	}
	for id, sourcePath := range files {
		if _, err := strconv.Atoi(id); err != nil {
			return nil, false
		}
		if strings.TrimSpace(sourcePath) == "" {
			return nil, false
		}
	}

	var m foundryManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}

// foundryContract is one per-contract output file of the scattered layout.
type foundryContract struct {
	ABI               json.RawMessage   `json:"abi"`
	Bytecode          json.RawMessage   `json:"bytecode"`
	DeployedBytecode  json.RawMessage   `json:"deployedBytecode"`
	MethodIdentifiers map[string]string `json:"methodIdentifiers"`
	RawMetadata       string            `json:"rawMetadata"`
	Metadata          *solcMetadata     `json:"metadata"`
}

// solcMetadata is the structured metadata the compiler embeds per contract.
// Its settings are invocation-wide, so the first contract seen supplies them.
type solcMetadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Language string `json:"language"`
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
		Optimizer         json.RawMessage   `json:"optimizer"`
		EVMVersion        string            `json:"evmVersion"`
		ViaIR             *bool             `json:"viaIR"`
		Metadata          json.RawMessage   `json:"metadata"`
		Remappings        []string          `json:"remappings"`
		Libraries         map[string]string `json:"libraries"` // "file:lib" -> address
	} `json:"settings"`
	Sources map[string]struct {
		Content string `json:"content"`
	} `json:"sources"`
	Output struct {
		Devdoc  json.RawMessage `json:"devdoc"`
		Userdoc json.RawMessage `json:"userdoc"`
	} `json:"output"`
}

// normalizeFoundry reconstructs one canonical artifact from a manifest plus
// every per-contract output file found under the project root. Fields the
// scattered format does not emit (IR, storage layout, gas estimates) are left
// absent rather than guessed.
func normalizeFoundry(m *foundryManifest) (*Result, error) {
	manifestDir := filepath.Dir(m.path)
	projectRoot := filepath.Dir(manifestDir)

	candidates, err := contractFiles(projectRoot, manifestDir)
	if err != nil {
		return nil, fmt.Errorf("scan contract outputs under %s: %w", projectRoot, err)
	}

	var (
		diags       []string
		sourceFiles []string
		solcVersion string
		input       artifact.Input
		contracts   = map[string]map[string]artifact.Contract{}
	)
	input.Sources = map[string]artifact.SourceFile{}

	for _, rel := range candidates {
		full := filepath.Join(projectRoot, rel)
		raw, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read contract output %s: %w", rel, err)
		}
		var fc foundryContract
		if err := json.Unmarshal(raw, &fc); err != nil || fc.Metadata == nil || fc.RawMetadata == "" {
			diags = append(diags, fmt.Sprintf("%s: not a contract output, skipped", rel))
			continue
		}

		target := fc.Metadata.Settings.CompilationTarget
		if len(target) != 1 {
			diags = append(diags, fmt.Sprintf("%s: expected exactly one compilation target, found %d, skipped", rel, len(target)))
			continue
		}
		var sourcePath, contractName string
		for p, n := range target {
			sourcePath, contractName = p, n
		}

		if _, ok := contracts[sourcePath][contractName]; ok {
			diags = append(diags, fmt.Sprintf("%s: duplicate output for %s:%s, first occurrence kept", rel, sourcePath, contractName))
			continue
		}

		// Invocation-wide values come from the first contract seen.
		if solcVersion == "" {
			solcVersion = fc.Metadata.Compiler.Version
			input.Language = fc.Metadata.Language
			input.Settings.Optimizer = fc.Metadata.Settings.Optimizer
			input.Settings.EVMVersion = fc.Metadata.Settings.EVMVersion
			input.Settings.ViaIR = fc.Metadata.Settings.ViaIR
			input.Settings.Metadata = fc.Metadata.Settings.Metadata
			input.Settings.Remappings = fc.Metadata.Settings.Remappings
		}
		mergeLibraries(&input.Settings, fc.Metadata.Settings.Libraries)
		for path, src := range fc.Metadata.Sources {
			if _, ok := input.Sources[path]; !ok {
				input.Sources[path] = artifact.SourceFile{Content: src.Content}
			}
		}

		if contracts[sourcePath] == nil {
			contracts[sourcePath] = map[string]artifact.Contract{}
		}
		contracts[sourcePath][contractName] = artifact.Contract{
			ABI:      fc.ABI,
			Metadata: fc.RawMetadata,
			Userdoc:  fc.Metadata.Output.Userdoc,
			Devdoc:   fc.Metadata.Output.Devdoc,
			EVM: &artifact.EVM{
				Bytecode:          fc.Bytecode,
				DeployedBytecode:  fc.DeployedBytecode,
				MethodIdentifiers: fc.MethodIdentifiers,
			},
		}
		sourceFiles = append(sourceFiles, rel)
	}

	declared := map[string]struct{}{}
	for _, sourcePath := range m.Files {
		declared[sourcePath] = struct{}{}
	}
	if len(contracts) != len(declared) {
		return nil, &ReconstructionError{
			ManifestPath: m.path,
			Declared:     len(declared),
			Found:        len(contracts),
		}
	}

	output := artifact.Output{Contracts: contracts}
	a := &artifact.Artifact{
		ID: artifact.DeriveID(output),
		Origin: artifact.Origin{
			ID:     artifact.FileChecksum(m.raw),
			Format: artifact.FormatFoundryOut,
		},
		SolcLongVersion: solcVersion,
		Input:           input,
		Output:          output,
	}
	if err := artifact.Validate(a); err != nil {
		return nil, &FormatError{Path: m.path, Hint: "scattered build reconstructed but did not normalize to a valid artifact", Err: err}
	}

	manifestRel, err := filepath.Rel(projectRoot, m.path)
	if err != nil {
		manifestRel = filepath.Base(m.path)
	}
	return &Result{
		Artifact:    a,
		Root:        projectRoot,
		SourceFiles: append([]string{filepath.ToSlash(manifestRel)}, sourceFiles...),
		Diagnostics: diags,
	}, nil
}

// mergeLibraries folds a per-contract "file:lib" -> address map into the
// canonical file -> {lib: address} representation.
func mergeLibraries(settings *artifact.Settings, libs map[string]string) {
	for key, addr := range libs {
		sep := strings.LastIndex(key, ":")
		if sep <= 0 || sep == len(key)-1 {
			continue
		}
		file, lib := key[:sep], key[sep+1:]
		if settings.Libraries == nil {
			settings.Libraries = map[string]map[string]string{}
		}
		if settings.Libraries[file] == nil {
			settings.Libraries[file] = map[string]string{}
		}
		if _, ok := settings.Libraries[file][lib]; !ok {
			settings.Libraries[file][lib] = addr
		}
	}
}

// contractFiles walks the project root and returns repo-relative paths of
// candidate per-contract output files, excluding the manifest's own directory.
func contractFiles(projectRoot, excludeDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if samePath(path, excludeDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
