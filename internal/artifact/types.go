package artifact

import (
	"encoding/json"
	"sort"
)

// Format identifies the compiler output format an artifact was normalized from.
type Format string

const (
	// FormatHardhatBuildInfo is the single-file hardhat build-info format.
	FormatHardhatBuildInfo Format = "hh-sol-build-info-1"
	// FormatHardhat3BuildInfo is the hardhat v3 build-info variant with an
	// extended input section.
	FormatHardhat3BuildInfo Format = "hh3-sol-build-info-1"
	// FormatFoundryOut is the scattered foundry layout: a cache manifest plus
	// one output file per contract.
	FormatFoundryOut Format = "foundry-out"
)

// KnownFormats lists every format the normalizers recognize, in detection order.
var KnownFormats = []Format{
	FormatHardhatBuildInfo,
	FormatHardhat3BuildInfo,
	FormatFoundryOut,
}

// Origin records which toolchain output an artifact was derived from.
type Origin struct {
	ID     string `json:"id"`
	Format Format `json:"format"`
}

// Artifact is the canonical, content-addressed record of one compilation.
// It is immutable once created; ID is a pure function of Output.
type Artifact struct {
	ID              string `json:"id"`
	Origin          Origin `json:"origin"`
	SolcLongVersion string `json:"solcLongVersion"`
	Input           Input  `json:"input"`
	Output          Output `json:"output"`
}

// Input is the normalized compiler invocation description.
type Input struct {
	Language string                `json:"language"`
	Sources  map[string]SourceFile `json:"sources"`
	Settings Settings              `json:"settings"`
}

type SourceFile struct {
	Content string `json:"content"`
}

// Settings keeps the invocation-wide compiler settings shared by every
// supported format. Fields a toolchain did not emit stay empty; unknown
// invocation fields are stripped by the typed unmarshal.
type Settings struct {
	Optimizer       json.RawMessage              `json:"optimizer,omitempty"`
	EVMVersion      string                       `json:"evmVersion,omitempty"`
	ViaIR           *bool                        `json:"viaIR,omitempty"`
	Metadata        json.RawMessage              `json:"metadata,omitempty"`
	Remappings      []string                     `json:"remappings,omitempty"`
	Libraries       map[string]map[string]string `json:"libraries,omitempty"`
	OutputSelection json.RawMessage              `json:"outputSelection,omitempty"`
}

// Output is the normalized compiler output, nested by source file path and
// then by contract name.
type Output struct {
	Contracts map[string]map[string]Contract `json:"contracts"`
	Sources   json.RawMessage                `json:"sources,omitempty"`
	Errors    json.RawMessage                `json:"errors,omitempty"`
}

// Contract is a single compiled contract. Metadata holds the raw structured
// metadata string exactly as the compiler emitted it; identity derivation
// hashes those bytes, so it must never be re-encoded.
type Contract struct {
	ABI           json.RawMessage `json:"abi,omitempty"`
	Metadata      string          `json:"metadata,omitempty"`
	Userdoc       json.RawMessage `json:"userdoc,omitempty"`
	Devdoc        json.RawMessage `json:"devdoc,omitempty"`
	IR            string          `json:"ir,omitempty"`
	IROptimized   string          `json:"irOptimized,omitempty"`
	StorageLayout json.RawMessage `json:"storageLayout,omitempty"`
	EVM           *EVM            `json:"evm,omitempty"`
}

type EVM struct {
	Bytecode          json.RawMessage   `json:"bytecode,omitempty"`
	DeployedBytecode  json.RawMessage   `json:"deployedBytecode,omitempty"`
	MethodIdentifiers map[string]string `json:"methodIdentifiers,omitempty"`
	GasEstimates      json.RawMessage   `json:"gasEstimates,omitempty"`
}

// SourcePaths returns the output's source file paths in canonical (sorted) order.
func (o Output) SourcePaths() []string {
	return sortedKeys(o.Contracts)
}

// ContractNames returns the contract names under one source path in canonical order.
func (o Output) ContractNames(sourcePath string) []string {
	return sortedKeys(o.Contracts[sourcePath])
}

// ContractKeys returns every "sourcePath:contractName" key in canonical order.
func (o Output) ContractKeys() []string {
	keys := make([]string, 0, len(o.Contracts))
	for _, path := range o.SourcePaths() {
		for _, name := range o.ContractNames(path) {
			keys = append(keys, path+":"+name)
		}
	}
	return keys
}

// Encode serializes an artifact to the canonical JSON representation shared
// by the local and remote stores.
func Encode(a *Artifact) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Decode parses and validates a serialized canonical artifact. A schema
// violation is a fatal read error; callers must not fall back to partial data.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &ValidationError{Field: "artifact", Reason: "invalid JSON: " + err.Error()}
	}
	if err := Validate(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
