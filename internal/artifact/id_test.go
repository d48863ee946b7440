package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaOnlyOutput(contracts map[string]map[string]string) Output {
	out := Output{Contracts: map[string]map[string]Contract{}}
	for path, byName := range contracts {
		out.Contracts[path] = map[string]Contract{}
		for name, meta := range byName {
			out.Contracts[path][name] = Contract{Metadata: meta}
		}
	}
	return out
}

func TestDeriveIDIsDeterministic(t *testing.T) {
	out := metaOnlyOutput(map[string]map[string]string{
		"src/Counter.sol": {"Counter": `{"compiler":{"version":"0.8.20"}}`},
		"src/Token.sol":   {"Token": `{"compiler":{"version":"0.8.20"}}`},
	})

	first := DeriveID(out)
	second := DeriveID(out)
	require.Equal(t, first, second)
	require.Len(t, first, IDLength)
	assert.Regexp(t, "^[0-9a-f]{12}$", first)
}

func TestDeriveIDSingleContractMatchesMetadataHash(t *testing.T) {
	const meta = `{"compiler":{"version":"0.8.20+commit.a1b79de6"},"language":"Solidity"}`
	out := metaOnlyOutput(map[string]map[string]string{
		"src/Counter.sol": {"Counter": meta},
	})

	sum := sha256.Sum256([]byte(meta))
	want := hex.EncodeToString(sum[:])[:IDLength]
	require.Equal(t, want, DeriveID(out))
}

func TestDeriveIDOrdersBySortedKeys(t *testing.T) {
	// Maps iterate in random order; the derivation must not.
	a := metaOnlyOutput(map[string]map[string]string{
		"src/A.sol": {"A": "meta-a"},
		"src/B.sol": {"B": "meta-b", "C": "meta-c"},
	})
	for i := 0; i < 50; i++ {
		b := metaOnlyOutput(map[string]map[string]string{
			"src/B.sol": {"C": "meta-c", "B": "meta-b"},
			"src/A.sol": {"A": "meta-a"},
		})
		require.Equal(t, DeriveID(a), DeriveID(b))
	}
}

func TestDeriveIDSensitiveToMetadataBytes(t *testing.T) {
	a := metaOnlyOutput(map[string]map[string]string{"src/A.sol": {"A": "meta"}})
	b := metaOnlyOutput(map[string]map[string]string{"src/A.sol": {"A": "meta "}})
	assert.NotEqual(t, DeriveID(a), DeriveID(b))
}

func TestFileChecksumIsNotTheArtifactID(t *testing.T) {
	const meta = `{"compiler":{"version":"0.8.20"}}`
	out := metaOnlyOutput(map[string]map[string]string{"src/A.sol": {"A": meta}})

	a := &Artifact{
		ID:              DeriveID(out),
		Origin:          Origin{ID: "build-1", Format: FormatHardhatBuildInfo},
		SolcLongVersion: "0.8.20+commit.a1b79de6",
		Output:          out,
	}
	encoded, err := Encode(a)
	require.NoError(t, err)

	checksum := FileChecksum(encoded)
	require.Len(t, checksum, IDLength)
	assert.NotEqual(t, a.ID, checksum)
}

func TestContractKeysCanonicalOrder(t *testing.T) {
	out := metaOnlyOutput(map[string]map[string]string{
		"src/B.sol": {"Z": "m", "A": "m"},
		"src/A.sol": {"A": "m"},
	})
	assert.Equal(t, []string{"src/A.sol:A", "src/B.sol:A", "src/B.sol:Z"}, out.ContractKeys())
}
