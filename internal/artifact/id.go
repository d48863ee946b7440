package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// IDLength is the rendered length of every artifact identifier.
const IDLength = 12

// DeriveID computes the artifact identifier from a canonical output: a sha256
// over each contract's raw metadata string, iterated by sorted source path and
// then by sorted contract name, hex-encoded and truncated to IDLength.
//
// Because only the metadata bytes are hashed, two builds of the same contracts
// by different toolchains collide to the same ID whenever their per-contract
// metadata strings match byte for byte.
func DeriveID(out Output) string {
	h := sha256.New()
	for _, path := range out.SourcePaths() {
		contracts := out.Contracts[path]
		for _, name := range out.ContractNames(path) {
			_, _ = io.WriteString(h, contracts[name].Metadata)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:IDLength]
}

// FileChecksum hashes a whole raw file. It is a quick fallback identity for
// reads that must not pay for a full parse; it is NOT the artifact ID and is
// not expected to match DeriveID for the same content.
func FileChecksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:IDLength]
}
