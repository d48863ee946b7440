package artifact

import (
	"fmt"
	"strings"
)

// ValidationError reports a canonical-schema violation found while decoding
// a stored artifact. It always aborts the read that produced it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("artifact schema violation at %s: %s", e.Field, e.Reason)
}

// Validate checks an artifact against the canonical schema. It also re-derives
// the identifier from the output so that a partially written or externally
// edited file cannot masquerade as the artifact its name claims.
func Validate(a *Artifact) error {
	if a == nil {
		return &ValidationError{Field: "artifact", Reason: "nil artifact"}
	}
	if !validID(a.ID) {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a %d-char lowercase hex id", a.ID, IDLength)}
	}
	if strings.TrimSpace(a.Origin.ID) == "" {
		return &ValidationError{Field: "origin.id", Reason: "empty"}
	}
	if !knownFormat(a.Origin.Format) {
		return &ValidationError{Field: "origin.format", Reason: fmt.Sprintf("unrecognized format %q", a.Origin.Format)}
	}
	if strings.TrimSpace(a.SolcLongVersion) == "" {
		return &ValidationError{Field: "solcLongVersion", Reason: "empty"}
	}
	if len(a.Output.Contracts) == 0 {
		return &ValidationError{Field: "output.contracts", Reason: "no contracts"}
	}
	for path, contracts := range a.Output.Contracts {
		if len(contracts) == 0 {
			return &ValidationError{Field: "output.contracts." + path, Reason: "no contract entries"}
		}
		for name, c := range contracts {
			if c.Metadata == "" {
				return &ValidationError{
					Field:  fmt.Sprintf("output.contracts.%s.%s.metadata", path, name),
					Reason: "missing metadata string",
				}
			}
		}
	}
	if derived := DeriveID(a.Output); derived != a.ID {
		return &ValidationError{
			Field:  "id",
			Reason: fmt.Sprintf("id %s does not match content hash %s", a.ID, derived),
		}
	}
	return nil
}

func validID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func knownFormat(f Format) bool {
	for _, k := range KnownFormats {
		if f == k {
			return true
		}
	}
	return false
}
