package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const buildInfoDirName = "build-info"

// locateBuildOutput resolves the user-supplied path to exactly one candidate
// build-output file. A file path is taken as-is; a directory is searched with
// precedence for a build-info subdirectory; zero or multiple JSON candidates
// abort, since guessing would push the wrong artifact.
func locateBuildOutput(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("build output path %s: %w", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}

	searchDir := path
	if bi := filepath.Join(path, buildInfoDirName); isDir(bi) {
		searchDir = bi
	}

	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return "", fmt.Errorf("search %s: %w", searchDir, err)
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		candidates = append(candidates, filepath.Join(searchDir, e.Name()))
	}

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no JSON build output found under %s", searchDir)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("found %d JSON candidates under %s; pass the build output file explicitly", len(candidates), searchDir)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
