package services

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"ytbatch/types"
)

// ParseImport reads a URL import list. Each non-blank line is either a bare
// URL, or "<episode_id> ... <url>" where the URL is the last token.
func ParseImport(r io.Reader) ([]types.ImportEntry, error) {
	var entries []types.ImportEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch len(fields) {
		case 0:
			continue
		case 1:
			entries = append(entries, types.ImportEntry{URL: fields[0]})
		default:
			entries = append(entries, types.ImportEntry{
				EpisodeID: fields[0],
				URL:       fields[len(fields)-1],
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import list: %w", err)
	}

	return entries, nil
}

// ImportFile parses the import list stored at path
func ImportFile(path string) ([]types.ImportEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.IOError{Op: "open import list", Path: path, Err: err}
	}
	defer f.Close()

	return ParseImport(f)
}
