// Package importer reads participant identifier lists and feeds them into
// the indexing queue, either on demand or from a watched drop directory.
package importer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// ParseReader reads participant identifiers, one per line. Blank lines and
// lines starting with '#' are skipped. Malformed lines do not abort the
// parse; they are reported as diagnostics with their line number.
func ParseReader(r io.Reader) ([]identifier.ParticipantID, []string, error) {
	var (
		ids         []identifier.ParticipantID
		diagnostics []string
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, err := identifier.ParseParticipantID(line)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("line %d: %s", lineNo, err.Error()))
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, pderrors.Wrap(pderrors.ErrCodeInvalidInput, err)
	}

	return ids, diagnostics, nil
}

// ParseFile reads a participant identifier list from disk.
func ParseFile(path string) ([]identifier.ParticipantID, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, pderrors.Wrap(pderrors.ErrCodeFileNotFound, err)
		}
		return nil, nil, pderrors.Wrap(pderrors.ErrCodeInvalidInput, err)
	}
	defer f.Close()

	return ParseReader(f)
}
