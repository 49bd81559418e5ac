// Package receiverid loads or creates the stable 16-byte receiver identity
// persisted to a uuid file, using github.com/google/uuid.
package receiverid

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreate reads the receiver UUID from path, creating and persisting a
// fresh random one if the file does not exist. An existing file with
// unparseable contents is a fatal configuration error.
func LoadOrCreate(path string) (uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		id, parseErr := uuid.Parse(strings.TrimSpace(string(raw)))
		if parseErr != nil {
			return uuid.Nil, fmt.Errorf("receiverid: %s contains an invalid uuid: %w", path, parseErr)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return uuid.Nil, fmt.Errorf("receiverid: reading %s: %w", path, err)
	}

	id := uuid.New()
	if writeErr := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); writeErr != nil {
		return uuid.Nil, fmt.Errorf("receiverid: writing %s: %w", path, writeErr)
	}
	return id, nil
}
