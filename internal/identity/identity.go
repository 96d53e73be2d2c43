// Package identity manages the per-installation identifier. The id is
// generated once and persisted under the vastctl home dir, giving each
// machine a stable identity across reinstalls of the binary.
package identity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vastlab/vastctl/internal/errors"
)

const fileName = "installation_id"

// InstallationID returns the stable id for this installation, creating
// and persisting one on first use.
func InstallationID(home string) (string, error) {
	path := filepath.Join(home, fileName)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		// Corrupt file, regenerate below.
	} else if !os.IsNotExist(err) {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot read installation id",
			"Check permissions on "+path)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(home, 0o755); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot create state directory",
			"Check permissions on "+home)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot persist installation id",
			"Check permissions on "+path)
	}

	return id, nil
}

// ShortID returns the first segment of the installation id, used in labels.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
