// Package backup archives remote workspace contents into local
// tar.gz artifacts and restores them. Artifacts are keyed by instance
// name, not remote identity, so a backup taken from one incarnation
// can be restored onto a recreated instance under the same name.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vastlab/vastctl/internal/config"
	"github.com/vastlab/vastctl/internal/conn"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/util"
)

const timestampLayout = "20060102_150405"

// Artifact is a completed local backup archive. Artifacts only exist
// for fully transferred, non-empty archives.
type Artifact struct {
	InstanceName string    `json:"instance_name"`
	CreatedAt    time.Time `json:"created_at"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
}

// Manager creates, lists, and restores backups.
type Manager struct {
	conns *conn.Manager
	cfg   config.BackupConfig
	log   logger.Logger
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a backup Manager.
func New(conns *conn.Manager, cfg config.BackupConfig, opts ...Option) *Manager {
	m := &Manager{
		conns: conns,
		cfg:   cfg,
		log:   logger.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create archives the matching workspace paths on the instance and
// streams the archive to the local backup directory. The artifact is
// written under a temporary name and renamed only once the transfer
// completed and produced a non-empty file, so a failed transfer leaves
// nothing behind. Never retried automatically.
func (m *Manager) Create(ctx context.Context, name string, patterns []string) (*Artifact, error) {
	if len(patterns) == 0 {
		patterns = m.cfg.Include
	}

	session, err := m.conns.OpenSession(ctx, name)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransfer,
			"Can't create the backup directory", "")
	}

	createdAt := m.now()
	final := filepath.Join(m.cfg.Dir, archiveName(name, createdAt))
	partial := final + ".partial"

	f, err := os.Create(partial)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransfer,
			"Can't create the local archive file", "")
	}

	cmd := archiveCommand(m.cfg.Workspace, patterns)
	m.log.Debug("backup %s: %s", name, cmd)

	var stderr bytes.Buffer
	code, execErr := session.Client.ExecStream(cmd, f, &stderr)
	closeErr := f.Close()

	// tar exits 1 for files that changed or vanished while archiving;
	// only 2 and above mean the archive stream itself is unreliable.
	if execErr != nil || code > 1 || closeErr != nil {
		os.Remove(partial)
		cause := execErr
		if cause == nil && closeErr != nil {
			cause = closeErr
		}
		return nil, transferError(name, code, stderr.String(), cause)
	}

	info, err := os.Stat(partial)
	if err != nil || info.Size() == 0 {
		os.Remove(partial)
		return nil, errors.New(errors.ErrTransfer,
			fmt.Sprintf("Backup of '%s' produced an empty archive", name),
			"Check that the workspace contains files matching the include patterns.")
	}

	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return nil, errors.WrapWithCode(err, errors.ErrTransfer,
			"Can't finalize the local archive file", "")
	}

	artifact := &Artifact{
		InstanceName: name,
		CreatedAt:    createdAt,
		Path:         final,
		SizeBytes:    info.Size(),
	}
	m.writeSidecar(artifact, session.Record.RemoteID, patterns)
	m.log.Debug("backup %s complete: %s (%d bytes)", name, final, info.Size())
	return artifact, nil
}

// List returns the artifacts recorded locally for the name, newest
// first. Works offline.
func (m *Manager) List(name string) ([]*Artifact, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrTransfer,
			"Can't read the backup directory", "")
	}

	prefix := name + "_"
	var artifacts []*Artifact
	for _, entry := range entries {
		base := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, ".tar.gz") {
			continue
		}
		// The remainder must be exactly a timestamp. Names may contain
		// underscores, so a prefix match alone would claim archives of
		// any instance whose name extends this one.
		createdAt, err := time.ParseInLocation(timestampLayout,
			strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".tar.gz"), time.Local)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, &Artifact{
			InstanceName: name,
			CreatedAt:    createdAt,
			Path:         filepath.Join(m.cfg.Dir, base),
			SizeBytes:    info.Size(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Restore streams a local archive into the instance workspace. An
// empty archivePath selects the newest artifact for the name. The
// source artifact is never deleted.
func (m *Manager) Restore(ctx context.Context, name, archivePath string) error {
	if archivePath == "" {
		artifacts, err := m.List(name)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			return errors.New(errors.ErrNoBackups,
				fmt.Sprintf("No backups found for '%s'", name),
				fmt.Sprintf("Create one with: vastctl backup create %s", name))
		}
		archivePath = artifacts[0].Path
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrTransfer,
			fmt.Sprintf("Can't open archive %s", archivePath), "")
	}
	defer f.Close()

	session, err := m.conns.OpenSession(ctx, name)
	if err != nil {
		return err
	}
	defer session.Close()

	cmd := extractCommand(m.cfg.Workspace)
	m.log.Debug("restore %s from %s: %s", name, archivePath, cmd)

	var stdout, stderr bytes.Buffer
	code, execErr := session.Client.ExecInput(cmd, f, &stdout, &stderr)
	if execErr != nil || code != 0 {
		return transferError(name, code, stderr.String(), execErr)
	}
	return nil
}

// archiveName is <name>_<timestamp>.tar.gz.
func archiveName(name string, createdAt time.Time) string {
	return fmt.Sprintf("%s_%s.tar.gz", name, createdAt.Format(timestampLayout))
}

// archiveCommand leaves the patterns unquoted so the remote shell
// expands the globs; only the workspace path is quoted. Tilde-prefixed
// workspaces keep the ~ unquoted so the remote shell expands it.
func archiveCommand(workspace string, patterns []string) string {
	return fmt.Sprintf("cd %s && tar czf - --ignore-failed-read %s",
		util.ShellQuotePreserveTilde(workspace), strings.Join(patterns, " "))
}

func extractCommand(workspace string) string {
	ws := util.ShellQuotePreserveTilde(workspace)
	return fmt.Sprintf("mkdir -p %s && cd %s && tar xzf -", ws, ws)
}

func transferError(name string, code int, stderr string, cause error) error {
	msg := fmt.Sprintf("Backup transfer for '%s' failed", name)
	if detail := strings.TrimSpace(stderr); detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, firstLine(detail))
	} else if code > 0 {
		msg = fmt.Sprintf("%s (tar exited %d)", msg, code)
	}
	suggestion := "No partial artifact was kept. Check the instance's disk and rerun."
	if cause != nil {
		return errors.WrapWithCode(cause, errors.ErrTransfer, msg, suggestion)
	}
	return errors.New(errors.ErrTransfer, msg, suggestion)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (m *Manager) writeSidecar(a *Artifact, remoteID string, patterns []string) {
	sidecar := struct {
		RunID     string    `json:"run_id"`
		Instance  string    `json:"instance"`
		RemoteID  string    `json:"remote_id,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		Patterns  []string  `json:"patterns"`
		SizeBytes int64     `json:"size_bytes"`
	}{uuid.NewString(), a.InstanceName, remoteID, a.CreatedAt, patterns, a.SizeBytes}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(a.Path+".meta.json", data, 0o644); err != nil {
		m.log.Debug("sidecar write failed for %s: %v", a.Path, err)
	}
}
