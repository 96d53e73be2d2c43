// Package transfer copies files and directories between the local
// machine and instance filesystems over SSH sessions. Remote endpoints
// are written scp-style: 'name:path', or ':path' for the active
// instance. Directories travel as tar.gz streams so a transfer is one
// remote command, not one round trip per file.
package transfer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vastlab/vastctl/internal/conn"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/util"
)

// ParseRemote splits an scp-style argument into instance name and
// remote path. ok is false for plain local paths. An empty name means
// the active instance.
func ParseRemote(arg string) (name, remotePath string, ok bool) {
	i := strings.Index(arg, ":")
	if i < 0 {
		return "", "", false
	}
	return arg[:i], arg[i+1:], true
}

// Manager streams file transfers through the connection manager.
type Manager struct {
	conns *conn.Manager
	log   logger.Logger
}

func New(conns *conn.Manager, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{conns: conns, log: log}
}

// Upload copies a local file or directory to remotePath on the
// instance. Directories require recursive.
func (m *Manager) Upload(ctx context.Context, name, localPath, remotePath string, recursive bool) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrTransfer,
			fmt.Sprintf("Local path '%s' not found", localPath), "")
	}
	if info.IsDir() && !recursive {
		return errors.New(errors.ErrTransfer,
			fmt.Sprintf("'%s' is a directory", localPath),
			"Pass -r to copy directories.")
	}

	session, err := m.conns.OpenSession(ctx, name)
	if err != nil {
		return err
	}
	defer session.Close()

	if info.IsDir() {
		return m.uploadDir(session, localPath, remotePath)
	}
	return m.uploadFile(session, localPath, remotePath)
}

func (m *Manager) uploadFile(session *conn.Session, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrTransfer,
			fmt.Sprintf("Can't read '%s'", localPath), "")
	}
	defer f.Close()

	target := util.ShellQuotePreserveTilde(remotePath)
	cmd := fmt.Sprintf("cat > %s", target)
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		cmd = fmt.Sprintf("mkdir -p %s && %s", util.ShellQuotePreserveTilde(dir), cmd)
	}

	var stderr bytes.Buffer
	code, err := session.Client.ExecInput(cmd, f, io.Discard, &stderr)
	return transferResult("Upload", remotePath, code, stderr.String(), err)
}

func (m *Manager) uploadDir(session *conn.Session, localPath, remotePath string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTarGz(pw, localPath))
	}()

	target := util.ShellQuotePreserveTilde(remotePath)
	cmd := fmt.Sprintf("mkdir -p %s && cd %s && tar xzf -", target, target)

	var stderr bytes.Buffer
	code, err := session.Client.ExecInput(cmd, pr, io.Discard, &stderr)
	pr.Close()
	return transferResult("Upload", remotePath, code, stderr.String(), err)
}

// Download copies a remote file or directory to localPath. When
// localPath is an existing directory and the source is a file, the
// file keeps its base name inside it.
func (m *Manager) Download(ctx context.Context, name, remotePath, localPath string, recursive bool) error {
	session, err := m.conns.OpenSession(ctx, name)
	if err != nil {
		return err
	}
	defer session.Close()

	if recursive {
		return m.downloadDir(session, remotePath, localPath)
	}
	return m.downloadFile(session, remotePath, localPath)
}

func (m *Manager) downloadFile(session *conn.Session, remotePath, localPath string) error {
	target := localPath
	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		target = filepath.Join(localPath, path.Base(remotePath))
	}
	f, err := os.Create(target)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrTransfer,
			fmt.Sprintf("Can't write '%s'", target), "")
	}

	var stderr bytes.Buffer
	code, execErr := session.Client.ExecStream(
		fmt.Sprintf("cat %s", util.ShellQuotePreserveTilde(remotePath)), f, &stderr)
	closeErr := f.Close()

	if err := transferResult("Download", remotePath, code, stderr.String(), execErr); err != nil {
		os.Remove(target)
		return err
	}
	if closeErr != nil {
		os.Remove(target)
		return errors.WrapWithCode(closeErr, errors.ErrTransfer,
			fmt.Sprintf("Can't write '%s'", target), "")
	}
	return nil
}

func (m *Manager) downloadDir(session *conn.Session, remotePath, localPath string) error {
	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		code, err := session.Client.ExecStream(
			fmt.Sprintf("cd %s && tar czf - .", util.ShellQuotePreserveTilde(remotePath)),
			pw, &stderr)
		res := transferResult("Download", remotePath, code, stderr.String(), err)
		pw.CloseWithError(res)
		done <- res
	}()

	extractErr := extractTarGz(pr, localPath)
	pr.Close()
	if err := <-done; err != nil {
		return err
	}
	if extractErr != nil {
		return errors.WrapWithCode(extractErr, errors.ErrTransfer,
			fmt.Sprintf("Can't extract into '%s'", localPath), "")
	}
	return nil
}

// transferResult folds the three failure modes of a streamed transfer
// into one error: transport failure, remote exit, or success.
func transferResult(direction, remotePath string, code int, stderr string, err error) error {
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s of '%s' failed", direction, remotePath))
	}
	if code != 0 {
		msg := fmt.Sprintf("%s of '%s' failed", direction, remotePath)
		if detail := strings.TrimSpace(stderr); detail != "" {
			if i := strings.IndexByte(detail, '\n'); i >= 0 {
				detail = detail[:i]
			}
			msg = fmt.Sprintf("%s: %s", msg, detail)
		}
		return errors.New(errors.ErrTransfer, msg,
			"Check the remote path and available disk space.")
	}
	return nil
}

// writeTarGz archives the contents of root (not root itself) into w.
func writeTarGz(w io.Writer, root string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// extractTarGz unpacks an archive into dest, rejecting entries that
// would land outside it.
func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := path.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if path.IsAbs(name) || strings.HasPrefix(name, "..") {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
				os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
