package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vastlab/vastctl/internal/errors"
)

const (
	lockDirName   = "state.lock"
	lockRetryWait = 100 * time.Millisecond

	// DefaultLockTimeout is how long a command waits for the store lock.
	DefaultLockTimeout = 10 * time.Second
	// DefaultLockStale is the age past which a lock is presumed abandoned.
	DefaultLockStale = 2 * time.Minute
)

// storeLock is an advisory lock on the state directory. It uses mkdir as
// an atomic primitive: mkdir fails if the directory exists. Stale locks
// left behind by crashed processes are taken over automatically.
type storeLock struct {
	dir string
}

// lockInfo describes the lock holder, written to info.json inside the
// lock directory so a blocked command can report who it is waiting on.
type lockInfo struct {
	User     string    `json:"user"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
	PID      int       `json:"pid"`
}

func newLockInfo() *lockInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return &lockInfo{
		User:     user,
		Hostname: hostname,
		Started:  time.Now(),
		PID:      os.Getpid(),
	}
}

func (i *lockInfo) String() string {
	return fmt.Sprintf("%s@%s (pid %d)", i.User, i.Hostname, i.PID)
}

// acquireLock blocks until the lock is held or timeout elapses.
func acquireLock(home string, timeout, stale time.Duration) (*storeLock, error) {
	lockDir := filepath.Join(home, lockDirName)
	infoFile := filepath.Join(lockDir, "info.json")

	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrLock,
			"Cannot create state directory",
			"Check permissions on "+home)
	}

	start := time.Now()
	for {
		if time.Since(start) > timeout {
			return nil, errors.New(errors.ErrLock,
				fmt.Sprintf("Timed out waiting for state lock after %s", timeout),
				fmt.Sprintf("Lock held by: %s. If no vastctl process is running, remove %s.",
					readLockHolder(infoFile), lockDir))
		}

		if isLockStale(infoFile, stale) {
			os.RemoveAll(lockDir)
		}

		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			info := newLockInfo()
			data, merr := json.Marshal(info)
			if merr == nil {
				merr = os.WriteFile(infoFile, data, 0o644)
			}
			if merr != nil {
				os.RemoveAll(lockDir)
				return nil, errors.WrapWithCode(merr, errors.ErrLock,
					"Failed to write lock info",
					"Check disk space and permissions on "+home)
			}
			return &storeLock{dir: lockDir}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrLock,
				"Failed to acquire state lock",
				"Check permissions on "+home)
		}

		time.Sleep(lockRetryWait)
	}
}

// release removes the lock directory.
func (l *storeLock) release() {
	if l == nil {
		return
	}
	os.RemoveAll(l.dir)
}

func isLockStale(infoFile string, stale time.Duration) bool {
	if stale <= 0 {
		return false
	}
	data, err := os.ReadFile(infoFile)
	if err != nil {
		// Lock dir without a readable info file: fall back to the dir
		// mtime so a crash between mkdir and write does not wedge us.
		fi, statErr := os.Stat(filepath.Dir(infoFile))
		if statErr != nil {
			return false
		}
		return time.Since(fi.ModTime()) > stale
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return false
	}
	return time.Since(info.Started) > stale
}

func readLockHolder(infoFile string) string {
	data, err := os.ReadFile(infoFile)
	if err != nil {
		return "unknown"
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return strings.TrimSpace(string(data))
	}
	return info.String()
}
