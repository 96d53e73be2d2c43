package env

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vastlab/vastctl/internal/conn"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
)

// envFile is where injected credentials land on the remote side. The
// instance image's bashrc sources it on login.
const envFile = "/root/.auto_env"

// Injector delivers credential variables to instances through
// transient SSH sessions.
type Injector struct {
	mgr *conn.Manager
	log logger.Logger
}

// NewInjector creates an Injector on top of a connection manager.
func NewInjector(mgr *conn.Manager, log logger.Logger) *Injector {
	if log == nil {
		log = logger.Default()
	}
	return &Injector{mgr: mgr, log: log}
}

// Inject writes the variables to the instance's env file and wires it
// into the remote bashrc. Delivery is confirmed by reading back the
// file's checksum; on mismatch the remote state is unspecified and the
// returned error says so. Injection is never retried automatically.
func (i *Injector) Inject(ctx context.Context, name string, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}

	content := fileContent(vars)
	sum := sha256.Sum256([]byte(content))
	want := fmt.Sprintf("%x", sum)

	i.log.Debug("injecting %d variables into %s: %s", len(vars), name, strings.Join(Names(vars), ", "))

	stdout, code, err := i.mgr.Execute(ctx, name, injectScript(content))
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.New(errors.ErrInjectionFailed,
			fmt.Sprintf("Credential injection on '%s' exited %d", name, code),
			injectionSuggestion(name))
	}
	if got := strings.TrimSpace(stdout); got != want {
		return errors.New(errors.ErrInjectionFailed,
			fmt.Sprintf("Credential injection on '%s' could not be confirmed: checksum mismatch", name),
			injectionSuggestion(name))
	}
	return nil
}

// fileContent renders the env file: one sorted export per variable,
// values single-quoted for the shell.
func fileContent(vars map[string]string) string {
	var b strings.Builder
	for _, name := range Names(vars) {
		b.WriteString(fmt.Sprintf("export %s='%s'\n", name, shellEscape(vars[name])))
	}
	return b.String()
}

// injectScript builds the remote command: decode the payload, lock the
// file down, hook it into bashrc, and emit the file's checksum for
// confirmation. Base64 keeps arbitrary values intact in transit.
func injectScript(content string) string {
	b64 := base64.StdEncoding.EncodeToString([]byte(content))
	return fmt.Sprintf(
		"umask 077 && echo '%s' | base64 -d > %[2]s && chmod 600 %[2]s && "+
			"if ! grep -q 'source %[2]s' /root/.bashrc 2>/dev/null; then "+
			"echo '' >> /root/.bashrc && "+
			"echo '# Auto-injected credentials' >> /root/.bashrc && "+
			"echo 'source %[2]s' >> /root/.bashrc; fi && "+
			"sha256sum %[2]s | cut -d' ' -f1",
		b64, envFile)
}

func shellEscape(value string) string {
	return strings.ReplaceAll(value, "'", `'\''`)
}

func injectionSuggestion(name string) string {
	return fmt.Sprintf("The remote file state is unknown. Inspect %s on the instance (vastctl ssh %s) and re-run 'vastctl env inject'.", envFile, name)
}
