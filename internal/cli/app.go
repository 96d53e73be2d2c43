package cli

import (
	"fmt"
	"strings"

	"github.com/vastlab/vastctl/internal/backup"
	"github.com/vastlab/vastctl/internal/config"
	"github.com/vastlab/vastctl/internal/conn"
	"github.com/vastlab/vastctl/internal/env"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/provider"
	"github.com/vastlab/vastctl/internal/reconcile"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/internal/transfer"
	"github.com/vastlab/vastctl/internal/util"
)

// app bundles the wired services a command needs. Local-only commands
// (use, remove, backup list, env show) work without an API key; the
// provider-backed services are only built by newProviderApp.
type app struct {
	cfg *config.Config
	log logger.Logger
	reg *registry.Registry

	prov    provider.Provider
	rec     *reconcile.Reconciler
	conns   *conn.Manager
	backups *backup.Manager
}

// newApp loads config and opens the registry. No API key required.
func newApp() (*app, error) {
	cfg, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log := logger.Default()
	return &app{
		cfg: cfg,
		log: log,
		reg: registry.New(cfg.Home, registry.WithLogger(log)),
	}, nil
}

// newProviderApp additionally wires the provider client, reconciler,
// connection manager, and backup manager. Requires an API key.
func newProviderApp() (*app, error) {
	a, err := newApp()
	if err != nil {
		return nil, err
	}
	if err := config.RequireAPIKey(a.cfg); err != nil {
		return nil, err
	}

	a.prov = provider.NewVastClient(a.cfg.Provider.BaseURL, a.cfg.Provider.APIKey,
		a.cfg.Provider.Timeout, provider.WithVastLogger(a.log))
	a.rec = reconcile.New(a.reg, a.prov, reconcile.WithLogger(a.log))
	a.conns = conn.New(a.reg, a.rec, a.cfg, conn.WithLogger(a.log))
	a.backups = backup.New(a.conns, a.cfg.Backup, backup.WithLogger(a.log))
	return a, nil
}

// backupsOffline builds a backup manager without provider wiring;
// only its local operations (List) may be used.
func (a *app) backupsOffline() *backup.Manager {
	return backup.New(nil, a.cfg.Backup, backup.WithLogger(a.log))
}

// injector builds the credential injector on demand.
func (a *app) injector() *env.Injector {
	return env.NewInjector(a.conns, a.log)
}

// transfers builds the file transfer manager on demand.
func (a *app) transfers() *transfer.Manager {
	return transfer.New(a.conns, a.log)
}

// resolveName maps an optional positional name argument through the
// registry's active-pointer fallback. Unknown names get a "did you
// mean" suggestion built from the registered instance names.
func (a *app) resolveName(args []string) (string, error) {
	explicit := ""
	if len(args) > 0 {
		explicit = args[0]
	}
	name, err := a.reg.Resolve(explicit)
	if err != nil && explicit != "" && errors.IsCode(err, errors.ErrNotFound) {
		if similar := a.similarNames(explicit); len(similar) > 0 {
			return "", errors.New(errors.ErrNotFound,
				fmt.Sprintf("No instance named '%s'", explicit),
				fmt.Sprintf("Did you mean '%s'? Run 'vastctl list' to see all instances.",
					strings.Join(similar, "', '")))
		}
	}
	return name, err
}

func (a *app) similarNames(input string) []string {
	records, err := a.reg.List()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name)
	}
	return util.SuggestSimilar(input, names, 3)
}
