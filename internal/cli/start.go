package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/env"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/provider"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/internal/ui"
)

var (
	startGPUFlag       string
	startGPUsFlag      int
	startDiskFlag      int
	startImageFlag     string
	startPriceFlag     float64
	startBandwidthFlag float64
	startCPUFlag       bool
	startCPUsFlag      int
	startRamFlag       int
	startProjectFlag   string
	startTagsFlag      []string
	startOnStartFlag   string
	startNoInjectFlag  bool
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Provision a new instance or boot an existing one",
	Long: `Start the named instance. If no record exists (or the previous
incarnation was destroyed), vastctl searches provider offers, rents the
cheapest match, and waits for SSH to come up. If a stopped instance
exists under the name, it is booted instead.

Credentials matching the configured prefixes are injected over SSH
after boot unless --no-inject is given.

Examples:
  vastctl start trainer
  vastctl start trainer --gpu A100 --gpus 2 --disk 500
  vastctl start scratch --cpu --cpus 16 --ram 64
  vastctl start trainer --price 1.50 --image pytorch/pytorch:latest`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCommand(cmd.Context(), args[0])
	},
}

func init() {
	startCmd.Flags().StringVar(&startGPUFlag, "gpu", "", "GPU type (e.g. A100, H100, RTX4090)")
	startCmd.Flags().IntVar(&startGPUsFlag, "gpus", 0, "number of GPUs")
	startCmd.Flags().IntVar(&startDiskFlag, "disk", 0, "disk size in GB")
	startCmd.Flags().StringVar(&startImageFlag, "image", "", "docker image")
	startCmd.Flags().Float64Var(&startPriceFlag, "price", 0, "max price per hour in USD")
	startCmd.Flags().Float64Var(&startBandwidthFlag, "bandwidth", 0, "min download bandwidth in Mbps")
	startCmd.Flags().BoolVar(&startCPUFlag, "cpu", false, "CPU-only instance")
	startCmd.Flags().IntVar(&startCPUsFlag, "cpus", 0, "min CPU cores (with --cpu)")
	startCmd.Flags().IntVar(&startRamFlag, "ram", 0, "min RAM in GB (with --cpu)")
	startCmd.Flags().StringVar(&startProjectFlag, "project", "", "project grouping")
	startCmd.Flags().StringSliceVar(&startTagsFlag, "tag", nil, "tags (repeatable)")
	startCmd.Flags().StringVar(&startOnStartFlag, "onstart", "", "command to run on instance boot")
	startCmd.Flags().BoolVar(&startNoInjectFlag, "no-inject", false, "skip credential injection after boot")

	rootCmd.AddCommand(startCmd)
}

func startCommand(ctx context.Context, name string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}

	rec, err := a.reg.Get(name)
	switch {
	case err == nil && rec.Status != registry.StatusDestroyed && rec.RemoteID != "":
		return bootExisting(ctx, a, rec)
	case err == nil && rec.Status != registry.StatusDestroyed:
		// Pending record with no remote id: resume provisioning.
		return provisionNew(ctx, a, name, false)
	case err == nil || errors.IsCode(err, errors.ErrNotFound):
		return provisionNew(ctx, a, name, true)
	default:
		return err
	}
}

// bootExisting starts a stopped instance that already has a remote id.
func bootExisting(ctx context.Context, a *app, rec *registry.InstanceRecord) error {
	if rec.Status == registry.StatusRunning {
		fresh, err := a.rec.One(ctx, rec.Name)
		if err != nil {
			return err
		}
		if fresh.Status == registry.StatusRunning {
			fmt.Printf("%s '%s' is already running at %s\n",
				ui.SuccessStyle().Render(ui.SymbolSuccess), fresh.Name, endpointString(fresh))
			return nil
		}
		rec = fresh
	}

	sp := ui.NewSpinner(fmt.Sprintf("Starting '%s'", rec.Name))
	sp.Start()
	if err := a.prov.Start(ctx, rec.RemoteID); err != nil {
		sp.Fail()
		if provider.IsNotFound(err) {
			a.rec.One(ctx, rec.Name)
			return errors.WrapWithCode(err, errors.ErrNotFound,
				fmt.Sprintf("Instance '%s' no longer exists at the provider", rec.Name),
				fmt.Sprintf("Recreate it with: vastctl start %s", rec.Name))
		}
		return err
	}
	if a.cfg.Provider.VerifyMutations {
		if _, err := provider.WaitRunning(ctx, a.prov, rec.RemoteID, provider.DefaultStartWait); err != nil {
			sp.Fail()
			return err
		}
	}
	sp.Success()

	fresh, err := a.rec.One(ctx, rec.Name)
	if err != nil {
		return err
	}
	fmt.Printf("%s '%s' running at %s\n",
		ui.SuccessStyle().Render(ui.SymbolSuccess), fresh.Name, endpointString(fresh))

	autoInject(ctx, a, fresh.Name)
	return nil
}

// provisionNew searches offers, rents the cheapest match, and waits
// for the instance to boot. A record created in this invocation is
// removed again if provisioning fails before a remote id is bound.
func provisionNew(ctx context.Context, a *app, name string, createRecord bool) error {
	desc := registry.Descriptor{
		GPUType:  orDefaultStr(startGPUFlag, a.cfg.Defaults.GPUType),
		GPUCount: orDefaultInt(startGPUsFlag, a.cfg.Defaults.GPUs),
		DiskGB:   orDefaultInt(startDiskFlag, a.cfg.Defaults.DiskGB),
		Image:    orDefaultStr(startImageFlag, a.cfg.Defaults.Image),
	}
	if startCPUFlag {
		desc.GPUType = ""
		desc.GPUCount = 0
	}
	if !createRecord {
		// Resuming a pending record: keep its frozen descriptor.
		rec, err := a.reg.Get(name)
		if err != nil {
			return err
		}
		desc = registry.Descriptor{
			GPUType:  rec.GPUType,
			GPUCount: rec.GPUCount,
			DiskGB:   rec.DiskGB,
			Image:    rec.Image,
		}
	}
	project := orDefaultStr(startProjectFlag, a.cfg.Defaults.Project)

	if createRecord {
		if _, err := a.reg.Create(name, desc, project, startTagsFlag); err != nil {
			return err
		}
	}
	rollback := func() {
		if createRecord {
			a.reg.Remove(name)
		}
	}

	query := provider.OfferQuery{
		GPUType:      desc.GPUType,
		NumGPUs:      desc.GPUCount,
		DiskGB:       desc.DiskGB,
		MaxPrice:     startPriceFlag,
		MinBandwidth: startBandwidthFlag,
		MinCPUs:      startCPUsFlag,
		MinRamGB:     startRamFlag,
	}

	sp := ui.NewSpinner("Searching offers")
	sp.Start()
	offers, err := a.prov.SearchOffers(ctx, query)
	if err != nil {
		sp.Fail()
		rollback()
		return err
	}
	if len(offers) == 0 {
		sp.Fail()
		rollback()
		return errors.New(errors.ErrProvider,
			fmt.Sprintf("No offers match %s", describeQuery(desc)),
			"Relax the constraints (--price, --gpus, --disk) and retry.")
	}
	offer := offers[0]
	sp.SetLabel(fmt.Sprintf("Found %s ($%.3f/hr)", describeOffer(offer), offer.PricePerHour))
	sp.Success()

	sp = ui.NewSpinner("Renting instance")
	sp.Start()
	remoteID, err := a.prov.Create(ctx, provider.CreateRequest{
		OfferID: offer.ID,
		Image:   desc.Image,
		DiskGB:  desc.DiskGB,
		OnStart: startOnStartFlag,
		Label:   name,
	})
	if err != nil {
		sp.Fail()
		rollback()
		return err
	}
	if _, err := a.reg.UpdateRecord(name, func(r *registry.InstanceRecord) error {
		r.RemoteID = remoteID
		r.Status = registry.StatusPending
		return nil
	}); err != nil {
		return err
	}
	sp.Success()

	attachPublicKey(ctx, a, remoteID)

	sp = ui.NewSpinner("Waiting for SSH")
	sp.Start()
	if _, err := provider.WaitRunning(ctx, a.prov, remoteID, provider.DefaultStartWait); err != nil {
		sp.Fail()
		return errors.WrapWithCode(err, errors.ErrProvider,
			fmt.Sprintf("Instance '%s' (%s) did not come up in time", name, remoteID),
			"The record is kept. Run 'vastctl refresh' to re-check, or 'vastctl destroy' to give up.")
	}
	sp.Success()

	fresh, err := a.rec.One(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("%s '%s' running at %s\n",
		ui.SuccessStyle().Render(ui.SymbolSuccess), name, endpointString(fresh))

	autoInject(ctx, a, name)
	return nil
}

// attachPublicKey registers the local public key with the new
// instance so the first SSH dial succeeds. Most accounts already have
// the key registered account-wide, so failures only warn.
func attachPublicKey(ctx context.Context, a *app, remoteID string) {
	pub, err := os.ReadFile(a.cfg.SSH.KeyPath + ".pub")
	if err != nil {
		a.log.Debug("no public key at %s.pub: %v", a.cfg.SSH.KeyPath, err)
		return
	}
	if err := a.prov.AttachSSHKey(ctx, remoteID, strings.TrimSpace(string(pub))); err != nil {
		ui.PrintWarning(fmt.Sprintf("couldn't attach SSH key: %v", err))
	}
}

// autoInject forwards detected credentials after boot. Failures warn
// but never fail the start.
func autoInject(ctx context.Context, a *app, name string) {
	if startNoInjectFlag || !a.cfg.Env.AutoInject {
		return
	}
	vars := env.Detect(a.cfg.Env.Prefixes)
	if len(vars) == 0 {
		return
	}

	sp := ui.NewSpinner(fmt.Sprintf("Injecting %d credential variables", len(vars)))
	sp.Start()
	if err := a.injector().Inject(ctx, name, vars); err != nil {
		sp.Fail()
		ui.PrintWarning(fmt.Sprintf("credential injection failed, run 'vastctl env inject %s' to retry", name))
		return
	}
	sp.Success()
}

func describeQuery(desc registry.Descriptor) string {
	if desc.GPUType == "" {
		return "a CPU-only instance"
	}
	return fmt.Sprintf("%dx %s", desc.GPUCount, desc.GPUType)
}

func describeOffer(o provider.Offer) string {
	if o.GPUName == "" {
		return fmt.Sprintf("%d CPU cores", o.CPUCores)
	}
	return fmt.Sprintf("%dx %s", o.NumGPUs, o.GPUName)
}

func endpointString(rec *registry.InstanceRecord) string {
	if rec.Endpoint == nil {
		return "(no endpoint yet)"
	}
	return rec.Endpoint.String()
}

func orDefaultStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
