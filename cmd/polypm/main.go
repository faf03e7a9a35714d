package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/installer"
	"github.com/polypm-dev/polypm/internal/npmregistry"
	"github.com/polypm-dev/polypm/internal/platform"
	"github.com/polypm-dev/polypm/internal/project"
	"github.com/polypm-dev/polypm/internal/pypiregistry"
	"github.com/polypm-dev/polypm/internal/registry"
	"github.com/polypm-dev/polypm/internal/resolver"
	"github.com/polypm-dev/polypm/internal/store"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "polypm",
		Short:         "A polyglot package installer for npm and PyPI",
		Long:          "polypm resolves and installs npm and PyPI packages into a shared content-addressed store.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd := &cobra.Command{
		Use:   "install [ecosystem:package[@range]...]",
		Short: "Resolve and install packages",
		Long: "Each argument names a package as \"npm:express@^4.18.0\" or \"pypi:flask==3.0.0\".\n" +
			"The ecosystem prefix may be omitted only when --ecosystem is given once for the whole command.",
		Args: cobra.MinimumNArgs(1),
		RunE: runInstall,
	}

	installCmd.Flags().String("ecosystem", "", "Default ecosystem (npm or pypi) when a package arg has no prefix")
	installCmd.Flags().IntP("jobs", "j", 0, "Max concurrent downloads (default: 4)")
	installCmd.Flags().String("store-dir", "", "Store directory (default: $POLYPM_STORE_DIR or $HOME/.ppm-store)")
	installCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	installCmd.Flags().Bool("dev", false, "Include dev dependencies of the root packages")
	installCmd.Flags().Bool("force", false, "Re-fetch packages already present in the store")
	installCmd.Flags().Bool("skip-verification", false, "Skip integrity verification of downloaded archives")

	rootCmd.AddCommand(installCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Probe npm and PyPI registry reachability",
		RunE:  runStatus,
	}

	rootCmd.AddCommand(statusCmd)

	return rootCmd.Execute()
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func newClients(ctx context.Context, httpClient *http.Client, logger *slog.Logger) map[ecosystem.Ecosystem]registry.Client {
	pypiOpts := []pypiregistry.Option{pypiregistry.WithHTTPClient(httpClient), pypiregistry.WithLogger(logger)}

	if host, err := platform.DetectHost(ctx, "python3", nil); err != nil {
		logger.Warn("host python detection failed, PyPI file selection will not prefer a host-matching wheel", slog.String("error", err.Error()))
	} else {
		pypiOpts = append(pypiOpts, pypiregistry.WithHost(host))
	}

	return map[ecosystem.Ecosystem]registry.Client{
		ecosystem.JavaScript: npmregistry.New(npmregistry.WithHTTPClient(httpClient), npmregistry.WithLogger(logger)),
		ecosystem.Python:     pypiregistry.New(pypiOpts...),
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()

	defaultEco, _ := cmd.Flags().GetString("ecosystem")
	jobs, _ := cmd.Flags().GetInt("jobs")
	storeDir, _ := cmd.Flags().GetString("store-dir")
	verbose, _ := cmd.Flags().GetBool("verbose")
	includeDev, _ := cmd.Flags().GetBool("dev")
	force, _ := cmd.Flags().GetBool("force")
	skipVerification, _ := cmd.Flags().GetBool("skip-verification")

	wants, err := parseWants(args, defaultEco)
	if err != nil {
		return err
	}

	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if storeDir == "" {
		storeDir, err = project.StoreRoot()
		if err != nil {
			return fmt.Errorf("resolving store directory: %w", err)
		}
	}

	st, err := store.New(storeDir, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", storeDir, err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	clients := newClients(ctx, httpClient, logger)

	res := resolver.New(clients, resolver.WithIncludeDev(includeDev), resolver.WithLogger(logger))
	inst := installer.New(res, clients, st, installer.WithLogger(logger))

	fmt.Printf("Resolving %d root package(s)...\n", len(wants))

	cfg := installer.DefaultConfig()
	cfg.IncludeDev = includeDev
	cfg.ForceUpdate = force
	cfg.SkipVerification = skipVerification

	if jobs > 0 {
		cfg.MaxConcurrent = jobs
	}

	report, err := inst.Install(ctx, wants, cfg)
	if err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}

	printReport(report)

	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	if report.Status != "success" {
		return fmt.Errorf("%d package(s) failed to install", len(report.Failed))
	}

	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := newLogger(false)
	httpClient := &http.Client{Timeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	clients := newClients(ctx, httpClient, logger)

	for _, eco := range []ecosystem.Ecosystem{ecosystem.JavaScript, ecosystem.Python} {
		s := clients[eco].GetRegistryStatus(ctx)

		mark := "✓"
		if !s.Reachable {
			mark = "✗"
		}

		fmt.Printf("  %s %-10s %s\n", mark, eco, s.Detail)
	}

	return nil
}

func printReport(report *installer.Report) {
	for _, o := range report.Installed {
		fmt.Printf("  + %s (%s)\n", o.PURL, formatSize(o.BytesFetched))
	}

	for _, o := range report.CacheHits {
		fmt.Printf("  = %s (cached)\n", o.PURL)
	}

	for _, o := range report.Failed {
		fmt.Printf("  ✗ %s: %v\n", o.Key.Name, o.Err)
	}

	fmt.Printf("\n%d installed, %d cached, %d failed (%s)\n",
		len(report.Installed), len(report.CacheHits), len(report.Failed), report.Status)
}

func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return strconv.FormatInt(n, 10) + "B"
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// parseWants turns CLI args like "npm:express@^4.18.0" or "pypi:flask==3.0.0"
// into resolver.Want values. A missing ecosystem prefix falls back to
// defaultEco. The range follows "@", or directly follows the name when it
// starts with a comparator ("flask==3.0.0"). A missing range leaves Range
// empty, which the resolver treats as any version, so the highest
// published release is chosen.
func parseWants(args []string, defaultEco string) ([]resolver.Want, error) {
	wants := make([]resolver.Want, 0, len(args))

	for _, arg := range args {
		ecoStr, rest := defaultEco, arg

		if idx := strings.Index(arg, ":"); idx >= 0 {
			ecoStr, rest = arg[:idx], arg[idx+1:]
		}

		if ecoStr == "" {
			return nil, fmt.Errorf("%q has no ecosystem prefix and --ecosystem was not set", arg)
		}

		eco, err := ecosystem.Parse(ecoStr)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", arg, err)
		}

		name, rng := rest, ""

		if idx := strings.LastIndex(rest, "@"); idx > 0 {
			name, rng = rest[:idx], rest[idx+1:]
		} else if idx := strings.IndexAny(rest, "=<>!~"); idx > 0 {
			name, rng = rest[:idx], rest[idx:]
		}

		if err := project.ValidateName(name, ecoStr); err != nil {
			return nil, err
		}

		wants = append(wants, resolver.Want{Ecosystem: eco, Name: name, Range: rng})
	}

	return wants, nil
}
