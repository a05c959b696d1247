package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/smartstore/internal/registry"
	"github.com/andresmejia3/smartstore/internal/store"
)

// Options holds shared configuration for aggregate and project commands
type Options struct {
	InputPath   string
	OutputPath  string
	DatasetRoot string
	Scene       string
	Frames      []int
	NumEngines  int
	Width       int
	Height      int
}

var (
	// Registry is the label identity registry shared by subcommands
	Registry *registry.Registry
	// Logger receives structured events from the pipeline
	Logger *zap.Logger
	// registryURL selects the registry backend
	registryURL string
	verbose     bool
)

// Version is the application version.
const Version = "0.1.0"

const defaultRegistry = "registry.json"

// usesRegistry marks, via cobra annotations, the commands that need the label registry opened.
const usesRegistry = "smartstore/registry"

var rootCmd = &cobra.Command{
	Use:     "smartstore",
	Short:   "RGB-D scene geometry and label catalogue builder",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Logger, err = newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		if cmd.Annotations[usesRegistry] == "" {
			return nil
		}

		registryURL = resolveRegistryURL(registryURL)
		s, err := openStore(registryURL)
		if err != nil {
			return err
		}
		// Use the command's context (which will be cancellable) for the connection
		Registry, err = registry.Open(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("failed to open registry %s: %w", redact(registryURL), err)
		}
		Logger.Debug("registry opened", zap.String("backend", redact(registryURL)), zap.Int("labels", Registry.Count()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Registry != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to release the backend.
			if err := Registry.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  Failed to close registry: %v\n", err)
			}
		}
		if Logger != nil {
			_ = Logger.Sync()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "Label registry: a .json file, a .db/.sqlite file, sqlite://<path> or postgres://<dsn> (default: registry.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// resolveRegistryURL applies the fallback chain: flag, SMARTSTORE_REGISTRY,
// POSTGRES_* variables, then the local default file.
func resolveRegistryURL(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("SMARTSTORE_REGISTRY"); env != "" {
		return env
	}
	// If no flag was provided, try to build the connection string from the environment
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return defaultRegistry
}

// openStore picks the registry backend for url.
func openStore(url string) (registry.Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return store.New(url), nil
	case strings.HasPrefix(url, "sqlite://"):
		return registry.NewSQLiteStore(strings.TrimPrefix(url, "sqlite://")), nil
	case strings.HasPrefix(url, "file://"):
		return registry.NewFileStore(strings.TrimPrefix(url, "file://")), nil
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported registry scheme in %q", url)
	}
	switch strings.ToLower(filepath.Ext(url)) {
	case ".db", ".sqlite", ".sqlite3":
		return registry.NewSQLiteStore(url), nil
	}
	return registry.NewFileStore(url), nil
}

// redact hides the password of a connection string for logging.
func redact(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 {
		return url
	}
	creds := url[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return url[:scheme+3] + creds[:colon] + ":***" + url[at:]
	}
	return url
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}
