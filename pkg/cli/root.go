package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"duckframe/internal/config"
	"duckframe/internal/domain"
	"duckframe/pkg/duckframe"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if getOutputFormat(rootCmd) == "json" {
			_ = printJSON(os.Stdout, errorObject(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func errorObject(err error) map[string]any {
	obj := map[string]any{"error": err.Error()}
	var (
		pe *domain.PolicyError
		ce *domain.ConfigError
		de *domain.DecodeError
		ee *domain.EngineError
	)
	switch {
	case errors.As(err, &pe):
		obj["code"] = "policy_violation"
	case errors.As(err, &ce):
		obj["code"] = ce.Kind.String()
	case errors.As(err, &de):
		obj["code"] = de.Kind.String()
		obj["column"] = de.Column
	case errors.As(err, &ee):
		obj["code"] = "engine_error"
	}
	return obj
}

// app carries the settings resolved before every command.
type app struct {
	output     string
	profile    string
	envFile    string
	configPath string
	dbPath     string
	tables     []string
	buckets    []string
	verify     bool

	cfg    *config.Config
	active Profile
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "duckframe",
		Short:         "Guarded SQL over an embedded DuckDB",
		Long:          "Run read-only SQL against CSV files and S3 buckets with an embedded DuckDB, or serve it over Flight SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	flags.StringVarP(&a.profile, "profile", "p", "", "Config profile to use")
	flags.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	flags.StringVar(&a.configPath, "config", ConfigPath(), "Profile config file")
	flags.StringVar(&a.dbPath, "db", "", "DuckDB database file (overrides DUCKFRAME_DB_PATH)")
	a.addRegistrationFlags(flags)

	rootCmd.AddCommand(newQueryCmd(a))
	rootCmd.AddCommand(newExecCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func (a *app) addRegistrationFlags(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&a.tables, "table", "t", nil, "Register a CSV file as a table (name=path, repeatable)")
	fs.StringArrayVarP(&a.buckets, "bucket", "b", nil, "Register an S3 bucket (repeatable)")
	fs.BoolVar(&a.verify, "verify", false, "Check that every registered bucket is reachable")
}

// resolve loads configuration and applies precedence:
// flag > env > profile > default.
func (a *app) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = a.dbPath
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		a.logger.Warn(w)
	}

	userCfg, err := LoadUserConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.active, err = userCfg.ActiveProfile(a.profile); err != nil {
		return err
	}

	if !cmd.Flags().Changed("output") {
		switch {
		case os.Getenv("DUCKFRAME_OUTPUT") != "":
			a.output = os.Getenv("DUCKFRAME_OUTPUT")
		case a.active.Output != "":
			a.output = a.active.Output
		default:
			a.output = defaultOutputFormat(os.Stdout)
		}
		_ = cmd.Root().PersistentFlags().Set("output", a.output)
	}
	return validateOutputFormat(a.output)
}

// open creates a Context and registers the profile's and the flags' tables
// and buckets. Flag tables replace profile tables of the same name.
func (a *app) open(ctx context.Context) (*duckframe.Context, error) {
	tables := make(map[string]string, len(a.active.Tables)+len(a.tables))
	for name, path := range a.active.Tables {
		tables[name] = path
	}
	for _, spec := range a.tables {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --table %q: want name=path", spec)
		}
		tables[name] = path
	}

	dc, err := duckframe.New(ctx,
		duckframe.WithConfig(a.cfg.Engine()),
		duckframe.WithLogger(a.logger),
		duckframe.WithStoreDefaults(a.cfg.S3Endpoint, a.cfg.S3URLStyle),
	)
	if err != nil {
		return nil, err
	}
	if err := a.register(ctx, dc, tables); err != nil {
		_ = dc.Close()
		return nil, err
	}
	return dc, nil
}

func (a *app) register(ctx context.Context, dc *duckframe.Context, tables map[string]string) error {
	for _, name := range (Profile{Tables: tables}).TableNames() {
		if err := dc.RegisterCSV(ctx, name, tables[name]); err != nil {
			return fmt.Errorf("register table %s: %w", name, err)
		}
	}

	creds := duckframe.Credentials{
		Region:   a.active.Region,
		Endpoint: a.active.Endpoint,
		URLStyle: a.active.URLStyle,
	}
	for _, bucket := range append(append([]string(nil), a.active.Buckets...), a.buckets...) {
		if err := dc.RegisterObjectStore(ctx, bucket, creds); err != nil {
			return err
		}
	}
	if a.verify {
		if err := dc.VerifyStores(ctx); err != nil {
			return fmt.Errorf("verify stores: %w", err)
		}
	}
	return nil
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
