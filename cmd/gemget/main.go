package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/knowfox/gemini/v2"
	"github.com/knowfox/gemini/v2/internal/config"
	"github.com/knowfox/gemini/v2/internal/logging"
	"github.com/knowfox/gemini/v2/tofu"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "2.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gemget [flags] URL...",
	Short: "Fetch resources over the Gemini protocol",
	Long: `gemget fetches one or more gemini:// URLs and writes the response bodies
to standard output.

Server certificates are trusted on first use. Unknown or changed
certificates are confirmed on the terminal unless --trust says otherwise.

Examples:
  gemget gemini://geminiprotocol.net/
  gemget --render gemini://geminiprotocol.net/docs/
  gemget --input "gemini protocol" gemini://kennedy.gemi.dev/search
  gemget -o json gemini://a.example/ gemini://b.example/
  gemget known-hosts list`,
	Version:       version,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		return app.run(cmd.Context(), args, cmd.OutOrStdout())
	},
}

var knownHostsCmd = &cobra.Command{
	Use:   "known-hosts",
	Short: "Inspect and edit pinned server certificates",
}

var knownHostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned certificates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		return writeRecords(cmd.OutOrStdout(), app.store.Records(), flagOutput)
	},
}

var knownHostsForgetCmd = &cobra.Command{
	Use:   "forget HOST[:PORT]...",
	Short: "Forget pinned certificates so the next visit is a first contact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		var errs []error
		for _, arg := range args {
			host := hostKeyArg(arg)
			if err := app.store.Forget(host); err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", host)
		}
		return errors.Join(errs...)
	},
}

var (
	flagConfig       string
	flagOutput       string
	flagTrust        string
	flagInput        string
	flagRender       bool
	flagMaxRedirects int
	flagConcurrency  int
	flagRate         float64
	flagLogLevel     string
	flagInsecure     bool
	flagSaveDir      string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (trace/debug/info/warn/error/disabled)")

	rootCmd.Flags().StringVar(&flagTrust, "trust", "", "Policy for unknown or changed certificates (prompt/accept/deny)")
	rootCmd.Flags().StringVarP(&flagInput, "input", "i", "", "Answer to an input prompt, sent as the query")
	rootCmd.Flags().BoolVarP(&flagRender, "render", "r", false, "Render gemtext for the terminal")
	rootCmd.Flags().IntVar(&flagMaxRedirects, "max-redirects", -1, "Redirects to follow (default from config)")
	rootCmd.Flags().IntVarP(&flagConcurrency, "concurrency", "j", 0, "URLs fetched at once (default from config)")
	rootCmd.Flags().Float64Var(&flagRate, "rate", -1, "Requests per second, 0 for no limit (default from config)")
	rootCmd.Flags().StringVar(&flagSaveDir, "save-dir", "", "Save non-text bodies to this directory")
	rootCmd.Flags().BoolVarP(&flagInsecure, "insecure", "k", false, "Accept any server certificate without pinning it")

	knownHostsCmd.AddCommand(knownHostsListCmd)
	knownHostsCmd.AddCommand(knownHostsForgetCmd)
	rootCmd.AddCommand(knownHostsCmd)
}

// app holds what every command needs: the effective configuration, the
// trust store and a client built from both.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  *tofu.Store
	client *gemini.Client
	opts   fetchOptions
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch flagOutput {
	case "text", "json", "yaml":
	default:
		return nil, fmt.Errorf("unknown output format %q", flagOutput)
	}
	log := logging.Configure(cfg.LogLevel)

	decide := decisionFunc(cfg.Trust, bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr())
	store, err := tofu.NewStore(&tofu.FileStore{Path: cfg.KnownHosts}, decide)
	if err != nil {
		return nil, err
	}
	store.Logger = log

	ids := &gemini.IdentityStore{}
	for _, id := range cfg.Identities {
		if _, err := ids.LoadIdentity(gemini.Scope{Host: id.Host, Path: id.Path}, id.Cert, id.Key); err != nil {
			return nil, err
		}
	}
	log.Debug().Int("identities", ids.Len()).Str("known_hosts", cfg.KnownHosts).Msg("configured")

	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		client: &gemini.Client{
			TrustStore:         store,
			Identities:         ids,
			InsecureSkipVerify: flagInsecure,
			ConnectTimeout:     cfg.Timeouts.Connect,
			HandshakeTimeout:   cfg.Timeouts.Handshake,
			ReadTimeout:        cfg.Timeouts.Read,
			Logger:             log,
		},
		opts: fetchOptions{
			MaxRedirects: cfg.MaxRedirects,
			Concurrency:  cfg.Concurrency,
			Rate:         cfg.Rate,
			Input:        flagInput,
			HasInput:     cmd.Flags().Changed("input"),
			Render:       flagRender,
			Output:       flagOutput,
			SaveDir:      flagSaveDir,
		},
	}, nil
}

// applyFlags lets explicitly set flags override the config file.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("trust") {
		cfg.Trust = flagTrust
	}
	if flags.Changed("max-redirects") {
		cfg.MaxRedirects = flagMaxRedirects
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = flagConcurrency
	}
	if flags.Changed("rate") {
		cfg.Rate = flagRate
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
}

func (a *app) run(ctx context.Context, urls []string, w io.Writer) error {
	f := &fetcher{client: a.client, opts: a.opts, log: a.log}
	return f.fetchAll(ctx, urls, w)
}
