package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var LOG_LEVEL = new(slog.LevelVar)

// -- http

// true for GitHub API repository content listings, which are worth remembering for a whole run.
func is_contents_listing(github_api string) func(*url.URL) bool {
	api, err := url.Parse(github_api)
	ensure(err == nil, "github api url must be valid")
	return func(u *url.URL) bool {
		return strings.EqualFold(u.Host, api.Host) &&
			strings.HasPrefix(u.Path, strings.TrimRight(api.Path, "/")+"/repos/") &&
			strings.Contains(u.Path, "/contents")
	}
}

func init_http(cfg Config) *Http {
	client := new_http_client(5 * time.Minute)
	client.Transport = NewResponseCache(client.Transport, 512, is_contents_listing(cfg.GithubAPI))
	return NewHttp(client, cfg.GithubAPI, cfg.GithubToken)
}

// -- flags

func combine_flag_set(opts *CombineOptions, base_href *string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("combine", pflag.ContinueOnError)
	flags.StringVar(base_href, "baseHref", ".", "public url prefix for generated links")
	flags.BoolVar(&opts.SkipHashes, "skipHashes", false, "skip fetching and hashing archives")
	flags.BoolVar(&opts.RecheckUrls, "recheckUrls", false, "re-check cached urls and invalidate those that fail")
	flags.BoolVar(&opts.UpdateFunding, "updateFunding", false, "ignore the funding cache and resolve everything again")
	return flags
}

// -- commands

type App struct {
	cfg  Config
	http *Http
}

// loads configuration and builds the shared http client.
func (a *App) init(base_href string) error {
	cfg, err := load_config(viper.New(), ".")
	if err != nil {
		return err
	}
	cfg.BaseHref = strings.TrimRight(base_href, "/")
	if cfg.BaseHref == "" {
		cfg.BaseHref = "."
	}
	a.cfg = cfg
	a.http = init_http(cfg)
	return nil
}

func new_root_command(ctx context.Context) *cobra.Command {
	app := &App{}
	opts := CombineOptions{}
	base_href := "."
	verbose := false

	run_combine := func(cmd *cobra.Command, args []string) error {
		err := app.init(base_href)
		if err != nil {
			return err
		}
		return combine(ctx, app.cfg, opts, app.http)
	}

	root := &cobra.Command{
		Use:           "qmod-catalogue",
		Short:         "Combines mod records into the catalogue",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				LOG_LEVEL.Set(slog.LevelDebug)
			}
		},
		RunE: run_combine,
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")
	root.Flags().AddFlagSet(combine_flag_set(&opts, &base_href))

	combine_cmd := &cobra.Command{
		Use:   "combine",
		Short: "Validate, fetch and enrich every record and write the combined catalogue",
		Args:  cobra.NoArgs,
		RunE:  run_combine,
	}
	combine_cmd.Flags().AddFlagSet(combine_flag_set(&opts, &base_href))

	standardize_cmd := &cobra.Command{
		Use:   "standardize",
		Short: "Rewrite every record in its standard form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.init(base_href)
			if err != nil {
				return err
			}
			return standardize_records(app.cfg)
		},
	}

	purge_all := false
	purge_cmd := &cobra.Command{
		Use:   "purge [--all] [urls]",
		Short: "Purge cached hashes and covers for the given urls, separated by '|'",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !purge_all && len(args) == 0 {
				return cmd.Usage()
			}
			err := app.init(base_href)
			if err != nil {
				return err
			}
			return purge(app.cfg, split_purge_args(args), purge_all)
		},
	}
	purge_cmd.Flags().BoolVar(&purge_all, "all", false, "clear the entire cache")

	import_cmd := &cobra.Command{
		Use:   "import-cores",
		Short: "Import records for core mods not imported before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.init(base_href)
			if err != nil {
				return err
			}
			return import_cores(ctx, app.cfg, app.http)
		},
	}

	root.AddCommand(combine_cmd, standardize_cmd, purge_cmd, import_cmd)
	return root
}

// --- bootstrap

func init() {
	if is_testing() {
		return
	}
	LOG_LEVEL.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: LOG_LEVEL})))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := new_root_command(ctx).Execute()
	if err != nil {
		fatal_error := &FatalError{}
		if errors.As(err, &fatal_error) {
			slog.Error("invalid mod record", "path", fatal_error.Path, "error", fatal_error.Err)
		} else {
			slog.Error(err.Error())
		}
		fatal()
	}
}
