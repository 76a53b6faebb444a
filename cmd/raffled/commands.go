package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/runtime"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/httputil"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/internal/platform/migrations"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	apiURL     string
	token      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "raffled",
		Short:         "Time- and randomness-gated raffle coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config (default $RAFFLE_CONFIG or "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("RAFFLE_API_URL", "http://127.0.0.1:8080"), "base URL of a running raffled")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("RAFFLE_API_TOKEN"), "bearer token for operator calls")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newStatusCmd(opts),
		newUpkeepCmd(opts),
		newRetryPayoutCmd(opts),
		newTokenCmd(opts),
		newCompletionCmd(),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator, keeper, oracle and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			application, err := runtime.NewApplication(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := application.Run(ctx)
			if err := application.Shutdown(context.Background()); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			db, err := runtime.OpenDatabase(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := migrations.Apply(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "only list the embedded migrations")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running raffle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAPI(cmd.OutOrStdout(), opts, "GET", "/v1/raffle")
		},
	}
}

func newUpkeepCmd(opts *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Close the current round if it is eligible",
		RunE: func(cmd *cobra.Command, args []string) error {
			if check {
				return callAPI(cmd.OutOrStdout(), opts, "GET", "/v1/raffle/upkeep")
			}
			return callAPI(cmd.OutOrStdout(), opts, "POST", "/v1/raffle/upkeep")
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only report eligibility")
	return cmd
}

func newRetryPayoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-payout",
		Short: "Retry the transfer for a round whose payout failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAPI(cmd.OutOrStdout(), opts, "POST", "/v1/raffle/payout/retry")
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator or oracle token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != middleware.RoleOperator && role != middleware.RoleOracle {
				return fmt.Errorf("role must be %s or %s", middleware.RoleOperator, middleware.RoleOracle)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, runtime.NewLogger(cfg.Logging))
			token, err := auth.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", middleware.RoleOperator, "operator or oracle")
	cmd.Flags().StringVar(&subject, "subject", "raffled-cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh]",
		Short:     "Print a shell completion script",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"bash", "zsh"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "zsh" {
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			}
			return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
		},
	}
}

func callAPI(out io.Writer, opts *rootOptions, method, path string) error {
	client := httputil.NewClient(httputil.ClientConfig{
		BaseURL:    opts.apiURL,
		Token:      opts.token,
		MaxRetries: 1,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, method, path, nil)
	if err != nil {
		return err
	}
	var body json.RawMessage
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(pretty))
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
