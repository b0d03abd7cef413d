package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"proofquorum/config"
	"proofquorum/dispute"
	"proofquorum/metrics"
	"proofquorum/migrations"
	"proofquorum/proof"
)

// cli carries state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	out        io.Writer

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper(), out: os.Stdout}

	root := &cobra.Command{
		Use:           "proofd",
		Short:         "proof verification consensus service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to a config file (yaml, json or toml)")
	flags.String("database-url", "", "postgres connection string")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "json", "log format: json or console")
	_ = c.v.BindPFlag("database.url", flags.Lookup("database-url"))
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		c.migrateCmd(),
		c.serveCmd(),
		c.submitCmd(),
		c.showCmd(),
		c.voteCmd(),
		c.queueCmd(),
		c.trustCmd(),
		c.disputeCmd(),
	)
	return root
}

func (c *cli) init(logOut io.Writer) error {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Log.Logger(logOut)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}

// withApp builds the service graph for the duration of fn. Only instrumented
// apps record prometheus metrics.
func (c *cli) withApp(ctx context.Context, instrumented bool, fn func(*app) error) error {
	a, err := newApp(ctx, c.cfg, c.log, instrumented)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the embedded database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				applied, err := migrations.Apply(cmd.Context(), a.pool)
				if err != nil {
					return err
				}
				c.log.Info().Strs("applied", applied).Msg("migrations complete")
				return nil
			})
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the outbox relay and the metrics endpoint",
		Long: "Run the outbox relay until interrupted. The metrics endpoint exports\n" +
			"runtime collectors and the proofquorum_outbox_* relay counters.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.withApp(ctx, true, func(a *app) error {
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return metrics.NewServer(c.log, c.cfg.Metrics.Addr, a.promRegistry).Run(ctx)
				})
				g.Go(func() error {
					return a.relay.Run(ctx, c.cfg.Outbox.PollInterval)
				})
				c.log.Info().Str("metrics_addr", c.cfg.Metrics.Addr).Msg("proofd serving")
				return g.Wait()
			})
		},
	}
	cmd.Flags().String("metrics-addr", "", "metrics listen address")
	_ = c.v.BindPFlag("metrics.addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	var submitter string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "create a pending proof",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				p, err := a.proofs.Submit(cmd.Context(), submitter)
				if err != nil {
					return err
				}
				return c.print(p)
			})
		},
	}
	cmd.Flags().StringVar(&submitter, "submitter", "", "submitting user id")
	_ = cmd.MarkFlagRequired("submitter")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "print a proof and its reviews",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				p, err := a.proofs.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				reviews, err := a.proofs.Reviews(cmd.Context(), id)
				if err != nil {
					return err
				}
				return c.print(struct {
					Proof   proof.Proof
					Reviews []proof.Review
				}{p, reviews})
			})
		},
	}
	cmd.Flags().StringVar(&id, "proof", "", "proof id")
	_ = cmd.MarkFlagRequired("proof")
	return cmd
}

func (c *cli) voteCmd() *cobra.Command {
	var (
		params  proof.SubmitParams
		comment string
	)
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "record a reviewer decision on a pending proof",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("comment") {
				params.Comment = &comment
			}
			return c.withApp(cmd.Context(), false, func(a *app) error {
				res, err := a.engine.SubmitReview(cmd.Context(), params)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	cmd.Flags().StringVar(&params.ProofID, "proof", "", "proof id")
	cmd.Flags().StringVar(&params.ReviewerID, "reviewer", "", "reviewer user id")
	cmd.Flags().StringVar((*string)(&params.Decision), "decision", "", "approve or reject")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("proof")
	_ = cmd.MarkFlagRequired("reviewer")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func (c *cli) queueCmd() *cobra.Command {
	var (
		reviewer string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "list pending proofs a reviewer can vote on",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				proofs, err := a.queue.Pending(cmd.Context(), reviewer, limit)
				if err != nil {
					return err
				}
				return c.print(proofs)
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer user id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of proofs (0 uses the default)")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func (c *cli) trustCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "print a user's trust profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				p, err := a.ledger.Profile(cmd.Context(), user)
				if err != nil {
					return err
				}
				return c.print(p)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) disputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispute",
		Short: "open, list and settle disputes",
	}

	var open dispute.SubmitParams
	openCmd := &cobra.Command{
		Use:   "open",
		Short: "open a dispute on a finalized proof",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				rec, err := a.disputes.Submit(cmd.Context(), open)
				if err != nil {
					return err
				}
				return c.print(rec)
			})
		},
	}
	openCmd.Flags().StringVar(&open.ProofID, "proof", "", "proof id")
	openCmd.Flags().StringVar(&open.ReporterID, "reporter", "", "reporting user id")
	openCmd.Flags().StringVar((*string)(&open.Reason), "reason", "", "fake_evidence, wrong_challenge, inappropriate_content, duplicate_submission or other")
	openCmd.Flags().StringVar(&open.Description, "description", "", "what is wrong with the proof")
	_ = openCmd.MarkFlagRequired("proof")
	_ = openCmd.MarkFlagRequired("reporter")
	_ = openCmd.MarkFlagRequired("reason")
	_ = openCmd.MarkFlagRequired("description")

	var proofID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list disputes, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				recs, err := a.disputes.List(cmd.Context(), proofID)
				if err != nil {
					return err
				}
				return c.print(recs)
			})
		},
	}
	listCmd.Flags().StringVar(&proofID, "proof", "", "only disputes on this proof")

	var settle dispute.ResolveParams
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "settle an open dispute",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(a *app) error {
				rec, err := a.disputes.Resolve(cmd.Context(), settle)
				if err != nil {
					return err
				}
				return c.print(rec)
			})
		},
	}
	resolveCmd.Flags().StringVar(&settle.DisputeID, "dispute", "", "dispute id")
	resolveCmd.Flags().StringVar(&settle.ResolverID, "resolver", "", "moderator user id")
	resolveCmd.Flags().StringVar((*string)(&settle.Status), "status", string(dispute.StatusResolved), "resolved or dismissed")
	_ = resolveCmd.MarkFlagRequired("dispute")
	_ = resolveCmd.MarkFlagRequired("resolver")

	cmd.AddCommand(openCmd, listCmd, resolveCmd)
	return cmd
}
