package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/fooddash/internal/app"
	"github.com/Additional-Code/fooddash/internal/config"
	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/migration"
	"github.com/Additional-Code/fooddash/internal/seeder"
	ordersvc "github.com/Additional-Code/fooddash/internal/service/order"
	"github.com/Additional-Code/fooddash/internal/transport/http/auth"
)

// NewRootCommand builds the root fooddash CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fooddash",
		Short:         "Fooddash order lifecycle toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newOrderCmd())
	root.AddCommand(newStatusesCmd())
	root.AddCommand(newTokenCmd())

	return root
}

// Execute runs the fooddash CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP and gRPC services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Module))
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				success(cmd, "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				success(cmd, "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				version, err := mig.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed restaurants, menus, drivers and a sample order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				summary, err := seed.Seed(ctx)
				if err != nil {
					return err
				}
				if summary == (seeder.Summary{}) {
					fmt.Fprintln(cmd.OutOrStdout(), "seed data already present")
					return nil
				}
				success(cmd, fmt.Sprintf("seeded %d restaurants, %d menu items, %d drivers, %d orders",
					summary.Restaurants, summary.MenuItems, summary.Drivers, summary.Orders))
				return nil
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the order notification worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Worker))
		},
	})
	return cmd
}

// newOrderCmd exposes back-office order operations. Every action runs as an admin caller.
func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and move orders as an administrator",
	}
	cmd.PersistentFlags().Int64("as", 0, "Admin user id recorded in the status history")

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print an order with its items and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			caller := adminCaller(cmd)

			var svc *ordersvc.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				view, err := svc.Get(ctx, id, caller)
				if err != nil {
					return err
				}
				renderView(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}

	transitionCmd := &cobra.Command{
		Use:   "transition [id] [status]",
		Short: "Move an order to the next status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			status, err := core.ParseStatus(args[1])
			if err != nil {
				return err
			}
			req := ordersvc.TransitionRequest{OrderID: id, Status: status, Caller: adminCaller(cmd)}
			if cmd.Flags().Changed("driver") {
				driverID, _ := cmd.Flags().GetInt64("driver")
				req.DriverID = &driverID
			}
			if notes, _ := cmd.Flags().GetString("notes"); notes != "" {
				req.Notes = &notes
			}

			var svc *ordersvc.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				view, err := svc.Transition(ctx, req)
				if err != nil {
					return err
				}
				success(cmd, fmt.Sprintf("order #%d is now %s", view.ID, statusLabel(view.Status)))
				return nil
			})
		},
	}
	transitionCmd.Flags().Int64("driver", 0, "Driver to bind when moving to out_for_delivery")
	transitionCmd.Flags().String("notes", "", "Notes stored on the history row")

	assignCmd := &cobra.Command{
		Use:   "assign [id] [driver-id]",
		Short: "Bind or swap the driver of an order ready for pickup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			driverID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid driver id %q", args[1])
			}

			var svc *ordersvc.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				view, err := svc.AssignDriver(ctx, ordersvc.AssignDriverRequest{OrderID: id, DriverID: driverID, Caller: adminCaller(cmd)})
				if err != nil {
					return err
				}
				success(cmd, fmt.Sprintf("driver %d assigned to order #%d", driverID, view.ID))
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd, transitionCmd, assignCmd)
	return cmd
}

func newStatusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "Print the order status transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			renderTransitions(cmd.OutOrStdout())
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue signed caller tokens for local testing",
	}
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an HS256 token for a user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			rawRole, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			role, err := core.ParseRole(rawRole)
			if err != nil {
				return err
			}
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive id")
			}

			cfg, err := config.New()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is not configured")
			}
			token, err := auth.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, core.Caller{ID: userID, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().Int64("user", 0, "User id placed in the sub claim")
	issueCmd.Flags().String("role", string(core.RoleCustomer), "Caller role: customer, restaurant, driver or admin")
	issueCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")

	cmd.AddCommand(issueCmd)
	return cmd
}

func adminCaller(cmd *cobra.Command) core.Caller {
	id, _ := cmd.Flags().GetInt64("as")
	return core.Caller{ID: id, Role: core.RoleAdmin}
}

func parseOrderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return id, nil
}

func runUntilDone(ctx context.Context, application *fx.App) error {
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
