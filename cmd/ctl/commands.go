package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/example/civictrack/internal/auth"
	"github.com/example/civictrack/internal/config"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
	"github.com/example/civictrack/internal/service"
	"github.com/example/civictrack/internal/workflow"
)

type storeOpener func() (repository.Store, func() error, error)

func newRootCmd(open storeOpener, cfg config.Config, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "civictrack-ctl",
		Short:         "Administrative tasks for the application tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(open),
		newCreateUserCmd(open, cfg, logger),
		newEstimateCmd(logger),
	)
	return root
}

func newMigrateCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, closeStore, err := open()
			if err != nil {
				return err
			}
			defer closeStore()
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newCreateUserCmd(open storeOpener, cfg config.Config, logger *slog.Logger) *cobra.Command {
	var in service.CreateUserInput
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := open()
			if err != nil {
				return err
			}
			defer closeStore()

			users := service.NewUserService(store.Users(), auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL), logger)
			user, err := users.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Username, user.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Username, "username", "", "login name")
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.Password, "password", "", "initial password, at least 8 characters")
	f.StringVar(&in.FirstName, "first-name", "", "first name")
	f.StringVar(&in.LastName, "last-name", "", "last name")
	f.StringVar(&in.Department, "department", "", "department")
	f.StringVar(&in.Role, "role", string(models.RoleStaff), "admin, supervisor or staff")
	f.StringVar(&in.Language, "language", cfg.DefaultLanguage, "preferred language")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newEstimateCmd(logger *slog.Logger) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "estimate <application-type>",
		Short: "Print the estimated completion date for an application type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := models.ParseApplicationType(args[0])
			if err != nil {
				return err
			}
			start := time.Now().UTC()
			if from != "" {
				if start, err = time.Parse("2006-01-02", from); err != nil {
					return errors.Wrap(err, "parse --from")
				}
			}
			due := workflow.NewEstimator(logger).Estimate(typ, start)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d business days, due %s\n", typ, workflow.BusinessDays(typ), due.Format("Mon 2006-01-02"))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "submission date (YYYY-MM-DD), defaults to today")
	return cmd
}
