package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pharmadesk "github.com/putto11262002/pharmadesk/app"
	"github.com/putto11262002/pharmadesk/core"
)

func loadConfig(path string) (*pharmadesk.Config, error) {
	config, err := pharmadesk.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.New(pharmadesk.FormatValidationErrors(err))
	}
	return config, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the http and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			app, err := pharmadesk.New(ctx, config)
			if err != nil {
				return err
			}
			return app.Start()
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := pharmadesk.OpenDB(config)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.MigrationVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s at version %d\n", config.SQLite.File, version)
			return nil
		},
	}
}

func newStaffCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff accounts",
	}
	cmd.AddCommand(newStaffCreateCmd(configPath))
	return cmd
}

func newStaffCreateCmd(configPath *string) *cobra.Command {
	var user core.User

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := pharmadesk.OpenDB(config)
			if err != nil {
				return err
			}
			defer db.Close()

			user.IsStaff = true
			id, err := core.NewSQLiteUserStore(db.DB).CreateUser(cmd.Context(), user)
			if err != nil {
				return fmt.Errorf("create staff %s: %w", user.Phone, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staff %s created with id %d\n", user.Phone, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&user.Phone, "phone", "", "login phone number")
	cmd.Flags().StringVar(&user.Password, "password", "", "login password")
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.MarkFlagRequired("phone")
	cmd.MarkFlagRequired("password")
	return cmd
}
