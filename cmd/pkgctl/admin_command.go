package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"learnhub/internal/auth"
)

func newAdminCommand(ctx *commandContext) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	adminCmd.AddCommand(newAdminCreateCommand(ctx))
	return adminCmd
}

func newAdminCreateCommand(ctx *commandContext) *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(strings.ToLower(email))
			username = strings.TrimSpace(username)
			if email == "" || username == "" {
				return errors.New("--email and --username are required")
			}
			if err := auth.ValidatePassword(password); err != nil {
				return err
			}

			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			existing, err := a.Users.GetByEmail(cmd.Context(), email)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("user %s already exists", email)
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			u := auth.User{
				ID:           uuid.NewString(),
				Username:     username,
				Email:        email,
				PasswordHash: hash,
				IsAdmin:      true,
			}
			if err := a.Users.CreateUser(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Login email")
	cmd.Flags().StringVar(&password, "password", "", "Password (8-72 chars)")
	return cmd
}
