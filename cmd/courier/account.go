package main

import (
	"fmt"
	"os"

	"github.com/klipach/courier/contract"
	"github.com/spf13/cobra"
)

func newRegisterCmd(a *app) *cobra.Command {
	var email, password, avatarPath string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var image []byte
			if avatarPath != "" {
				var err error
				if image, err = os.ReadFile(avatarPath); err != nil {
					return err
				}
			}
			user, err := a.client.Accounts.Register(cmd.Context(), email, password, image)
			if user.UID != "" {
				if saveErr := a.saveSession(); saveErr != nil {
					return saveErr
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", user.Email, user.UID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&avatarPath, "avatar", "", "profile image file")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			principal, err := a.client.Accounts.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := a.saveSession(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", principal.Email, principal.UID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.client.Accounts.Logout()
			if err := a.sessions.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := a.client.Identity.Profile(cmd.Context())
			if err != nil {
				return err
			}
			if profile == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", profile.UID, profile.Email, profile.ProfileImageURL)
			return nil
		},
	}
}

func newUsersCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List people to start a conversation with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var users []contract.User
			var err error
			if all {
				users, err = a.client.Directory.ListUsers(ctx)
			} else {
				users, err = a.client.Contacts(ctx)
			}
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.UID, u.Email)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include the signed-in user")
	return cmd
}
