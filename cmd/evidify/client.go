package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/vault"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage clients",
}

var clientAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a client",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		name := strings.Join(args, " ")
		c, err := v.CreateClient(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to add client: %w", err)
		}
		fmt.Printf("%s %s\n", ui.Success.Sprint("Client added:"), c.ID)
		return nil
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		clients, err := v.ListClients(ctx)
		if err != nil {
			return fmt.Errorf("failed to list clients: %w", err)
		}
		if len(clients) == 0 {
			fmt.Println("No clients")
			return nil
		}
		for _, c := range clients {
			fmt.Printf("%s  %s\n", c.ID, c.Name)
		}
		return nil
	},
}

var clientRenameCmd = &cobra.Command{
	Use:   "rename [id] [name]",
	Short: "Rename a client",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		name := strings.Join(args[1:], " ")
		if err := v.RenameClient(ctx, args[0], name); err != nil {
			return fmt.Errorf("failed to rename client: %w", err)
		}
		fmt.Println(ui.Success.Sprint("Client renamed"))
		return nil
	},
}

var (
	profileStatus   string
	profileEmail    string
	profilePhone    string
	profileSessions int
)

var clientShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		c, err := v.GetClient(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get client: %w", err)
		}
		fmt.Printf("Client: %s\n", c.ID)
		fmt.Printf("Name:   %s\n", c.Name)
		if p := c.Profile; p != nil {
			if p.Status != "" {
				fmt.Printf("Status:   %s\n", p.Status)
			}
			if p.SessionCount > 0 {
				fmt.Printf("Sessions: %d\n", p.SessionCount)
			}
			if p.ContactEmail != "" {
				fmt.Printf("Email:    %s\n", p.ContactEmail)
			}
			if p.ContactPhone != "" {
				fmt.Printf("Phone:    %s\n", p.ContactPhone)
			}
		}
		return nil
	},
}

var clientProfileCmd = &cobra.Command{
	Use:   "profile [id]",
	Short: "Update a client's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		// Start from the stored profile so unset flags keep their
		// current values.
		c, err := v.GetClient(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get client: %w", err)
		}
		profile := vault.ClientProfile{}
		if c.Profile != nil {
			profile = *c.Profile
		}
		if cmd.Flags().Changed("status") {
			profile.Status = profileStatus
		}
		if cmd.Flags().Changed("email") {
			profile.ContactEmail = profileEmail
		}
		if cmd.Flags().Changed("phone") {
			profile.ContactPhone = profilePhone
		}
		if cmd.Flags().Changed("sessions") {
			profile.SessionCount = profileSessions
		}

		if err := v.UpdateClientProfile(ctx, args[0], profile); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		fmt.Println(ui.Success.Sprint("Profile updated"))
		return nil
	},
}

func init() {
	clientCmd.AddCommand(clientAddCmd)
	clientCmd.AddCommand(clientListCmd)
	clientCmd.AddCommand(clientShowCmd)
	clientCmd.AddCommand(clientRenameCmd)
	clientCmd.AddCommand(clientProfileCmd)

	clientProfileCmd.Flags().StringVar(&profileStatus, "status", "", "Client status (e.g. active, discharged)")
	clientProfileCmd.Flags().StringVar(&profileEmail, "email", "", "Contact email")
	clientProfileCmd.Flags().StringVar(&profilePhone, "phone", "", "Contact phone")
	clientProfileCmd.Flags().IntVar(&profileSessions, "sessions", 0, "Session count")
}
