package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/security"
	"github.com/cuemby/stash/pkg/tenant"
	"github.com/cuemby/stash/pkg/types"
	"github.com/spf13/cobra"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		owner, _ := cmd.Flags().GetString("owner")

		rt, err := openRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		t, err := createTenant(cmd.Context(), rt, args[0], name, owner)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Tenant created: %s (owner: %s)\n", t.ID, t.OwnerID)
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		tenants, err := rt.store.ListTenants()
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tOWNER\tSTATUS\tUPDATED")
		for _, t := range tenants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.OwnerID, t.Status, t.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var tenantShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		t, err := rt.tenants.GetTenant(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", t.ID)
		fmt.Printf("Name:     %s\n", t.Name)
		fmt.Printf("Owner:    %s\n", t.OwnerID)
		fmt.Printf("Status:   %s\n", t.Status)
		fmt.Printf("Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated:  %s\n", t.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var tenantSettingsCmd = &cobra.Command{
	Use:   "settings ID",
	Short: "Show the storage backend a tenant's files live on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		if _, err := rt.tenants.GetTenant(cmd.Context(), args[0]); err != nil {
			return err
		}
		settings, err := rt.tenants.GetStorageSettings(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		desc := cfg.DefaultBackend
		source := "default"
		if settings != nil {
			desc = settings.Backend
			source = "committed " + settings.UpdatedAt.Format(time.RFC3339)
		}
		fmt.Printf("Backend:  %s (%s)\n", desc.Type, source)
		for k, v := range desc.Options {
			if security.IsCredentialOption(k) {
				v = "********"
			}
			fmt.Printf("  %s: %s\n", k, v)
		}
		return nil
	},
}

func init() {
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantShowCmd)
	tenantCmd.AddCommand(tenantSettingsCmd)

	tenantCreateCmd.Flags().String("name", "", "Display name")
	tenantCreateCmd.Flags().String("owner", "", "Owner principal")
	_ = tenantCreateCmd.MarkFlagRequired("owner")
}

// createTenant stores a new active tenant; an existing ID is an error
func createTenant(ctx context.Context, rt *runtime, id, name, owner string) (*types.Tenant, error) {
	if _, err := rt.tenants.GetTenant(ctx, id); err == nil {
		return nil, fmt.Errorf("tenant %s already exists", id)
	} else if !errors.Is(err, tenant.ErrNotFound) {
		return nil, err
	}

	if name == "" {
		name = id
	}
	t := &types.Tenant{
		ID:        id,
		Name:      name,
		OwnerID:   owner,
		Status:    types.TenantStatusActive,
		CreatedAt: time.Now(),
	}
	if err := rt.tenants.SaveTenant(ctx, t); err != nil {
		return nil, err
	}

	rt.broker.Publish(&events.Event{
		Type:     events.EventTenantCreated,
		TenantID: t.ID,
		Metadata: map[string]string{"owner": t.OwnerID},
	})
	return t, nil
}
