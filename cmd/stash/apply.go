package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/tenant"
	"github.com/cuemby/stash/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	KindTenant           = "Tenant"
	KindStorageMigration = "StorageMigration"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply tenants and storage migrations from a YAML file.

Documents are separated by ---. Tenants are created or updated first, then
all migrations run together on the scheduler.

Examples:
  # Create tenants
  stash apply -f tenants.yaml

  # Move several tenants to Azure
  stash apply -f migrations.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("metrics-addr", "", "Serve /metrics, /health and /ready while migrations run")
	_ = applyCmd.MarkFlagRequired("file")
}

// Resource represents a generic stash resource
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	resources, err := decodeResources(f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	return applyResources(ctx, rt, resources, runOptions{
		MetricsAddr: metricsAddr,
		Out:         os.Stdout,
	})
}

// decodeResources reads every YAML document from r. Empty documents are
// skipped; unknown kinds are an error.
func decodeResources(r io.Reader) ([]Resource, error) {
	dec := yaml.NewDecoder(r)

	var resources []Resource
	for {
		var res Resource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}
		if res.Kind == "" && res.Metadata.Name == "" {
			continue
		}

		switch res.Kind {
		case KindTenant, KindStorageMigration:
		default:
			return nil, fmt.Errorf("unsupported resource kind: %q", res.Kind)
		}
		if res.Metadata.Name == "" {
			return nil, fmt.Errorf("%s: metadata.name is required", res.Kind)
		}
		resources = append(resources, res)
	}

	if len(resources) == 0 {
		return nil, fmt.Errorf("no resources found")
	}
	return resources, nil
}

// applyResources creates or updates tenants in order, then runs all
// migrations together
func applyResources(ctx context.Context, rt *runtime, resources []Resource, opts runOptions) error {
	var reqs []migrationRequest
	for i := range resources {
		res := &resources[i]
		switch res.Kind {
		case KindTenant:
			if err := applyTenant(ctx, rt, res, opts.Out); err != nil {
				return err
			}
		case KindStorageMigration:
			req, err := migrationFromResource(res)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}
	}

	if len(reqs) == 0 {
		return nil
	}
	return runMigrations(ctx, rt, reqs, opts)
}

func applyTenant(ctx context.Context, rt *runtime, res *Resource, out io.Writer) error {
	id := res.Metadata.Name
	name := getString(res.Spec, "displayName", "")
	owner := getString(res.Spec, "owner", "")

	existing, err := rt.tenants.GetTenant(ctx, id)
	if errors.Is(err, tenant.ErrNotFound) {
		if owner == "" {
			return fmt.Errorf("tenant %s: spec.owner is required", id)
		}
		fmt.Fprintf(out, "Creating tenant: %s\n", id)
		t, err := createTenant(ctx, rt, id, name, owner)
		if err != nil {
			return fmt.Errorf("failed to create tenant: %v", err)
		}
		fmt.Fprintf(out, "✓ Tenant created: %s (owner: %s)\n", t.ID, t.OwnerID)
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	if name != "" && name != existing.Name {
		existing.Name = name
		changed = true
	}
	if owner != "" && owner != existing.OwnerID {
		existing.OwnerID = owner
		changed = true
	}
	if !changed {
		fmt.Fprintf(out, "Tenant unchanged: %s (skipping)\n", id)
		return nil
	}

	fmt.Fprintf(out, "Updating tenant: %s\n", id)
	if err := rt.tenants.SaveTenant(ctx, existing); err != nil {
		return fmt.Errorf("failed to update tenant: %v", err)
	}
	rt.broker.Publish(&events.Event{
		Type:     events.EventTenantUpdated,
		TenantID: id,
		Metadata: map[string]string{"owner": existing.OwnerID},
	})
	fmt.Fprintf(out, "✓ Tenant updated: %s\n", id)
	return nil
}

// migrationFromResource reads spec.tenant (defaulting to metadata.name) and
// spec.backend.{type,options}
func migrationFromResource(res *Resource) (migrationRequest, error) {
	tenantID := getString(res.Spec, "tenant", res.Metadata.Name)

	backend, _ := res.Spec["backend"].(map[string]interface{})
	backendType := getString(backend, "type", "")
	if backendType == "" {
		return migrationRequest{}, fmt.Errorf("migration %s: spec.backend.type is required", res.Metadata.Name)
	}

	opts := make(map[string]string)
	if optsSpec, ok := backend["options"].(map[string]interface{}); ok {
		for k, v := range optsSpec {
			opts[k] = fmt.Sprintf("%v", v)
		}
	}

	return migrationRequest{
		TenantID: tenantID,
		Target:   types.BackendDescriptor{Type: backendType, Options: opts},
	}, nil
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}
