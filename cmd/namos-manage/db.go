package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openstack-archive/namos/demo"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
)

func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, s *storage.Store) error) error {
	ctx, cancel := a.context(cmd)
	defer cancel()
	store, closeFn, err := a.openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, store)
}

func (a *app) dbSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-sync",
		Short: "Create the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the store migrates it.
			return a.withStore(cmd, func(context.Context, *storage.Store) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "store %q is up to date\n", a.cfg.Store.Driver)
				return err
			})
		},
	}
}

func (a *app) demoDataCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "demo-data",
		Short: "Seed the store with demo regions, devices and services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, s *storage.Store) error {
				if purge {
					if err := demo.Purge(ctx, s); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "demo data purged")
					return err
				}
				sum, err := demo.Populate(ctx, s)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().BoolVarP(&purge, "purge", "p", false, "Remove the demo data instead")
	return cmd
}

// schemaEntry is one option of a schema file.
type schemaEntry struct {
	Name      string `yaml:"name"`
	Group     string `yaml:"group"`
	Namespace string `yaml:"namespace"`
	Type      string `yaml:"type"`
	Help      string `yaml:"help"`
	Default   string `yaml:"default"`
	Required  bool   `yaml:"required"`
	Secret    bool   `yaml:"secret"`
	Mutable   bool   `yaml:"mutable"`
}

func readSchemaFile(path string) ([]*model.ConfigSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []schemaEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]*model.ConfigSchema, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%s: entry %d has no name", path, i)
		}
		group := e.Group
		if group == "" {
			group = "DEFAULT"
		}
		out = append(out, &model.ConfigSchema{
			Base:         model.Base{Name: e.Name},
			GroupName:    group,
			Namespace:    e.Namespace,
			Type:         e.Type,
			Help:         e.Help,
			DefaultValue: e.Default,
			Required:     e.Required,
			Secret:       e.Secret,
			Mutable:      e.Mutable,
		})
	}
	return out, nil
}

func (a *app) schemaLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema-load <project> <file.yaml>",
		Short: "Load config option schemas for a project through the conductor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readSchemaFile(args[1])
			if err != nil {
				return err
			}
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				n, err := c.ConfigSchemaLoad(ctx, args[0], entries)
				if err != nil {
					return nil, err
				}
				return map[string]any{"project": args[0], "loaded": n}, nil
			})
		},
	}
}
