package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/rpcapi"
)

func (a *app) regionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				return c.RegionGetAll(ctx)
			})
		},
	}

	var keystoneID string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				return c.AddRegion(ctx, &model.Region{
					Base:             model.Base{Name: args[0]},
					KeystoneRegionID: keystoneID,
				})
			})
		},
	}
	add.Flags().StringVar(&keystoneID, "keystone-region-id", "", "Keystone identifier of the region")
	cmd.AddCommand(add)
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var filter rpcapi.StatusArgs
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show liveness of every worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				return c.GetStatus(ctx, filter)
			})
		},
	}
	cmd.Flags().StringVar(&filter.Node, "node", "", "Only workers on this node")
	cmd.Flags().StringVar(&filter.Service, "service", "", "Only workers of this service")
	cmd.Flags().StringVar(&filter.Type, "type", "", "Only components of this type")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only workers of this component")
	return cmd
}

func (a *app) perspectiveCmd() *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:       "perspective <service|device|region|infra> [id]",
		Short:     "Show the topology around a service, device or region",
		ValidArgs: []string{"service", "device", "region", "infra"},
		Args:      cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			if kind != "infra" && id == "" {
				return errors.Validation("id", kind+" perspective needs an id")
			}
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				switch kind {
				case "service":
					return c.ServicePerspective(ctx, id, details)
				case "device":
					return c.DevicePerspective(ctx, id, details)
				case "region":
					return c.RegionPerspective(ctx, id)
				case "infra":
					return c.InfraPerspective(ctx)
				default:
					return nil, errors.Validation("perspective", "unknown perspective "+kind)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "Include files, configs and child devices")
	return cmd
}

func (a *app) view360Cmd() *cobra.Command {
	var opts rpcapi.ViewArgs
	cmd := &cobra.Command{
		Use:   "view360",
		Short: "Show every region with its nodes, components and workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				return c.View360(ctx, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.IncludeConfFile, "include-conf-file", false, "Include config files")
	cmd.Flags().BoolVar(&opts.IncludeStatus, "include-status", false, "Include worker liveness")
	cmd.Flags().BoolVar(&opts.IncludeFileEntry, "include-file-entry", false, "Include config file entries")
	return cmd
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <identification>",
		Short: "Ask a worker whether it is alive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConductor(cmd, func(ctx context.Context, c Conductor) (any, error) {
				alive, err := c.PingWorker(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return rpcapi.PingResult{Alive: alive}, nil
			})
		},
	}
}
