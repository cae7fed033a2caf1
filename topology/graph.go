package topology

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
)

// graph is a point-in-time read of the topology tables, without
// soft-deleted rows. Slices keep the store's creation order.
type graph struct {
	regions    []*model.Region
	nodes      []*model.ServiceNode
	services   []*model.Service
	components []*model.ServiceComponent
	workers    []*model.ServiceWorker
	files      []*model.ConfigFile
	entries    []*model.ConfigFileEntry
	devices    []*model.Device
	endpoints  []*model.DeviceEndpoint
	classes    []*model.DeviceDriverClass
	drivers    []*model.DeviceDriver

	regionByID    map[string]*model.Region
	nodeByID      map[string]*model.ServiceNode
	serviceByID   map[string]*model.Service
	componentByID map[string]*model.ServiceComponent
	workerByID    map[string]*model.ServiceWorker
	fileByID      map[string]*model.ConfigFile
	deviceByID    map[string]*model.Device
	endpointByID  map[string]*model.DeviceEndpoint
	classByID     map[string]*model.DeviceDriverClass
}

type entity[T any] interface {
	*T
	model.Entity
}

// listInto loads the live rows of t into dst on g.
func listInto[T any, P entity[T]](g *errgroup.Group, ctx context.Context, t *storage.Table[T, P], dst *[]P) {
	g.Go(func() error {
		rows, err := t.List(ctx, func(p P) bool { return !p.Meta().Deleted() })
		if err != nil {
			return err
		}
		*dst = rows
		return nil
	})
}

func byID[T any, P entity[T]](rows []P) map[string]P {
	out := make(map[string]P, len(rows))
	for _, r := range rows {
		out[r.Meta().ID] = r
	}
	return out
}

// loadGraph reads every topology table concurrently.
func loadGraph(ctx context.Context, s *storage.Store, withFiles bool) (*graph, error) {
	gr := &graph{}
	g, gctx := errgroup.WithContext(ctx)

	listInto(g, gctx, s.Regions, &gr.regions)
	listInto(g, gctx, s.ServiceNodes, &gr.nodes)
	listInto(g, gctx, s.Services, &gr.services)
	listInto(g, gctx, s.ServiceComponents, &gr.components)
	listInto(g, gctx, s.ServiceWorkers, &gr.workers)
	listInto(g, gctx, s.Devices, &gr.devices)
	listInto(g, gctx, s.DeviceEndpoints, &gr.endpoints)
	listInto(g, gctx, s.DeviceDriverClasses, &gr.classes)
	listInto(g, gctx, s.DeviceDrivers, &gr.drivers)
	if withFiles {
		listInto(g, gctx, s.ConfigFiles, &gr.files)
		listInto(g, gctx, s.ConfigFileEntries, &gr.entries)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	gr.regionByID = byID(gr.regions)
	gr.nodeByID = byID(gr.nodes)
	gr.serviceByID = byID(gr.services)
	gr.componentByID = byID(gr.components)
	gr.workerByID = byID(gr.workers)
	gr.fileByID = byID(gr.files)
	gr.deviceByID = byID(gr.devices)
	gr.endpointByID = byID(gr.endpoints)
	gr.classByID = byID(gr.classes)
	return gr, nil
}

func (gr *graph) componentsOf(pred func(*model.ServiceComponent) bool) []*model.ServiceComponent {
	var out []*model.ServiceComponent
	for _, c := range gr.components {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func (gr *graph) workersOf(componentID string) []*model.ServiceWorker {
	var out []*model.ServiceWorker
	for _, w := range gr.workers {
		if w.ServiceComponentID == componentID {
			out = append(out, w)
		}
	}
	return out
}

func (gr *graph) driversOf(pred func(*model.DeviceDriver) bool) []*model.DeviceDriver {
	var out []*model.DeviceDriver
	for _, d := range gr.drivers {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// fileIDsOf returns the ids of files owned by a component, then of any
// other file its entries point at.
func (gr *graph) fileIDsOf(componentID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range gr.files {
		if f.ServiceComponentID == componentID && !seen[f.ID] {
			seen[f.ID] = true
			out = append(out, f.ID)
		}
	}
	for _, e := range gr.entries {
		if e.ServiceComponentID == componentID && !seen[e.ConfigFileID] {
			seen[e.ConfigFileID] = true
			out = append(out, e.ConfigFileID)
		}
	}
	return out
}

func (gr *graph) entriesOf(fileID string) []*model.ConfigFileEntry {
	var out []*model.ConfigFileEntry
	for _, e := range gr.entries {
		if e.ConfigFileID == fileID {
			out = append(out, e)
		}
	}
	return out
}
