package topology

import (
	"context"

	"github.com/openstack-archive/namos/model"
)

// ViewOptions selects the optional parts of the 360 view.
type ViewOptions struct {
	IncludeConfFile  bool `json:"include_conf_file"`
	IncludeStatus    bool `json:"include_status"`
	IncludeFileEntry bool `json:"include_file_entry"`
}

// View360 is the whole graph: flat tables keyed by id plus a tree of ids
// from region down to device driver.
type View360 struct {
	Region            map[string]*RegionTree              `json:"region"`
	ServiceNode       map[string]*model.ServiceNode       `json:"service_node"`
	ServiceComponent  map[string]*model.ServiceComponent  `json:"service_component"`
	Service           map[string]*model.Service           `json:"service"`
	ServiceWorker     map[string]*model.ServiceWorker     `json:"service_worker"`
	DeviceDriver      map[string]*model.DeviceDriver      `json:"device_driver"`
	DeviceDriverClass map[string]*model.DeviceDriverClass `json:"device_driver_class"`
	DeviceEndpoint    map[string]*model.DeviceEndpoint    `json:"device_endpoint"`
	Device            map[string]*model.Device            `json:"device"`
	ConfigFile        map[string]*ConfigFileView          `json:"config_file"`
	Status            map[string]WorkerStatus             `json:"status"`
}

// RegionTree is a region and the nodes in it.
type RegionTree struct {
	Region      *model.Region        `json:"region"`
	ServiceNode map[string]*NodeTree `json:"service_node"`
}

// NodeTree holds the components on a node.
type NodeTree struct {
	ServiceComponent map[string]*ComponentTree `json:"service_component"`
}

// ComponentTree holds a component's service id, files and workers.
type ComponentTree struct {
	Service       string                 `json:"service"`
	ConfigFile    map[string]struct{}    `json:"config_file"`
	ServiceWorker map[string]*WorkerTree `json:"service_worker"`
}

// WorkerTree holds the drivers of a worker.
type WorkerTree struct {
	DeviceDriver map[string]*DriverRef `json:"device_driver"`
}

// DriverRef names what a driver links by id.
type DriverRef struct {
	DeviceDriverClass string `json:"device_driver_class"`
	DeviceEndpoint    string `json:"device_endpoint"`
	Device            string `json:"device"`
}

// View360 dumps the full graph.
func (r *Reader) View360(ctx context.Context, opts ViewOptions) (*View360, error) {
	gr, err := loadGraph(ctx, r.store, true)
	if err != nil {
		return nil, err
	}

	v := &View360{
		Region:            make(map[string]*RegionTree),
		ServiceNode:       make(map[string]*model.ServiceNode),
		ServiceComponent:  make(map[string]*model.ServiceComponent),
		Service:           make(map[string]*model.Service),
		ServiceWorker:     make(map[string]*model.ServiceWorker),
		DeviceDriver:      make(map[string]*model.DeviceDriver),
		DeviceDriverClass: make(map[string]*model.DeviceDriverClass),
		DeviceEndpoint:    make(map[string]*model.DeviceEndpoint),
		Device:            make(map[string]*model.Device),
		ConfigFile:        make(map[string]*ConfigFileView),
		Status:            make(map[string]WorkerStatus),
	}

	for _, rg := range gr.regions {
		rt := &RegionTree{Region: rg, ServiceNode: make(map[string]*NodeTree)}
		v.Region[rg.ID] = rt

		for _, n := range gr.nodes {
			if n.RegionID != rg.ID {
				continue
			}
			v.ServiceNode[n.ID] = n
			nt := &NodeTree{ServiceComponent: make(map[string]*ComponentTree)}
			rt.ServiceNode[n.ID] = nt

			for _, c := range gr.componentsOf(func(c *model.ServiceComponent) bool { return c.NodeID == n.ID }) {
				v.ServiceComponent[c.ID] = c
				if s, ok := gr.serviceByID[c.ServiceID]; ok {
					v.Service[s.ID] = s
				}
				ct := &ComponentTree{
					Service:       c.ServiceID,
					ConfigFile:    make(map[string]struct{}),
					ServiceWorker: make(map[string]*WorkerTree),
				}
				nt.ServiceComponent[c.ID] = ct

				for _, id := range gr.fileIDsOf(c.ID) {
					ct.ConfigFile[id] = struct{}{}
					fv := &ConfigFileView{}
					if opts.IncludeConfFile {
						fv.File = gr.fileByID[id]
					}
					if opts.IncludeFileEntry {
						fv.Entries = gr.entriesOf(id)
					}
					v.ConfigFile[id] = fv
				}

				for _, w := range gr.workersOf(c.ID) {
					v.ServiceWorker[w.ID] = w
					wt := &WorkerTree{DeviceDriver: make(map[string]*DriverRef)}
					ct.ServiceWorker[w.ID] = wt

					for _, d := range gr.driversOf(func(d *model.DeviceDriver) bool { return d.ServiceWorkerID == w.ID }) {
						v.DeviceDriver[d.ID] = d
						if cl, ok := gr.classByID[d.DeviceDriverClassID]; ok {
							v.DeviceDriverClass[cl.ID] = cl
						}
						if ep, ok := gr.endpointByID[d.EndpointID]; ok {
							v.DeviceEndpoint[ep.ID] = ep
						}
						if dev, ok := gr.deviceByID[d.DeviceID]; ok {
							v.Device[dev.ID] = dev
						}
						wt.DeviceDriver[d.ID] = &DriverRef{
							DeviceDriverClass: d.DeviceDriverClassID,
							DeviceEndpoint:    d.EndpointID,
							Device:            d.DeviceID,
						}
					}
				}
			}
		}
	}

	if opts.IncludeStatus {
		v.Status = r.status(gr, StatusFilter{})
	}
	return v, nil
}

// StatusFilter narrows GetStatus. Empty fields match everything.
type StatusFilter struct {
	Node      string `json:"node,omitempty"`
	Service   string `json:"service,omitempty"`
	Type      string `json:"type,omitempty"`
	Component string `json:"component,omitempty"`
}

// WorkerStatus is one row of GetStatus.
type WorkerStatus struct {
	Node       string `json:"node"`
	Type       string `json:"type"`
	Service    string `json:"service"`
	Component  string `json:"component"`
	Worker     string `json:"worker"`
	Status     bool   `json:"status"`
	IsLauncher bool   `json:"is_launcher"`
}

// GetStatus reports every live worker keyed by its identification.
func (r *Reader) GetStatus(ctx context.Context, f StatusFilter) (map[string]WorkerStatus, error) {
	gr, err := loadGraph(ctx, r.store, false)
	if err != nil {
		return nil, err
	}
	return r.status(gr, f), nil
}

func (r *Reader) status(gr *graph, f StatusFilter) map[string]WorkerStatus {
	out := make(map[string]WorkerStatus)
	for _, n := range gr.nodes {
		if f.Node != "" && n.Name != f.Node {
			continue
		}
		for _, c := range gr.componentsOf(func(c *model.ServiceComponent) bool { return c.NodeID == n.ID }) {
			s, ok := gr.serviceByID[c.ServiceID]
			if !ok {
				continue
			}
			if (f.Service != "" && s.Name != f.Service) ||
				(f.Type != "" && c.Type != f.Type) ||
				(f.Component != "" && c.Name != f.Component) {
				continue
			}
			for _, w := range gr.workersOf(c.ID) {
				out[w.PID] = WorkerStatus{
					Node:       n.Name,
					Type:       c.Type,
					Service:    s.Name,
					Component:  c.Name,
					Worker:     w.Name,
					Status:     r.alive(w),
					IsLauncher: w.IsLauncher,
				}
			}
		}
	}
	return out
}
