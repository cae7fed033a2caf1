package topology

import (
	"context"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
)

// ServicePerspective is a service with its components, their workers and
// the devices each worker drives.
type ServicePerspective struct {
	Service    *model.Service            `json:"service"`
	Components map[string]*ComponentView `json:"service_components"`
}

// ComponentView is one component of a service perspective.
type ComponentView struct {
	Component *model.ServiceComponent `json:"service_component"`
	Node      *model.ServiceNode      `json:"service_node"`
	Workers   map[string]*WorkerView  `json:"service_workers"`
	Files     []*model.ConfigFile     `json:"config_files,omitempty"`
}

// WorkerView is one worker of a component view.
type WorkerView struct {
	Worker  *model.ServiceWorker   `json:"service_worker"`
	Drivers map[string]*DriverView `json:"device_drivers"`
	Configs []*model.Config        `json:"configs,omitempty"`
}

// DriverView is a device driver with what it links.
type DriverView struct {
	Driver   *model.DeviceDriver      `json:"driver"`
	Endpoint *model.DeviceEndpoint    `json:"device_endpoint"`
	Device   *model.Device            `json:"device"`
	Class    *model.DeviceDriverClass `json:"device_driver_class"`
}

// ServicePerspective projects the graph rooted at a service. Details add
// each component's files and each worker's configuration.
func (r *Reader) ServicePerspective(ctx context.Context, serviceID string, details bool) (*ServicePerspective, error) {
	gr, err := loadGraph(ctx, r.store, details)
	if err != nil {
		return nil, err
	}
	return r.servicePerspective(ctx, gr, serviceID, details)
}

func (r *Reader) servicePerspective(ctx context.Context, gr *graph, serviceID string, details bool) (*ServicePerspective, error) {
	service, ok := gr.serviceByID[serviceID]
	if !ok {
		return nil, errors.NotFound(errors.KindService, serviceID)
	}

	p := &ServicePerspective{Service: service, Components: make(map[string]*ComponentView)}
	for _, c := range gr.componentsOf(func(c *model.ServiceComponent) bool { return c.ServiceID == serviceID }) {
		cv := &ComponentView{
			Component: c,
			Node:      gr.nodeByID[c.NodeID],
			Workers:   make(map[string]*WorkerView),
		}
		if details {
			for _, id := range gr.fileIDsOf(c.ID) {
				if f, ok := gr.fileByID[id]; ok {
					cv.Files = append(cv.Files, f)
				}
			}
		}

		for _, w := range gr.workersOf(c.ID) {
			wv := &WorkerView{Worker: w, Drivers: make(map[string]*DriverView)}
			for _, d := range gr.driversOf(func(d *model.DeviceDriver) bool { return d.ServiceWorkerID == w.ID }) {
				wv.Drivers[d.ID] = &DriverView{
					Driver:   d,
					Endpoint: gr.endpointByID[d.EndpointID],
					Device:   gr.deviceByID[d.DeviceID],
					Class:    gr.classByID[d.DeviceDriverClassID],
				}
			}
			if details {
				configs, err := r.ConfigsForWorker(ctx, w.ID, "", false)
				if err != nil {
					return nil, err
				}
				wv.Configs = configs
			}
			cv.Workers[w.ID] = wv
		}
		p.Components[c.ID] = cv
	}
	return p, nil
}

// DevicePerspective is a device with its endpoints and the workers that
// drive it through each.
type DevicePerspective struct {
	Device    *model.Device            `json:"device"`
	Children  []*model.Device          `json:"child_devices,omitempty"`
	Endpoints map[string]*EndpointView `json:"device_endpoints"`
}

// EndpointView is one endpoint of a device perspective.
type EndpointView struct {
	Endpoint *model.DeviceEndpoint        `json:"device_endpoint"`
	Drivers  map[string]*DeviceDriverView `json:"device_drivers"`
}

// DeviceDriverView is a driver seen from the device side.
type DeviceDriverView struct {
	Driver    *model.DeviceDriver      `json:"device_driver"`
	Worker    *model.ServiceWorker     `json:"service_worker"`
	Component *model.ServiceComponent  `json:"service_component"`
	Service   *model.Service           `json:"service"`
	Class     *model.DeviceDriverClass `json:"device_driver_class"`
}

// DevicePerspective projects the graph rooted at a device. Details add the
// device's children.
func (r *Reader) DevicePerspective(ctx context.Context, deviceID string, details bool) (*DevicePerspective, error) {
	gr, err := loadGraph(ctx, r.store, false)
	if err != nil {
		return nil, err
	}
	return devicePerspective(gr, deviceID, details)
}

func devicePerspective(gr *graph, deviceID string, details bool) (*DevicePerspective, error) {
	device, ok := gr.deviceByID[deviceID]
	if !ok {
		return nil, errors.NotFound(errors.KindDevice, deviceID)
	}

	p := &DevicePerspective{Device: device, Endpoints: make(map[string]*EndpointView)}
	if details {
		for _, d := range gr.devices {
			if d.ParentID == deviceID {
				p.Children = append(p.Children, d)
			}
		}
	}
	for _, ep := range gr.endpoints {
		if ep.DeviceID != deviceID {
			continue
		}
		ev := &EndpointView{Endpoint: ep, Drivers: make(map[string]*DeviceDriverView)}
		for _, d := range gr.driversOf(func(d *model.DeviceDriver) bool { return d.EndpointID == ep.ID }) {
			dv := &DeviceDriverView{Driver: d, Class: gr.classByID[d.DeviceDriverClassID]}
			if w, ok := gr.workerByID[d.ServiceWorkerID]; ok {
				dv.Worker = w
				if c, ok := gr.componentByID[w.ServiceComponentID]; ok {
					dv.Component = c
					dv.Service = gr.serviceByID[c.ServiceID]
				}
			}
			ev.Drivers[d.ID] = dv
		}
		p.Endpoints[ep.ID] = ev
	}
	return p, nil
}

// RegionPerspective lists the services running on a region's nodes and the
// region's devices.
type RegionPerspective struct {
	Region   *model.Region             `json:"region"`
	Services map[string]*model.Service `json:"services"`
	Devices  map[string]*model.Device  `json:"devices"`
}

// RegionPerspective projects the graph rooted at a region.
func (r *Reader) RegionPerspective(ctx context.Context, regionID string) (*RegionPerspective, error) {
	gr, err := loadGraph(ctx, r.store, false)
	if err != nil {
		return nil, err
	}
	return regionPerspective(gr, regionID)
}

func regionPerspective(gr *graph, regionID string) (*RegionPerspective, error) {
	region, ok := gr.regionByID[regionID]
	if !ok {
		return nil, errors.NotFound(errors.KindRegion, regionID)
	}

	p := &RegionPerspective{
		Region:   region,
		Services: make(map[string]*model.Service),
		Devices:  make(map[string]*model.Device),
	}
	for _, n := range gr.nodes {
		if n.RegionID != regionID {
			continue
		}
		for _, c := range gr.componentsOf(func(c *model.ServiceComponent) bool { return c.NodeID == n.ID }) {
			if s, ok := gr.serviceByID[c.ServiceID]; ok {
				p.Services[s.ID] = s
			}
		}
	}
	for _, d := range gr.devices {
		if d.RegionID == regionID {
			p.Devices[d.ID] = d
		}
	}
	return p, nil
}

// RegionInfra is one region of the infrastructure perspective.
type RegionInfra struct {
	Region   *model.Region                  `json:"region"`
	Services map[string]*ServicePerspective `json:"services"`
	Devices  map[string]*DevicePerspective  `json:"devices"`
}

// InfraPerspective is every region with its service and device perspectives.
type InfraPerspective struct {
	Regions map[string]*RegionInfra `json:"regions"`
}

// InfraPerspective projects the whole graph region by region from a
// single read of the store.
func (r *Reader) InfraPerspective(ctx context.Context) (*InfraPerspective, error) {
	gr, err := loadGraph(ctx, r.store, false)
	if err != nil {
		return nil, err
	}

	out := &InfraPerspective{Regions: make(map[string]*RegionInfra, len(gr.regions))}
	for _, rg := range gr.regions {
		rp, err := regionPerspective(gr, rg.ID)
		if err != nil {
			return nil, err
		}
		ri := &RegionInfra{
			Region:   rg,
			Services: make(map[string]*ServicePerspective, len(rp.Services)),
			Devices:  make(map[string]*DevicePerspective, len(rp.Devices)),
		}
		for id := range rp.Services {
			sp, err := r.servicePerspective(ctx, gr, id, false)
			if err != nil {
				return nil, err
			}
			ri.Services[id] = sp
		}
		for id := range rp.Devices {
			dp, err := devicePerspective(gr, id, false)
			if err != nil {
				return nil, err
			}
			ri.Devices[id] = dp
		}
		out.Regions[rg.ID] = ri
	}
	return out, nil
}
