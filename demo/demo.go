// Package demo seeds a store with a small VMware-backed deployment: two
// regions, a vCenter with its clusters, datastores and switch, and the nova,
// cinder and neutron workers that drive them.
package demo

import (
	"context"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
)

const owner = "mkr1481@namos.com"

const (
	regionOne = "f7dcd175-27ef-46b5-997f-e6e572f320af"
	regionTwo = "f7dcd175-27ef-46b5-997f-e6e572f320b0"

	vcenter    = "91007d3c-9c95-40c5-8f94-c7b071f9b577"
	cluster1   = "d468ea2e-74f6-4a55-a7f4-a56d18e91c66"
	cluster2   = "6c97f476-8e27-4e21-8528-a5ec236306f3"
	datastore1 = "fdab6c51-38fb-4fb1-a76f-9c243a8b8296"
	datastore2 = "05b935b3-942c-439c-a6a4-9c3c73285430"
	vswitch    = "f062556b-45c4-417d-80fa-4283b9c58da3"

	vcenterEndpoint = "7403bf80-9376-4081-89ee-d2501661ca84"

	classCompute = "0664e8c0-ff02-427e-8fa3-8788c017ad84"
	classVolume  = "11caf99c-f820-4266-a461-5a15437a8144"
	classNetwork = "bb99ea96-fe6b-49e6-a761-faea92b79f75"

	svcNova    = "11367a37-976f-468a-b8dd-77b28ee63cf4"
	svcCinder  = "809e04c1-2f3b-43af-9677-3428a0154216"
	svcNeutron = "3495fa07-39d9-4d87-9f97-0a582a3e25c3"

	nodeNetwork    = "a5073d58-2dbb-4146-b47c-4e5f7dc11fbe"
	nodeCompute    = "4e99a641-dbe9-416e-8c0a-78015dc55a2a"
	nodeController = "b92f4811-7970-421b-a611-d51c62972388"
	nodeStorage    = "e5913cd3-a416-40e1-889f-1a1b1c53001c"

	compNovaCompute   = "7259a9ff-2e6f-4e8d-b2fb-a529188825dd"
	compNovaScheduler = "e5e366ea-9029-4ba0-8bbc-f658e642aa54"
	compNovaAPI       = "f7813622-85ee-4588-871d-42c3128fa14f"
	compCinderVolume  = "b0e9ac3f-5600-406c-95e4-f698b1eecfc6"
	compNeutronAgent  = "54f608bd-fb01-4614-9653-acbb803aeaf7"

	workerCluster1   = "65dbd695-fa92-4950-b8b4-d46aa0408f6a"
	workerCluster2   = "50d2c0c6-741d-4108-a3a2-2090eaa0be37"
	workerDatastore1 = "77e3ee16-fa2b-4e12-ad1c-226971d1a482"
	workerDatastore2 = "8633ce68-2b02-4efd-983c-49a460f6d7ef"
	workerSwitch     = "5a3ac5b9-9186-45d8-928c-9e702368dfb4"
)

func base(id, name string, extra map[string]any) model.Base {
	return model.Base{ID: id, Name: name, Extra: extra}
}

func regions() []*model.Region {
	return []*model.Region{
		{Base: base(regionOne, "RegionOne", map[string]any{"location": "bangalore"}), KeystoneRegionID: "region_one"},
		{Base: base(regionTwo, "RegionTwo", map[string]any{"location": "chennai"}), KeystoneRegionID: "region_two"},
	}
}

func devices() []*model.Device {
	dev := func(id, name, display, desc, parent string, extra map[string]any) *model.Device {
		if extra == nil {
			extra = map[string]any{}
		}
		extra["owner"] = owner
		return &model.Device{
			Base:        base(id, name, extra),
			DisplayName: display,
			Description: desc,
			Status:      model.StatusActive,
			ParentID:    parent,
			RegionID:    regionOne,
		}
	}
	// Parents first; Purge walks the list backwards.
	return []*model.Device{
		dev(vcenter, "Vmware_vCenter_1", "VMWare vCenter 1", "vCenter 5.0", "", nil),
		dev(cluster1, "vmware_vc_Cluster_1", "VMWare vCenter 1 Cluster 1", "Cluster 1 having 3 hosts", vcenter,
			map[string]any{"vcpus": 1000, "ram_in_gb": 1024}),
		dev(cluster2, "vmware_vc_Cluster_2", "VMWare vCenter 1 Cluster 2", "Cluster 2 having 5 hosts", vcenter, nil),
		dev(datastore1, "Vmware_vCenter_1_datastore_1", "VMWare vCenter 1 datastore 1", "vCenter 5.0 Datastore created from FC", vcenter,
			map[string]any{"size_in_gb": "102400"}),
		dev(datastore2, "Vmware_vCenter_1_datastore_2", "VMWare vCenter 1 datastore 2", "vCenter 5.0 Datastore created from FC", vcenter,
			map[string]any{"size_in_gb": "10240"}),
		dev(vswitch, "Vmware_vCenter_1_switch_1", "VMWare vCenter 1 Dist. vSwitch 1", "vCenter 5.0 distributed virtual switch", vcenter, nil),
	}
}

func endpoints() []*model.DeviceEndpoint {
	return []*model.DeviceEndpoint{{
		Base:     base(vcenterEndpoint, "vcenter1_connection", nil),
		DeviceID: vcenter,
		Connection: map[string]any{
			"host_ip":       "10.1.1.3",
			"host_port":     443,
			"host_username": "adminstrator",
			"host_password": "password",
		},
	}}
}

func driverClasses() []*model.DeviceDriverClass {
	class := func(id, name, typ string) *model.DeviceDriverClass {
		return &model.DeviceDriverClass{
			Base:        base(id, name, map[string]any{"vendor": "vmware-community"}),
			PythonClass: name,
			Type:        typ,
		}
	}
	return []*model.DeviceDriverClass{
		class(classCompute, "nova...vcdriver", "compute"),
		class(classVolume, "cinder...vmdkdriver", "volume"),
		class(classNetwork, "neutron...nsxdriver", "network"),
	}
}

func services() []*model.Service {
	return []*model.Service{
		{Base: base(svcNova, "nova_service", nil), KeystoneServiceID: "b9c2549f-f685-4bc2-92e9-ba8af9c18599"},
		{Base: base(svcCinder, "cinder_service", nil), KeystoneServiceID: "9cc4c374-abb5-4bdc-9129-f0fa4bba0e0b"},
		{Base: base(svcNeutron, "neutron_service", nil), KeystoneServiceID: "b24e2884-75bc-4876-81d1-5b4fb6e92afc"},
	}
}

func nodes() []*model.ServiceNode {
	node := func(id, name, fqdn string) *model.ServiceNode {
		return &model.ServiceNode{Base: base(id, name, nil), FQDN: fqdn, RegionID: regionOne}
	}
	return []*model.ServiceNode{
		node(nodeNetwork, "d_network_node_1", "network_node_1.devstack1.abc.com"),
		node(nodeCompute, "d_compute_node_1", "compute_node_1.devstack.abc.com"),
		node(nodeController, "d_cloud-controller-1", "cloud_controller_1.devstack1.abc.com"),
		node(nodeStorage, "d_storage_node_1", "storage_node_1.devstack.abc.com"),
	}
}

func components() []*model.ServiceComponent {
	comp := func(id, name, node, svc, typ string) *model.ServiceComponent {
		return &model.ServiceComponent{Base: base(id, name, nil), NodeID: node, ServiceID: svc, Type: typ}
	}
	return []*model.ServiceComponent{
		comp(compNovaCompute, "d_nova-compute", nodeCompute, svcNova, model.CategoryCompute),
		comp(compNovaScheduler, "d_nova-scheduler", nodeController, svcNova, model.CategoryController),
		comp(compNovaAPI, "d_nova-api", nodeController, svcNova, model.CategoryController),
		comp(compCinderVolume, "d_cinder-volume", nodeStorage, svcCinder, model.CategoryStorage),
		comp(compNeutronAgent, "d_neutron-agent", nodeNetwork, svcNeutron, model.CategoryNetwork),
	}
}

func workers() []*model.ServiceWorker {
	w := func(id, name, pid, comp string) *model.ServiceWorker {
		return &model.ServiceWorker{Base: base(id, name, nil), PID: pid, Host: name, ServiceComponentID: comp}
	}
	return []*model.ServiceWorker{
		w(workerCluster1, "d_nova-compute-esx-cluster1", "1233454343", compNovaCompute),
		w(workerCluster2, "d_nova-compute-esx-cluster2", "1233454344", compNovaCompute),
		w(workerDatastore1, "d_cinder-volume-vmdk-1", "09878654", compCinderVolume),
		w(workerDatastore2, "d_cinder-volume-vmdk-2", "4353453", compCinderVolume),
		w(workerSwitch, "d_neutron-agent", "2359234", compNeutronAgent),
	}
}

func deviceDrivers() []*model.DeviceDriver {
	drv := func(id, device, class, worker string) *model.DeviceDriver {
		return &model.DeviceDriver{
			Base:                base(id, "", nil),
			DeviceID:            device,
			EndpointID:          vcenterEndpoint,
			DeviceDriverClassID: class,
			ServiceWorkerID:     worker,
		}
	}
	return []*model.DeviceDriver{
		drv("3c089cdb-e1d5-4182-9a8e-cef9899fd7e5", cluster1, classCompute, workerCluster1),
		drv("4e0360ae-0728-4bfd-a557-3ad867231787", cluster2, classCompute, workerCluster2),
		drv("92d5e2c1-511b-4837-a57d-5e6ee723060c", datastore1, classVolume, workerDatastore1),
		drv("f3d807a0-eff0-4473-8ae5-594967136e05", datastore2, classVolume, workerDatastore2),
		drv("f27eb548-929c-45e2-a2a7-dc123e2a1bc7", vswitch, classNetwork, workerSwitch),
	}
}

func configs() []*model.Config {
	cfg := func(id, name, value string) *model.Config {
		return &model.Config{Base: base(id, name, nil), Value: value, ServiceWorkerID: workerCluster1}
	}
	return []*model.Config{
		cfg("dc6aa02f-ba70-4410-a59c-5e113e629fe5", "vmware.host_ip", "10.1.0.1"),
		cfg("dc6aa02f-ba70-4410-a59c-5e113e629f10", "vmware.host_username", "Administraotr"),
		cfg("dc6aa02f-ba70-4410-a59c-5e113e629f11", "vmware.host_password", "password"),
	}
}

// Summary counts the rows Populate wrote. Rows already present are not
// counted.
type Summary map[string]int

// Total is the number of rows written.
func (s Summary) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

func seed[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, sum Summary, t *storage.Table[T, P], rows []P) error {
	for _, row := range rows {
		_, created, err := t.FindOrCreate(ctx, row)
		if err != nil {
			return err
		}
		if created {
			sum[string(t.Kind())]++
		}
	}
	return nil
}

// Populate writes the demo rows. Running it twice writes nothing the second
// time.
func Populate(ctx context.Context, store *storage.Store) (Summary, error) {
	sum := Summary{}
	steps := []func() error{
		func() error { return seed(ctx, sum, store.Regions, regions()) },
		func() error { return seed(ctx, sum, store.Devices, devices()) },
		func() error { return seed(ctx, sum, store.DeviceEndpoints, endpoints()) },
		func() error { return seed(ctx, sum, store.DeviceDriverClasses, driverClasses()) },
		func() error { return seed(ctx, sum, store.Services, services()) },
		func() error { return seed(ctx, sum, store.ServiceNodes, nodes()) },
		func() error { return seed(ctx, sum, store.ServiceComponents, components()) },
		func() error { return seed(ctx, sum, store.ServiceWorkers, workers()) },
		func() error { return seed(ctx, sum, store.DeviceDrivers, deviceDrivers()) },
		func() error { return seed(ctx, sum, store.Configs, configs()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return sum, errors.Wrap(err, "demo", "Populate", "seed")
		}
	}
	return sum, nil
}

func purge[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, t *storage.Table[T, P], rows []P) error {
	for _, row := range rows {
		if err := t.Delete(ctx, row.Meta().ID); err != nil {
			return err
		}
	}
	return nil
}

func reversed[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// Purge removes the demo rows, children before parents.
func Purge(ctx context.Context, store *storage.Store) error {
	steps := []func() error{
		func() error { return purge(ctx, store.Configs, configs()) },
		func() error { return purge(ctx, store.DeviceDrivers, deviceDrivers()) },
		func() error { return purge(ctx, store.ServiceWorkers, workers()) },
		func() error { return purge(ctx, store.ServiceComponents, components()) },
		func() error { return purge(ctx, store.ServiceNodes, nodes()) },
		func() error { return purge(ctx, store.Services, services()) },
		func() error { return purge(ctx, store.DeviceEndpoints, endpoints()) },
		func() error { return purge(ctx, store.Devices, reversed(devices())) },
		func() error { return purge(ctx, store.DeviceDriverClasses, driverClasses()) },
		func() error { return purge(ctx, store.Regions, regions()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return errors.Wrap(err, "demo", "Purge", "delete")
		}
	}
	return nil
}
