package registration

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
)

type serviceGraph struct {
	node      *model.ServiceNode
	service   *model.Service
	component *model.ServiceComponent
	worker    *model.ServiceWorker
}

// serviceNamespace seeds the stable service identifiers.
var serviceNamespace = uuid.MustParse("b9c2549f-f685-4bc2-92e9-ba8af9c18591")

// KeystoneServiceID derives a stable service identifier from a project name.
func KeystoneServiceID(project string) string {
	return uuid.NewSHA1(serviceNamespace, []byte(project)).String()
}

// WorkerName is the display name of a worker: "<component>@<pid>".
func WorkerName(component string, pid string) string {
	return component + "@" + pid
}

func (p *Pipeline) processService(ctx context.Context, region *model.Region, info *model.RegistrationInfo) (*serviceGraph, error) {
	g := &serviceGraph{}

	node, created, err := p.store.ServiceNodes.FindOrCreate(ctx, &model.ServiceNode{
		Base:     model.Base{Name: info.FQDN},
		FQDN:     info.FQDN,
		IPs:      info.IPs,
		RegionID: region.ID,
	})
	if err != nil {
		return nil, err
	}
	p.record(errors.KindServiceNode, created, node.Name, node.ID)
	if !created && len(info.IPs) > 0 && !slices.Equal(node.IPs, info.IPs) {
		node.IPs = info.IPs
		if node, err = p.store.ServiceNodes.Update(ctx, node); err != nil {
			return nil, err
		}
	}
	g.node = node

	service, created, err := p.store.Services.FindOrCreate(ctx, &model.Service{
		Base:              model.Base{Name: info.ProjectName},
		KeystoneServiceID: KeystoneServiceID(info.ProjectName),
	})
	if err != nil {
		return nil, err
	}
	p.record(errors.KindService, created, service.Name, service.ID)
	g.service = service

	component, created, err := p.store.ServiceComponents.FindOrCreate(ctx, &model.ServiceComponent{
		Base:      model.Base{Name: info.ProgName},
		NodeID:    node.ID,
		ServiceID: service.ID,
		Type:      Category(info.ProgName),
	})
	if err != nil {
		return nil, err
	}
	p.record(errors.KindServiceComponent, created, component.Name, component.ID)
	g.component = component

	name := WorkerName(component.Name, info.PID.String())
	worker, created, err := p.store.ServiceWorkers.FindOrCreate(ctx, &model.ServiceWorker{
		Base:               model.Base{Name: name},
		PID:                info.Identification,
		Host:               info.Host,
		ServiceComponentID: component.ID,
		IsLauncher:         info.IAmLauncher,
	})
	if err != nil {
		return nil, err
	}
	p.record(errors.KindServiceWorker, created, worker.Name, worker.ID)
	if !created {
		// A re-registration counts as a heartbeat and may carry a new pid.
		worker.Name = name
		worker.Host = info.Host
		worker.IsLauncher = info.IAmLauncher
		if worker, err = p.store.ServiceWorkers.Update(ctx, worker); err != nil {
			return nil, err
		}
	}
	g.worker = worker
	return g, nil
}
