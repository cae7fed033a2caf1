package conductor

import (
	"context"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/rpcapi"
)

func (s *Server) routes() map[string]endpoint {
	return map[string]endpoint{
		rpcapi.OpRegisterMyself: bind(s.registerMyself),
		rpcapi.OpHeartBeat:      bind(s.heartBeat),
		rpcapi.OpAddRegion: bind(func(ctx context.Context, a rpcapi.RegionArgs) (any, error) {
			return s.pipeline.AddRegion(ctx, a.Region)
		}),
		rpcapi.OpRegionGetAll: bind(func(ctx context.Context, _ struct{}) (any, error) {
			return s.reader.Regions(ctx)
		}),
		rpcapi.OpServicePerspective: bind(func(ctx context.Context, a rpcapi.PerspectiveArgs) (any, error) {
			return s.reader.ServicePerspective(ctx, a.ID, a.IncludeDetails)
		}),
		rpcapi.OpDevicePerspective: bind(func(ctx context.Context, a rpcapi.PerspectiveArgs) (any, error) {
			return s.reader.DevicePerspective(ctx, a.ID, a.IncludeDetails)
		}),
		rpcapi.OpRegionPerspective: bind(func(ctx context.Context, a rpcapi.PerspectiveArgs) (any, error) {
			return s.reader.RegionPerspective(ctx, a.ID)
		}),
		rpcapi.OpInfraPerspective: bind(func(ctx context.Context, _ struct{}) (any, error) {
			return s.reader.InfraPerspective(ctx)
		}),
		rpcapi.OpView360: bind(func(ctx context.Context, a rpcapi.ViewArgs) (any, error) {
			return s.reader.View360(ctx, a)
		}),
		rpcapi.OpGetStatus: bind(func(ctx context.Context, a rpcapi.StatusArgs) (any, error) {
			return s.reader.GetStatus(ctx, a)
		}),
		rpcapi.OpConfigGetByName: bind(func(ctx context.Context, a rpcapi.ConfigGetArgs) (any, error) {
			onlyConfigured := a.OnlyConfigured == nil || *a.OnlyConfigured
			return s.reader.ConfigsForWorker(ctx, a.ServiceWorkerID, a.Name, onlyConfigured)
		}),
		rpcapi.OpConfigFileGet: bind(func(ctx context.Context, a rpcapi.ConfigFileArgs) (any, error) {
			return s.reader.ConfigFile(ctx, a.FileID)
		}),
		rpcapi.OpConfigFileUpdate: bind(s.configFileUpdate),
		rpcapi.OpConfigSchema: bind(func(ctx context.Context, a rpcapi.ConfigSchemaArgs) (any, error) {
			return s.reader.ConfigSchema(ctx, a.Project, a.WithFileLink)
		}),
		rpcapi.OpConfigSchemaLoad: bind(func(ctx context.Context, a rpcapi.ConfigSchemaLoadArgs) (any, error) {
			return s.pipeline.LoadSchemas(ctx, a.Project, a.Entries)
		}),
		rpcapi.OpPingWorker: bind(s.pingWorker),
	}
}

func (s *Server) registerMyself(ctx context.Context, a rpcapi.RegisterArgs) (any, error) {
	res, err := s.pipeline.Register(ctx, a.RegistrationInfo)
	if err != nil {
		return nil, err
	}
	out := &rpcapi.RegisterResult{ServiceWorkerID: res.WorkerID}
	if res.Drivers != nil {
		out.Drivers = len(res.Drivers.Resolved)
		for _, sk := range res.Drivers.Skipped {
			out.Skipped = append(out.Skipped, sk.Family+":"+sk.Driver)
		}
	}
	return out, nil
}

// heartBeat never fails the caller.
func (s *Server) heartBeat(ctx context.Context, a rpcapi.HeartBeatArgs) (any, error) {
	if err := s.tracker.Heartbeat(ctx, a.Identification, a.Dying); err != nil {
		s.logger.Warn("Heartbeat failed",
			"identification", a.Identification,
			"dying", a.Dying,
			"error", err)
	}
	return nil, nil
}

func (s *Server) configFileUpdate(ctx context.Context, a rpcapi.ConfigFileArgs) (any, error) {
	file, launcher, err := s.pipeline.UpdateConfigFile(ctx, a.FileID, a.Content)
	if err != nil {
		return nil, err
	}
	out := &rpcapi.ConfigFileUpdateResult{File: file, Status: rpcapi.UpdateNoLauncher}
	if launcher == nil {
		return out, nil
	}

	out.WorkerID = launcher.ID
	if err := s.callbacks.UpdateConfigFile(ctx, launcher.PID, file.Name, file.File); err != nil {
		s.logger.Warn("Config push failed",
			"worker_id", launcher.ID,
			"file", file.Name,
			"error", err)
		out.Status = rpcapi.UpdateFailed
		out.Error = err.Error()
		return out, nil
	}
	out.Status = rpcapi.UpdateCompleted
	return out, nil
}

func (s *Server) pingWorker(ctx context.Context, a rpcapi.PingArgs) (any, error) {
	if a.Identification == "" {
		return nil, errors.Validation("identification", "must not be empty")
	}
	alive, err := s.callbacks.PingMe(ctx, a.Identification)
	if err != nil {
		if errors.IsTransient(err) {
			s.logger.Info("Worker did not answer ping", "identification", a.Identification, "error", err)
			return rpcapi.PingResult{Alive: false}, nil
		}
		return nil, err
	}
	return rpcapi.PingResult{Alive: alive}, nil
}
