package registration

import (
	"context"
	"sort"
	"time"

	"github.com/openstack-archive/namos/configfile"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/liveness"
	"github.com/openstack-archive/namos/model"
)

// schemaIndex maps "group.name" to every schema of one project with that name.
type schemaIndex map[string][]*model.ConfigSchema

func (p *Pipeline) loadSchemaIndex(ctx context.Context, project string) (schemaIndex, error) {
	if p.schemas == nil {
		return p.buildSchemaIndex(ctx, project)
	}
	if idx, ok := p.schemas.Get(project); ok {
		return idx, nil
	}
	idx, err := p.buildSchemaIndex(ctx, project)
	if err != nil {
		return nil, err
	}
	if err := p.schemas.Set(project, idx); err != nil {
		p.logger.Debug("Schema index not cached", "project", project, "error", err)
	}
	return idx, nil
}

func (p *Pipeline) buildSchemaIndex(ctx context.Context, project string) (schemaIndex, error) {
	rows, err := p.store.ConfigSchemas.List(ctx, func(s *model.ConfigSchema) bool {
		return s.Project == project
	})
	if err != nil {
		return nil, err
	}
	idx := make(schemaIndex, len(rows))
	for _, s := range rows {
		name := s.GroupName + "." + s.Name
		idx[name] = append(idx[name], s)
	}
	return idx, nil
}

// match returns the schema id for name only when exactly one candidate exists.
func (idx schemaIndex) match(name string) (string, int) {
	c := idx[name]
	if len(c) != 1 {
		return "", len(c)
	}
	return c[0].ID, 1
}

func (p *Pipeline) schemaFor(idx schemaIndex, name string) string {
	id, n := idx.match(name)
	if n != 1 {
		p.logger.Debug("No schema association", "option", name, "candidates", n)
	}
	return id
}

func (p *Pipeline) processConfigs(ctx context.Context, g *serviceGraph, info *model.RegistrationInfo) ([]*model.Config, error) {
	idx, err := p.loadSchemaIndex(ctx, info.ProjectName)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(info.ConfigFileDict))
	for name := range info.ConfigFileDict {
		names = append(names, name)
	}
	sort.Strings(names)

	fileEntries := make(map[string]*model.ConfigFileEntry)
	for _, name := range names {
		file, err := p.syncFile(ctx, g, name, info.ConfigFileDict[name])
		if err != nil {
			return nil, err
		}
		entries, err := p.syncEntries(ctx, g.component.ID, file, idx)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			// The first file declaring an option wins.
			if _, ok := fileEntries[e.Name]; !ok {
				fileEntries[e.Name] = e
			}
		}
	}

	configs := make([]*model.Config, 0, len(info.ConfigList))
	for _, opt := range info.ConfigList {
		want := &model.Config{
			Base:            model.Base{Name: opt.FullName()},
			ServiceWorkerID: g.worker.ID,
		}
		if e, ok := fileEntries[want.Name]; ok {
			want.Value = e.Value
			want.ConfigFileEntryID = e.ID
			want.ConfigSchemaID = e.ConfigSchemaID
		} else {
			want.Value = opt.Effective()
			want.ConfigSchemaID = p.schemaFor(idx, want.Name)
		}

		cfg, created, err := p.store.Configs.FindOrCreate(ctx, want)
		if err != nil {
			return nil, err
		}
		p.metrics.RecordFindOrCreate(string(errors.KindConfig), created)
		if !created && (cfg.Value != want.Value || cfg.ConfigFileEntryID != want.ConfigFileEntryID || cfg.ConfigSchemaID != want.ConfigSchemaID) {
			cfg.Value = want.Value
			cfg.ConfigFileEntryID = want.ConfigFileEntryID
			cfg.ConfigSchemaID = want.ConfigSchemaID
			if cfg, err = p.store.Configs.Update(ctx, cfg); err != nil {
				return nil, err
			}
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// syncFile find-or-creates the file row and rewrites its content when it changed.
func (p *Pipeline) syncFile(ctx context.Context, g *serviceGraph, name, content string) (*model.ConfigFile, error) {
	file, created, err := p.store.ConfigFiles.FindOrCreate(ctx, &model.ConfigFile{
		Base:               model.Base{Name: name},
		File:               content,
		ServiceComponentID: g.component.ID,
		ServiceNodeID:      g.node.ID,
	})
	if err != nil {
		return nil, err
	}
	p.record(errors.KindConfigFile, created, file.Name, file.ID)
	if !created && file.File != content {
		file.File = content
		return p.store.ConfigFiles.Update(ctx, file)
	}
	return file, nil
}

// syncEntries parses file and find-or-creates one entry per key. A file that
// does not parse contributes no entries.
func (p *Pipeline) syncEntries(ctx context.Context, componentID string, file *model.ConfigFile, idx schemaIndex) ([]*model.ConfigFileEntry, error) {
	parsed, err := configfile.Parse(file.File)
	if err != nil {
		p.logger.Warn("Skipping unparsable config file", "file", file.Name, "file_id", file.ID, "error", err)
		return nil, nil
	}

	out := make([]*model.ConfigFileEntry, 0, len(parsed))
	for _, pe := range parsed {
		want := &model.ConfigFileEntry{
			Base:               model.Base{Name: pe.Name()},
			Value:              pe.Value,
			ConfigFileID:       file.ID,
			ConfigSchemaID:     p.schemaFor(idx, pe.Name()),
			ServiceComponentID: componentID,
		}
		e, created, err := p.store.ConfigFileEntries.FindOrCreate(ctx, want)
		if err != nil {
			return nil, err
		}
		p.metrics.RecordFindOrCreate(string(errors.KindConfigFileEntry), created)
		if !created && (e.Value != want.Value || e.ConfigSchemaID != want.ConfigSchemaID) {
			e.Value = want.Value
			e.ConfigSchemaID = want.ConfigSchemaID
			if e, err = p.store.ConfigFileEntries.Update(ctx, e); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateConfigFile rewrites a stored file, re-syncs its entries for every
// component that reads it and returns a live launcher worker of one of those
// components to receive the new content. Components are tried owner first,
// then by id; within a component the lowest worker id wins. The worker is nil
// when no launcher is alive.
func (p *Pipeline) UpdateConfigFile(ctx context.Context, fileID, content string) (*model.ConfigFile, *model.ServiceWorker, error) {
	file, err := p.store.ConfigFiles.Get(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.File != content {
		file.File = content
		if file, err = p.store.ConfigFiles.Update(ctx, file); err != nil {
			return nil, nil, errors.Wrap(err, "registration", "UpdateConfigFile", "update file")
		}
	}

	components, err := p.fileComponents(ctx, file)
	if err != nil {
		return file, nil, err
	}
	for _, componentID := range components {
		if err := p.resyncEntries(ctx, componentID, file); err != nil {
			return file, nil, err
		}
	}

	launcher, err := p.liveLauncher(ctx, components)
	if err != nil {
		return file, nil, err
	}
	if launcher == nil {
		p.logger.Warn("No live launcher for config file", "file", file.Name, "components", components)
	}
	return file, launcher, nil
}

// fileComponents returns the owner of file followed by every other component
// holding entries of it, sorted by id.
func (p *Pipeline) fileComponents(ctx context.Context, file *model.ConfigFile) ([]string, error) {
	entries, err := p.store.ConfigFileEntries.List(ctx, func(e *model.ConfigFileEntry) bool {
		return e.ConfigFileID == file.ID && e.ServiceComponentID != file.ServiceComponentID
	})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{file.ServiceComponentID: true}
	var others []string
	for _, e := range entries {
		if !seen[e.ServiceComponentID] {
			seen[e.ServiceComponentID] = true
			others = append(others, e.ServiceComponentID)
		}
	}
	sort.Strings(others)
	return append([]string{file.ServiceComponentID}, others...), nil
}

func (p *Pipeline) resyncEntries(ctx context.Context, componentID string, file *model.ConfigFile) error {
	component, err := p.store.ServiceComponents.Get(ctx, componentID)
	if err != nil {
		return err
	}
	service, err := p.store.Services.Get(ctx, component.ServiceID)
	if err != nil {
		return err
	}
	idx, err := p.loadSchemaIndex(ctx, service.Name)
	if err != nil {
		return err
	}
	_, err = p.syncEntries(ctx, component.ID, file, idx)
	return err
}

func (p *Pipeline) liveLauncher(ctx context.Context, components []string) (*model.ServiceWorker, error) {
	rank := make(map[string]int, len(components))
	for i, id := range components {
		rank[id] = i
	}
	alive := func(w *model.ServiceWorker) bool {
		return liveness.IsAlive(w, p.store.Now(), liveness.DefaultReportInterval)
	}
	if p.tracker != nil {
		alive = p.tracker.Alive
	}
	launchers, err := p.store.ServiceWorkers.List(ctx, func(w *model.ServiceWorker) bool {
		_, ok := rank[w.ServiceComponentID]
		return ok && w.IsLauncher && !w.Deleted() && alive(w)
	})
	if err != nil || len(launchers) == 0 {
		return nil, err
	}
	sort.Slice(launchers, func(i, j int) bool {
		a, b := launchers[i], launchers[j]
		if rank[a.ServiceComponentID] != rank[b.ServiceComponentID] {
			return rank[a.ServiceComponentID] < rank[b.ServiceComponentID]
		}
		return a.ID < b.ID
	})
	return launchers[0], nil
}

// LoadSchemas seeds ConfigSchema rows for project and returns how many were
// created. Existing rows are left unchanged.
func (p *Pipeline) LoadSchemas(ctx context.Context, project string, schemas []*model.ConfigSchema) (int, error) {
	start := time.Now()
	if p.schemas != nil {
		defer p.schemas.Delete(project)
	}
	created := 0
	for _, s := range schemas {
		if s.Name == "" || s.GroupName == "" {
			return created, errors.Validation("config_schema", "group_name and name are required")
		}
		s.Project = project
		if s.Namespace == "" {
			s.Namespace = project
		}
		_, ok, err := p.store.ConfigSchemas.FindOrCreate(ctx, s)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	p.logger.Info("Loaded config schemas", "project", project, "created", created, "total", len(schemas), "duration", time.Since(start))
	return created, nil
}
