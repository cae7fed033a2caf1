// Package topology answers read-only queries over the registered graph:
// perspectives rooted at a service, device or region, the infrastructure
// and 360 views, worker status and configuration lookups.
package topology

import (
	"context"
	"log/slog"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/liveness"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
)

// Reader runs projections against a store.
type Reader struct {
	store  *storage.Store
	alive  func(*model.ServiceWorker) bool
	logger *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithTracker judges worker status with t's report interval.
func WithTracker(t *liveness.Tracker) Option {
	return func(r *Reader) {
		if t != nil {
			r.alive = t.Alive
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reader.
func New(store *storage.Store, opts ...Option) *Reader {
	r := &Reader{
		store:  store,
		logger: slog.Default().With("component", "topology"),
	}
	r.alive = func(w *model.ServiceWorker) bool {
		return liveness.IsAlive(w, store.Now(), liveness.DefaultReportInterval)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Regions returns every live region, oldest first.
func (r *Reader) Regions(ctx context.Context) ([]*model.Region, error) {
	return r.store.Regions.List(ctx, func(rg *model.Region) bool { return !rg.Deleted() })
}

// ConfigsForWorker returns a worker's Config rows. A non-empty name selects
// that option only; otherwise onlyConfigured keeps the options backed by a
// configuration file entry.
func (r *Reader) ConfigsForWorker(ctx context.Context, workerID, name string, onlyConfigured bool) ([]*model.Config, error) {
	if _, err := r.store.ServiceWorkers.Get(ctx, workerID); err != nil {
		return nil, err
	}
	return r.store.Configs.List(ctx, func(c *model.Config) bool {
		if c.ServiceWorkerID != workerID || c.Deleted() {
			return false
		}
		if name != "" {
			return c.Name == name
		}
		return !onlyConfigured || c.ConfigFileEntryID != ""
	})
}

// ConfigFileView is a configuration file with its parsed entries.
type ConfigFileView struct {
	File    *model.ConfigFile        `json:"file,omitempty"`
	Entries []*model.ConfigFileEntry `json:"entries,omitempty"`
}

// ConfigFile returns a file and its entries.
func (r *Reader) ConfigFile(ctx context.Context, fileID string) (*ConfigFileView, error) {
	file, err := r.store.ConfigFiles.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.ConfigFileEntries.List(ctx, func(e *model.ConfigFileEntry) bool {
		return e.ConfigFileID == fileID && !e.Deleted()
	})
	if err != nil {
		return nil, errors.Wrap(err, "topology", "ConfigFile", "list entries")
	}
	return &ConfigFileView{File: file, Entries: entries}, nil
}

// SchemaMap is file (or namespace) -> group -> option name -> schema.
type SchemaMap map[string]map[string]map[string]*model.ConfigSchema

func (m SchemaMap) add(file string, s *model.ConfigSchema) {
	groups, ok := m[file]
	if !ok {
		groups = make(map[string]map[string]*model.ConfigSchema)
		m[file] = groups
	}
	opts, ok := groups[s.GroupName]
	if !ok {
		opts = make(map[string]*model.ConfigSchema)
		groups[s.GroupName] = opts
	}
	opts[s.Name] = s
}

// ConfigSchema returns the option schemas of a project grouped by
// namespace. With withFileLink, schemas that a configuration file entry
// links to are grouped under that file's name instead; schemas no file
// mentions stay under their namespace.
func (r *Reader) ConfigSchema(ctx context.Context, project string, withFileLink bool) (SchemaMap, error) {
	if project == "" {
		return nil, errors.Validation("project", "must not be empty")
	}
	schemas, err := r.store.ConfigSchemas.List(ctx, func(s *model.ConfigSchema) bool {
		return s.Project == project && !s.Deleted()
	})
	if err != nil {
		return nil, err
	}

	out := make(SchemaMap)
	if !withFileLink {
		for _, s := range schemas {
			out.add(s.Namespace, s)
		}
		return out, nil
	}

	ids := make(map[string]*model.ConfigSchema, len(schemas))
	for _, s := range schemas {
		ids[s.ID] = s
	}
	entries, err := r.store.ConfigFileEntries.List(ctx, func(e *model.ConfigFileEntry) bool {
		return e.ConfigSchemaID != "" && ids[e.ConfigSchemaID] != nil && !e.Deleted()
	})
	if err != nil {
		return nil, err
	}

	linked := make(map[string]bool)
	fileNames := make(map[string]string)
	for _, e := range entries {
		name, ok := fileNames[e.ConfigFileID]
		if !ok {
			f, err := r.store.ConfigFiles.Get(ctx, e.ConfigFileID)
			if errors.IsNotFound(err) {
				r.logger.Debug("Entry points at a missing file", "entry_id", e.ID, "file_id", e.ConfigFileID)
				continue
			}
			if err != nil {
				return nil, err
			}
			name = f.Name
			fileNames[e.ConfigFileID] = name
		}
		out.add(name, ids[e.ConfigSchemaID])
		linked[e.ConfigSchemaID] = true
	}
	for _, s := range schemas {
		if !linked[s.ID] {
			out.add(s.Namespace, s)
		}
	}
	return out, nil
}
