package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/rpcapi"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet).Name("healthz")
	if s.registry != nil {
		r.Handle("/metrics", s.registry.Handler()).Methods(http.MethodGet).Name("metrics")
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/regions", s.listRegions).Methods(http.MethodGet).Name("regions")
	v1.HandleFunc("/regions", s.createRegion).Methods(http.MethodPost).Name("regions.create")
	v1.HandleFunc("/regions/{id}", s.regionPerspective).Methods(http.MethodGet).Name("region")
	v1.HandleFunc("/regions/{id}/services", s.regionServices).Methods(http.MethodGet).Name("region.services")
	v1.HandleFunc("/regions/{id}/devices", s.regionDevices).Methods(http.MethodGet).Name("region.devices")
	v1.HandleFunc("/infra", s.infra).Methods(http.MethodGet).Name("infra")
	v1.HandleFunc("/services/{id}", s.servicePerspective).Methods(http.MethodGet).Name("service")
	v1.HandleFunc("/devices/{id}", s.devicePerspective).Methods(http.MethodGet).Name("device")
	v1.HandleFunc("/view_360", s.view360).Methods(http.MethodGet).Name("view_360")
	v1.HandleFunc("/status", s.status).Methods(http.MethodGet).Name("status")
	v1.HandleFunc("/config_schema/{service}", s.configSchema).Methods(http.MethodGet).Name("config_schema")
	v1.HandleFunc("/workers/{id}/configs", s.workerConfigs).Methods(http.MethodGet).Name("worker.configs")
	v1.HandleFunc("/config_files/{id}", s.configFile).Methods(http.MethodGet).Name("config_file")
	v1.HandleFunc("/config_files/{id}", s.updateConfigFile).Methods(http.MethodPut).Name("config_file.update")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such route", Status: http.StatusNotFound})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{
			Error:  "method " + req.Method + " not allowed",
			Status: http.StatusMethodNotAllowed,
		})
	})
	return r
}

func (s *Server) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

// flag reads a boolean query parameter. Absent means def.
func flag(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Validation(name, "must be a boolean")
	}
	return b, nil
}

// respond writes v, or err when it is set.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxRequestSize+1))
	if err != nil {
		return nil, errors.Validation("body", "unreadable")
	}
	if int64(len(data)) > s.maxRequestSize {
		return nil, errors.Validation("body", "exceeds "+strconv.FormatInt(s.maxRequestSize, 10)+" bytes")
	}
	return data, nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	st := s.Health()
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	regions, err := s.conductor.RegionGetAll(ctx)
	s.respond(w, r, regions, err)
}

func (s *Server) createRegion(w http.ResponseWriter, r *http.Request) {
	data, err := s.readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var region model.Region
	if err := json.Unmarshal(data, &region); err != nil {
		s.writeError(w, r, errors.Validation("body", "malformed region"))
		return
	}

	ctx, cancel := s.ctx(r)
	defer cancel()
	created, err := s.conductor.AddRegion(ctx, &region)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/regions/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) regionPerspective(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	p, err := s.conductor.RegionPerspective(ctx, mux.Vars(r)["id"])
	s.respond(w, r, p, err)
}

func (s *Server) regionServices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	p, err := s.conductor.RegionPerspective(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Services)
}

func (s *Server) regionDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	p, err := s.conductor.RegionPerspective(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Devices)
}

func (s *Server) infra(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	p, err := s.conductor.InfraPerspective(ctx)
	s.respond(w, r, p, err)
}

func (s *Server) servicePerspective(w http.ResponseWriter, r *http.Request) {
	details, err := flag(r, "details", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	p, err := s.conductor.ServicePerspective(ctx, mux.Vars(r)["id"], details)
	s.respond(w, r, p, err)
}

func (s *Server) devicePerspective(w http.ResponseWriter, r *http.Request) {
	details, err := flag(r, "details", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	p, err := s.conductor.DevicePerspective(ctx, mux.Vars(r)["id"], details)
	s.respond(w, r, p, err)
}

func (s *Server) view360(w http.ResponseWriter, r *http.Request) {
	var opts rpcapi.ViewArgs
	var err error
	for name, dst := range map[string]*bool{
		"include_conf_file":  &opts.IncludeConfFile,
		"include_status":     &opts.IncludeStatus,
		"include_file_entry": &opts.IncludeFileEntry,
	} {
		if *dst, err = flag(r, name, false); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	v, err := s.conductor.View360(ctx, opts)
	s.respond(w, r, v, err)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx, cancel := s.ctx(r)
	defer cancel()
	st, err := s.conductor.GetStatus(ctx, rpcapi.StatusArgs{
		Node:      q.Get("node"),
		Service:   q.Get("service"),
		Type:      q.Get("type"),
		Component: q.Get("component"),
	})
	s.respond(w, r, st, err)
}

func (s *Server) configSchema(w http.ResponseWriter, r *http.Request) {
	withLink, err := flag(r, "with_file_link", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	m, err := s.conductor.ConfigSchema(ctx, mux.Vars(r)["service"], withLink)
	s.respond(w, r, m, err)
}

func (s *Server) workerConfigs(w http.ResponseWriter, r *http.Request) {
	onlyConfigured, err := flag(r, "only_configured", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	cfgs, err := s.conductor.ConfigGetByName(ctx, mux.Vars(r)["id"], r.URL.Query().Get("name"), onlyConfigured)
	s.respond(w, r, cfgs, err)
}

func (s *Server) configFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	v, err := s.conductor.ConfigFileGet(ctx, mux.Vars(r)["id"])
	s.respond(w, r, v, err)
}

// updateConfigFile takes the new content as the raw body, or as
// {"content": "..."} when sent as JSON.
func (s *Server) updateConfigFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	content := string(data)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			s.writeError(w, r, errors.Validation("body", "malformed JSON"))
			return
		}
		content = body.Content
	}

	ctx, cancel := s.ctx(r)
	defer cancel()
	res, err := s.conductor.ConfigFileUpdate(ctx, mux.Vars(r)["id"], content)
	s.respond(w, r, res, err)
}
