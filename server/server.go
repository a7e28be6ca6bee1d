// Package server exposes a read-only HTTP view of a storage root:
// collections, metadata and subset reads. Writes stay with the engine
// clients; the server never mutates storage.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/snowflk/gridstore"
	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/slicing"
	"github.com/snowflk/gridstore/storage"
)

// Server wraps a client behind an HTTP API.
type Server struct {
	client *gridstore.Client
	log    *logrus.Logger
}

func New(client *gridstore.Client) *Server {
	return &Server{client: client, log: logrus.New()}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/collections", s.handleCollections).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}", s.handleCollection).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}/arrays", s.handleArrays).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}/arrays/{id}", s.handleArrayMeta).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}/arrays/{id}/data", s.handleArrayData).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.WithField("addr", addr).Info("serving storage root")
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrIndex), errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrLockTimeout):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrMemoryLimit):
		status = http.StatusInsufficientStorage
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.client.Collections()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, names)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.client.GetCollection(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	manifest := map[string]interface{}{
		"name":   col.Name(),
		"type":   "array",
		"dtype":  col.Schema().DType.Code(),
		"shape":  col.Schema().Shape(),
	}
	if col.IsVArray() {
		manifest["type"] = "varray"
		manifest["vgrid"] = col.VArraySchema().VGrid
	}
	writeJSON(w, manifest)
}

func (s *Server) handleArrays(w http.ResponseWriter, r *http.Request) {
	col, err := s.client.GetCollection(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var ids []string
	if col.IsVArray() {
		mgr, err := col.VArrays()
		if err != nil {
			s.writeError(w, err)
			return
		}
		err = mgr.ForEach(func(v *gridstore.VArray) error {
			ids = append(ids, v.ID())
			return nil
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
	} else {
		mgr, err := col.Arrays()
		if err != nil {
			s.writeError(w, err)
			return
		}
		err = mgr.ForEach(func(a *gridstore.Array) error {
			ids = append(ids, a.ID())
			return nil
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, ids)
}

func attrsJSON(attrs []storage.Attr) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		out[a.Name] = a.Value
	}
	return out
}

func (s *Server) handleArrayMeta(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	col, err := s.client.GetCollection(vars["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var primary, custom []storage.Attr
	if col.IsVArray() {
		mgr, _ := col.VArrays()
		v, err := mgr.GetByID(vars["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		primary, custom = v.PrimaryAttributes(), v.CustomAttributes()
	} else {
		mgr, _ := col.Arrays()
		a, err := mgr.GetByID(vars["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		primary, custom = a.PrimaryAttributes(), a.CustomAttributes()
	}
	writeJSON(w, map[string]interface{}{
		"id":                 vars["id"],
		"collection":         vars["name"],
		"primary_attributes": attrsJSON(primary),
		"custom_attributes":  attrsJSON(custom),
	})
}

// handleArrayData reads a subset. The slice query parameter carries the
// canonical slice string; a missing parameter reads the whole array.
func (s *Server) handleArrayData(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	col, err := s.client.GetCollection(vars["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	indexers := []slicing.Indexer{slicing.Ellipsis()}
	if expr := r.URL.Query().Get("slice"); expr != "" {
		indexers, err = slicing.Parse(expr)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	var (
		buf   *numeric.Buffer
		shape []int
	)
	if col.IsVArray() {
		mgr, _ := col.VArrays()
		v, err := mgr.GetByID(vars["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		sub, err := v.Subset(indexers...)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if buf, err = sub.Read(); err != nil {
			s.writeError(w, err)
			return
		}
		shape = sub.Shape()
	} else {
		mgr, _ := col.Arrays()
		a, err := mgr.GetByID(vars["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		sub, err := a.Subset(indexers...)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if buf, err = sub.Read(); err != nil {
			s.writeError(w, err)
			return
		}
		shape = sub.Shape()
	}
	data := make([]interface{}, buf.Len())
	for i := 0; i < buf.Len(); i++ {
		data[i] = buf.ValueAt(i).JSON()
	}
	writeJSON(w, map[string]interface{}{
		"shape": shape,
		"dtype": buf.Type().Code(),
		"data":  data,
	})
}
