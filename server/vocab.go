package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/grimoire/kbstore"
)

// vocabKind selects which side-list a vocab route set operates on.
type vocabKind int

const (
	vocabTopics vocabKind = iota
	vocabPeople
)

func (k vocabKind) field() string {
	if k == vocabPeople {
		return "people"
	}
	return "topics"
}

// vocabOps binds the kind to the matching Vocab methods.
func (k vocabKind) ops(v *kbstore.Vocab) (
	list func(context.Context) ([]string, error),
	add func(context.Context, string) error,
	rename func(context.Context, string, string) error,
	del func(context.Context, string) error,
) {
	if k == vocabPeople {
		return v.People, v.AddPerson, v.RenamePerson, v.DeletePerson
	}
	return v.Topics, v.AddTopic, v.RenameTopic, v.DeleteTopic
}

// vocabRoutes builds GET/POST/PUT/DELETE for one side-list. Renames only
// touch the vocabulary file; entries keep whatever labels they carry.
func (s *Server) vocabRoutes(kind vocabKind) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			p, _, err := s.current()
			if err != nil {
				writeError(w, 500, err)
				return
			}
			list, _, _, _ := kind.ops(p.vocab)
			names, err := list(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{kind.field(): names})
		})

		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			if body.Name == "" {
				writeError(w, 400, fmt.Errorf("missing name"))
				return
			}
			p, _, err := s.current()
			if err != nil {
				writeError(w, 500, err)
				return
			}
			_, add, _, _ := kind.ops(p.vocab)
			if err := add(req.Context(), body.Name); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 201, map[string]string{"name": body.Name})
		})

		r.Put("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				OldName string `json:"old_name"`
				NewName string `json:"new_name"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			if body.OldName == "" || body.NewName == "" {
				writeError(w, 400, fmt.Errorf("missing old_name or new_name"))
				return
			}
			p, _, err := s.current()
			if err != nil {
				writeError(w, 500, err)
				return
			}
			_, _, rename, _ := kind.ops(p.vocab)
			if err := rename(req.Context(), body.OldName, body.NewName); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"name": body.NewName})
		})

		r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
			name := req.URL.Query().Get("name")
			if name == "" {
				writeError(w, 400, fmt.Errorf("missing name"))
				return
			}
			p, _, err := s.current()
			if err != nil {
				writeError(w, 500, err)
				return
			}
			_, _, _, del := kind.ops(p.vocab)
			if err := del(req.Context(), name); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
	}
}

// columnRoutes manages the kanban board columns. The built-in columns
// cannot be deleted.
func (s *Server) columnRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		p, _, err := s.current()
		if err != nil {
			writeError(w, 500, err)
			return
		}
		cols, err := p.vocab.Columns(req.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]any{"columns": cols})
	})

	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		var col kbstore.Column
		if err := json.NewDecoder(req.Body).Decode(&col); err != nil {
			writeError(w, 400, err)
			return
		}
		if col.ID == "" || col.Name == "" {
			writeError(w, 400, fmt.Errorf("missing id or name"))
			return
		}
		p, _, err := s.current()
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if err := p.vocab.AddColumn(req.Context(), col); err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 201, col)
	})

	r.Put("/", func(w http.ResponseWriter, req *http.Request) {
		var col kbstore.Column
		if err := json.NewDecoder(req.Body).Decode(&col); err != nil {
			writeError(w, 400, err)
			return
		}
		if col.ID == "" {
			writeError(w, 400, fmt.Errorf("missing id"))
			return
		}
		p, _, err := s.current()
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if err := p.vocab.UpdateColumn(req.Context(), col.ID, col.Name, col.Color); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, col)
	})

	r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
		id := req.URL.Query().Get("id")
		if id == "" {
			writeError(w, 400, fmt.Errorf("missing id"))
			return
		}
		p, _, err := s.current()
		if err != nil {
			writeError(w, 500, err)
			return
		}
		err = p.vocab.DeleteColumn(req.Context(), id)
		if errors.Is(err, kbstore.ErrDefaultColumn) {
			writeError(w, 400, err)
			return
		}
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]string{"status": "deleted"})
	})
}
