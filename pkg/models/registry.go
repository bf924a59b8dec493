// Package models holds the single authoritative list of selectable models and
// reconciles it against what the backend reports as installed.
package models

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Model is display metadata for one model identifier.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// Entry is a registry model paired with its runtime availability.
type Entry struct {
	Model
	Available bool `json:"available"`
	// Known is false for models the backend reported but the registry does not list.
	Known bool `json:"known"`
}

// Registry maps model identifiers to display metadata.
type Registry struct {
	models       []Model
	index        map[string]int
	defaultModel string
}

// NewRegistry builds a registry. Entries without a display name get one derived
// from the identifier. Duplicate ids keep the first occurrence.
func NewRegistry(entries []Model, defaultModel string) *Registry {
	r := &Registry{index: make(map[string]int, len(entries))}
	for _, m := range entries {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			continue
		}
		if _, dup := r.index[m.ID]; dup {
			continue
		}
		if m.DisplayName == "" {
			m.DisplayName = DisplayName(m.ID)
		}
		r.index[m.ID] = len(r.models)
		r.models = append(r.models, m)
	}
	r.defaultModel = defaultModel
	if _, ok := r.index[defaultModel]; !ok && len(r.models) > 0 {
		r.defaultModel = r.models[0].ID
	}
	return r
}

// Models returns the registered models in declaration order.
func (r *Registry) Models() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Lookup returns the model registered under id.
func (r *Registry) Lookup(id string) (Model, bool) {
	i, ok := r.index[id]
	if !ok {
		return Model{}, false
	}
	return r.models[i], true
}

// Default returns the preselected model id.
func (r *Registry) Default() string {
	return r.defaultModel
}

// Reconcile pairs every registered model with the availability the backend reported.
// A registered model missing from the report is unavailable, never an error.
// Reported models the registry does not know are appended, sorted by id.
func (r *Registry) Reconcile(reported map[string]bool) []Entry {
	entries := make([]Entry, 0, len(r.models)+len(reported))
	for _, m := range r.models {
		entries = append(entries, Entry{Model: m, Available: reported[m.ID], Known: true})
	}

	var extra []string
	for id := range reported {
		if _, ok := r.index[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		entries = append(entries, Entry{
			Model:     Model{ID: id, DisplayName: DisplayName(id)},
			Available: reported[id],
		})
	}
	return entries
}

// DisplayName derives a readable name from an Ollama-style identifier,
// e.g. "llama3.2:3b" becomes "Llama3.2 (3B)".
func DisplayName(id string) string {
	name, tag, _ := strings.Cut(id, ":")
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = cases.Title(language.English, cases.NoLower).String(name)
	if tag == "" || tag == "latest" {
		return name
	}
	return name + " (" + strings.ToUpper(tag) + ")"
}
