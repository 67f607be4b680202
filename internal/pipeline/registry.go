package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultKeys is the weekly sequence run when no stage is selected.
var DefaultKeys = []string{"0", "1", "2", "3", "4", "5", "6"}

const selectAll = "all"

// Registry holds stages in dependency order.
type Registry struct {
	stages map[string]Stage
	order  []string
}

func NewRegistry(stages ...Stage) *Registry {
	r := &Registry{stages: make(map[string]Stage, len(stages))}
	for _, s := range stages {
		r.Register(s)
	}
	return r
}

// Register appends s. Registration order is execution order.
func (r *Registry) Register(s Stage) {
	if _, dup := r.stages[s.Key()]; !dup {
		r.order = append(r.order, s.Key())
	}
	r.stages[s.Key()] = s
}

func (r *Registry) Get(key string) (Stage, bool) {
	s, ok := r.stages[key]
	return s, ok
}

// Stages returns every registered stage in execution order.
func (r *Registry) Stages() []Stage {
	out := make([]Stage, len(r.order))
	for i, k := range r.order {
		out[i] = r.stages[k]
	}
	return out
}

// Resolve maps a selection to stages in execution order. An empty selection
// means DefaultKeys; "all" selects every registered stage.
func (r *Registry) Resolve(keys []string) ([]Stage, error) {
	if len(keys) == 0 {
		keys = DefaultKeys
	}

	pos := make(map[string]int, len(r.order))
	for i, k := range r.order {
		pos[k] = i
	}

	seen := map[string]bool{}
	var picked []string
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if k == selectAll {
			return r.Stages(), nil
		}
		if _, ok := r.stages[k]; !ok {
			return nil, fmt.Errorf("unknown stage %q (available: %s)", k, strings.Join(r.order, ", "))
		}
		if !seen[k] {
			seen[k] = true
			picked = append(picked, k)
		}
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("no stage selected")
	}

	sort.SliceStable(picked, func(i, j int) bool { return pos[picked[i]] < pos[picked[j]] })
	out := make([]Stage, len(picked))
	for i, k := range picked {
		out[i] = r.stages[k]
	}
	return out, nil
}

// ParseKeys splits a comma separated selection such as "0,1,3m".
func ParseKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
