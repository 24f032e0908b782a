// Package axiom implements the value-axiom library and the Judge that scores
// claims and reasoning steps against it. An axiom either carries a pure
// validator over named numeric fields (the cheap, deterministic path) or a
// natural-language rubric evaluated through the LanguageModel capability.
package axiom

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// axiomFile is the on-disk JSON shape of one axiom. Validators are declared
// as a (field, op, value) comparison so that axiom files stay data, not code.
type axiomFile struct {
	Axioms []axiomEntry `json:"axioms"`
}

type axiomEntry struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
	Penalty  float64 `json:"penalty"`
	Rubric   string  `json:"rubric"`

	Validator *validatorSpec `json:"validator,omitempty"`
}

type validatorSpec struct {
	Field string  `json:"field"`
	Op    string  `json:"op"` // "<", "<=", ">", ">=", "==", "!="
	Value float64 `json:"value"`
}

func (v *validatorSpec) compile() (func(domain map[string]float64) (bool, bool), error) {
	field := v.Field
	value := v.Value
	var cmp func(a, b float64) bool
	switch v.Op {
	case "<":
		cmp = func(a, b float64) bool { return a < b }
	case "<=":
		cmp = func(a, b float64) bool { return a <= b }
	case ">":
		cmp = func(a, b float64) bool { return a > b }
	case ">=":
		cmp = func(a, b float64) bool { return a >= b }
	case "==":
		cmp = func(a, b float64) bool { return a == b }
	case "!=":
		cmp = func(a, b float64) bool { return a != b }
	default:
		return nil, fmt.Errorf("unknown validator op %q", v.Op)
	}
	return func(domain map[string]float64) (bool, bool) {
		got, ok := domain[field]
		if !ok {
			return false, false
		}
		return cmp(got, value), true
	}, nil
}

// Library is an immutable snapshot of the axioms active for one session.
// Axioms never change after load; a session wanting different axioms builds a
// new Library.
type Library struct {
	axioms []*types.Axiom
	byID   map[string]*types.Axiom
}

// NewLibrary builds a library from already-constructed axioms, validating
// weights and penalties. Axioms are sorted by ID so that evaluation order,
// and therefore aggregate rationale order, is deterministic.
func NewLibrary(axioms []*types.Axiom) (*Library, error) {
	byID := make(map[string]*types.Axiom, len(axioms))
	sorted := make([]*types.Axiom, 0, len(axioms))
	for _, a := range axioms {
		if a.ID == "" {
			return nil, errs.New(errs.InvalidInput, "axiom has empty id")
		}
		if a.Weight < 0 || a.Weight > 1 {
			return nil, errs.New(errs.InvalidInput, fmt.Sprintf("axiom %s: weight %v outside [0,1]", a.ID, a.Weight))
		}
		if a.Penalty < 0 {
			return nil, errs.New(errs.InvalidInput, fmt.Sprintf("axiom %s: penalty %v is negative", a.ID, a.Penalty))
		}
		if _, dup := byID[a.ID]; dup {
			return nil, errs.New(errs.InvalidInput, "duplicate axiom id "+a.ID)
		}
		clone := *a
		byID[a.ID] = &clone
		sorted = append(sorted, &clone)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Library{axioms: sorted, byID: byID}, nil
}

// LoadFromFile reads a JSON axiom file and compiles its declarative
// validators into pure functions.
func LoadFromFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "read axiom file "+path, err)
	}
	var file axiomFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "parse axiom file "+path, err)
	}

	axioms := make([]*types.Axiom, 0, len(file.Axioms))
	for _, e := range file.Axioms {
		a := &types.Axiom{
			ID:       e.ID,
			Label:    e.Label,
			Category: e.Category,
			Weight:   e.Weight,
			Penalty:  e.Penalty,
			Rubric:   e.Rubric,
		}
		if e.Validator != nil {
			fn, err := e.Validator.compile()
			if err != nil {
				return nil, errs.Wrap(errs.InvalidInput, "axiom "+e.ID, err)
			}
			a.Validator = fn
		}
		axioms = append(axioms, a)
	}
	return NewLibrary(axioms)
}

// Axioms returns the loaded axioms in deterministic (ID) order. Callers must
// not mutate the returned axioms; mutating axioms mid-session is an invariant
// violation.
func (l *Library) Axioms() []*types.Axiom {
	return l.axioms
}

// Get returns the axiom with the given ID, if present.
func (l *Library) Get(id string) (*types.Axiom, bool) {
	a, ok := l.byID[id]
	return a, ok
}

// Len returns the number of loaded axioms.
func (l *Library) Len() int { return len(l.axioms) }
