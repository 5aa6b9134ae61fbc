// Package environment keeps the named variable sets requests are resolved
// against. At most one set is active at a time.
package environment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"api-runner/internal/config"
	"api-runner/internal/logging"
	"api-runner/internal/util"

	"github.com/joho/godotenv"
)

var (
	ErrNotFound  = errors.New("environment not found")
	ErrDuplicate = errors.New("environment already exists")
)

// Variable is one key/value pair of a set.
type Variable struct {
	Key   string
	Value string
}

// VariableSet is a named, ordered list of variables.
type VariableSet struct {
	Name      string
	Variables []Variable
	Active    bool
}

// Map returns the set as a lookup map. Later duplicates win.
func (vs VariableSet) Map() map[string]string {
	m := make(map[string]string, len(vs.Variables))
	for _, v := range vs.Variables {
		m[v.Key] = v.Value
	}
	return m
}

// Store holds variable sets in insertion order.
type Store struct {
	mu     sync.RWMutex
	sets   []VariableSet
	active int // index into sets, -1 when none
}

// NewStore creates an empty store with nothing active.
func NewStore() *Store {
	return &Store{active: -1}
}

// Add appends a set. If set.Active is true it becomes the active set.
func (s *Store) Add(set VariableSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(set.Name) >= 0 {
		return fmt.Errorf("%w: '%s'", ErrDuplicate, set.Name)
	}
	set.Variables = append([]Variable(nil), set.Variables...)
	wantActive := set.Active
	set.Active = false
	s.sets = append(s.sets, set)
	if wantActive {
		s.activateLocked(len(s.sets) - 1)
	}
	return nil
}

// Activate makes name the only active set.
func (s *Store) Activate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: '%s'", ErrNotFound, name)
	}
	s.activateLocked(i)
	logging.Logf(logging.Debug, "Environment '%s' activated", name)
	return nil
}

// Deactivate leaves no set active.
func (s *Store) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= 0 {
		s.sets[s.active].Active = false
	}
	s.active = -1
}

func (s *Store) activateLocked(i int) {
	if s.active >= 0 {
		s.sets[s.active].Active = false
	}
	s.sets[i].Active = true
	s.active = i
}

func (s *Store) indexOf(name string) int {
	for i := range s.sets {
		if s.sets[i].Name == name {
			return i
		}
	}
	return -1
}

// Active returns a copy of the active set.
func (s *Store) Active() (VariableSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active < 0 {
		return VariableSet{}, false
	}
	return copySet(s.sets[s.active]), true
}

// ActiveVariables returns the active set as a map, or an empty map when
// nothing is active.
func (s *Store) ActiveVariables() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active < 0 {
		return map[string]string{}
	}
	return s.sets[s.active].Map()
}

// Get returns a copy of the named set.
func (s *Store) Get(name string) (VariableSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(name)
	if i < 0 {
		return VariableSet{}, false
	}
	return copySet(s.sets[i]), true
}

// List returns copies of every set in insertion order.
func (s *Store) List() []VariableSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VariableSet, len(s.sets))
	for i := range s.sets {
		out[i] = copySet(s.sets[i])
	}
	return out
}

func copySet(vs VariableSet) VariableSet {
	vs.Variables = append([]Variable(nil), vs.Variables...)
	return vs
}

// LoadDotenv reads a dotenv file into variables sorted by key.
func LoadDotenv(path string) ([]Variable, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file '%s': %w", path, err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vars := make([]Variable, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, Variable{Key: k, Value: values[k]})
	}
	return vars, nil
}

// FromConfig builds a store from workspace environments. Env files are read
// first and inline variables override them. resolvePath maps env_file
// entries to real paths; nil leaves them as written.
func FromConfig(envs []config.EnvironmentConfig, resolvePath func(string) string) (*Store, error) {
	store := NewStore()
	for _, env := range envs {
		var fromFile []Variable
		if env.EnvFile != "" {
			p := util.ExpandEnvUniversal(env.EnvFile)
			if resolvePath != nil {
				p = resolvePath(p)
			}
			vars, err := LoadDotenv(p)
			if err != nil {
				return nil, fmt.Errorf("environment '%s': %w", env.Name, err)
			}
			logging.Logf(logging.Debug, "Environment '%s': %d variable(s) from '%s'", env.Name, len(vars), p)
			fromFile = vars
		}
		if err := store.Add(VariableSet{
			Name:      env.Name,
			Variables: mergeVariables(fromFile, env.Variables),
			Active:    env.Active,
		}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// mergeVariables keeps the inline order and appends file-only keys.
func mergeVariables(fromFile []Variable, inline config.OrderedVars) []Variable {
	out := make([]Variable, 0, len(fromFile)+len(inline))
	seen := make(map[string]bool, len(inline))
	for _, v := range inline {
		out = append(out, Variable{Key: v.Key, Value: v.Value})
		seen[v.Key] = true
	}
	for _, v := range fromFile {
		if !seen[v.Key] {
			out = append(out, v)
		}
	}
	return out
}
