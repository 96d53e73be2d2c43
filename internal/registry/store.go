package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vastlab/vastctl/internal/errors"
)

const stateFileName = "state.json"

// State is everything the registry persists: the record map, the active
// pointer, and per-name bookkeeping that must survive record removal.
type State struct {
	Records map[string]*InstanceRecord `json:"records"`
	Active  string                     `json:"active,omitempty"`

	// Generations holds the highest generation ever used per name, so a
	// name removed and recreated still gets a fresh generation.
	Generations map[string]int `json:"generations,omitempty"`
}

func newState() *State {
	return &State{
		Records:     make(map[string]*InstanceRecord),
		Generations: make(map[string]int),
	}
}

// store reads and writes State as a single JSON file. Writes go to a
// temp file in the same directory, synced, then renamed over the target
// so a crash never leaves a torn state file.
type store struct {
	path string
}

func newStore(home string) *store {
	return &store{path: filepath.Join(home, stateFileName)}
}

func (s *store) load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot read instance state",
			"Check permissions on "+s.path)
	}

	state := newState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Instance state file is corrupt",
			"Inspect "+s.path+" by hand, or remove it to start fresh (registered instances will need 'vastctl refresh').")
	}
	if state.Records == nil {
		state.Records = make(map[string]*InstanceRecord)
	}
	if state.Generations == nil {
		state.Generations = make(map[string]int)
	}
	return state, nil
}

func (s *store) save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot serialize instance state", "")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot create state directory",
			"Check permissions on "+dir)
	}

	tmp, err := os.CreateTemp(dir, stateFileName+".tmp-*")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot write instance state",
			"Check permissions on "+dir)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, s.path)
	}
	if werr != nil {
		os.Remove(tmpName)
		return errors.WrapWithCode(werr, errors.ErrConfig,
			"Cannot write instance state",
			"Check disk space and permissions on "+dir)
	}
	return nil
}
