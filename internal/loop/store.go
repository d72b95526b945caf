package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/pacer/internal/lock"
	"github.com/msageha/pacer/internal/model"
	yamlutil "github.com/msageha/pacer/internal/yaml"
)

// StateFileType is the schema file_type of the persisted loop state.
const StateFileType = yamlutil.FileTypeLoopState

const stateKey = "state:loop"

// Store persists LoopState under <pacerDir>/state/loop.yaml. Access is
// serialized through the shared lock map so readers never interleave with a
// read-modify-write cycle.
type Store struct {
	pacerDir string
	lockMap  *lock.MutexMap
}

func NewStore(pacerDir string, lockMap *lock.MutexMap) *Store {
	if lockMap == nil {
		lockMap = lock.NewMutexMap()
	}
	return &Store{pacerDir: pacerDir, lockMap: lockMap}
}

// Path returns the loop state file location.
func (s *Store) Path() string {
	return filepath.Join(s.pacerDir, "state", "loop.yaml")
}

// Load returns the persisted state. A missing file yields a fresh stopped
// state; a corrupted file is quarantined and rebuilt from its backup or a
// skeleton before loading.
func (s *Store) Load() (*model.LoopState, error) {
	s.lockMap.Lock(stateKey)
	defer s.lockMap.Unlock(stateKey)

	path := s.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return freshState(), nil
		}
		return nil, fmt.Errorf("read loop state: %w", err)
	}

	state, decodeErr := decodeState(data)
	if decodeErr == nil {
		return state, nil
	}

	if recErr := yamlutil.RecoverCorruptedFile(s.pacerDir, path, StateFileType); recErr != nil {
		return nil, fmt.Errorf("recover loop state (%v): %w", decodeErr, recErr)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recovered loop state: %w", err)
	}
	return decodeState(data)
}

// Save stamps updated_at and the schema header, then writes atomically.
func (s *Store) Save(state *model.LoopState) error {
	s.lockMap.Lock(stateKey)
	defer s.lockMap.Unlock(stateKey)

	state.SchemaVersion = yamlutil.CurrentSchemaVersion
	state.FileType = StateFileType
	now := time.Now().UTC().Format(time.RFC3339)
	state.UpdatedAt = &now

	path := s.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return yamlutil.AtomicWrite(path, state)
}

func decodeState(data []byte) (*model.LoopState, error) {
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, StateFileType); err != nil {
		return nil, err
	}
	var state model.LoopState
	if err := yamlv3.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func freshState() *model.LoopState {
	return &model.LoopState{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      StateFileType,
		MaxIterations: 10,
		Status:        model.LoopStatusStopped,
		Mode:          model.ModeAttended,
	}
}
