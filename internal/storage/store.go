package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/san-kum/kiteopt/internal/homotopy"
	"github.com/san-kum/kiteopt/internal/ocp"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.dat"
	statesFile     = "states.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID             string                  `json:"id"`
	Study          string                  `json:"study"`
	Model          string                  `json:"model"`
	Variant        string                  `json:"variant,omitempty"`
	Timestamp      time.Time               `json:"timestamp"`
	Discretization ocp.Discretization      `json:"discretization"`
	Param          string                  `json:"param,omitempty"`
	Stages         []homotopy.StageSummary `json:"stages"`
	Iterations     int                     `json:"iterations"`
	Objective      float64                 `json:"objective"`
	Elapsed        time.Duration           `json:"elapsed"`
	Metrics        map[string]float64      `json:"metrics"`
}

// Save writes a run directory holding metadata.json, the binary trajectory
// and a states.csv table. Any write error is returned.
func (s *Store) Save(meta RunMetadata, traj *ocp.Trajectory) (string, error) {
	if traj == nil {
		return "", fmt.Errorf("storage: nil trajectory")
	}
	if err := s.Init(); err != nil {
		return "", err
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	name := meta.Study
	if name == "" {
		name = traj.Model
	}
	runID, runDir, err := s.newRunDir(name, meta.Timestamp)
	if err != nil {
		return "", err
	}
	meta.ID = runID
	if meta.Model == "" {
		meta.Model = traj.Model
	}
	meta.Discretization = traj.Discretization

	if err := writeRun(runDir, meta, traj); err != nil {
		os.RemoveAll(runDir)
		return "", err
	}
	return runID, nil
}

// writeRun fills a fresh run directory. The caller removes it on error.
func writeRun(runDir string, meta RunMetadata, traj *ocp.Trajectory) error {
	if err := WriteTrajectory(filepath.Join(runDir, trajectoryFile), traj); err != nil {
		return fmt.Errorf("storage: write trajectory: %w", err)
	}
	if err := writeFile(filepath.Join(runDir, statesFile), func(f *os.File) error {
		return ExportCSV(f, traj)
	}); err != nil {
		return fmt.Errorf("storage: write states: %w", err)
	}
	if err := writeFile(filepath.Join(runDir, metadataFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return fmt.Errorf("storage: write metadata: %w", err)
	}
	return nil
}

func (s *Store) newRunDir(name string, ts time.Time) (string, string, error) {
	base := fmt.Sprintf("%s_%d", name, ts.Unix())
	for i := 0; ; i++ {
		runID := base
		if i > 0 {
			runID = fmt.Sprintf("%s_%d", base, i)
		}
		runDir := filepath.Join(s.baseDir, runID)
		err := os.Mkdir(runDir, 0755)
		if err == nil {
			return runID, runDir, nil
		}
		if !os.IsExist(err) {
			return "", "", err
		}
	}
}

// writeFile writes through a temporary file and renames it into place.
func writeFile(path string, write func(f *os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Timestamp.Equal(runs[j].Timestamp) {
			return runs[i].Timestamp.Before(runs[j].Timestamp)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s metadata: %w", runID, err)
	}
	return &meta, nil
}

// Latest returns the most recent run.
func (s *Store) Latest() (*RunMetadata, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no runs in %s", ErrRunNotFound, s.baseDir)
	}
	return &runs[len(runs)-1], nil
}

func (s *Store) LoadTrajectory(runID string) (*ocp.Trajectory, error) {
	return ReadTrajectory(filepath.Join(s.baseDir, runID, trajectoryFile))
}

// ReadTrajectory decodes a trajectory file written by Save or WriteTrajectory.
func ReadTrajectory(path string) (*ocp.Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	var traj ocp.Trajectory
	if err := msgpack.NewDecoder(f).Decode(&traj); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return &traj, nil
}

// WriteTrajectory writes a msgpack trajectory file through a temporary file.
func WriteTrajectory(path string, traj *ocp.Trajectory) error {
	return writeFile(path, func(f *os.File) error {
		return msgpack.NewEncoder(f).Encode(traj)
	})
}
