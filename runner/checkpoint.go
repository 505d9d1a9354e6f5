package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeu5/recsim-rl/util"
)

var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint is the persisted state of a training run at the end of an iteration
type Checkpoint struct {
	Iteration  int             `json:"iteration"`
	TotalSteps int             `json:"total_steps"`
	RunID      string          `json:"run_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Agent      json.RawMessage `json:"agent"`
}

// CheckpointStore persists checkpoints indexed by iteration
type CheckpointStore interface {
	Save(ctx context.Context, ckpt *Checkpoint) error
	// Load returns ErrNoCheckpoint when the iteration is not stored
	Load(ctx context.Context, iteration int) (*Checkpoint, error)
	// Latest returns the highest stored iteration or ErrNoCheckpoint
	Latest(ctx context.Context) (int, error)
	// Iterations lists the stored iterations in increasing order
	Iterations(ctx context.Context) ([]int, error)
	// Prune keeps only the keep most recent checkpoints
	Prune(ctx context.Context, keep int) error
}

// FileStore keeps one JSON file per checkpoint, named <prefix>.<iteration>.json
type FileStore struct {
	dir    string
	prefix string
}

var _ CheckpointStore = &FileStore{}

// DefaultCheckpointPrefix names checkpoint files when no prefix is given
const DefaultCheckpointPrefix = "ckpt"

func NewFileStore(dir, prefix string) (*FileStore, error) {
	if prefix == "" {
		prefix = DefaultCheckpointPrefix
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, prefix: prefix}, nil
}

func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(iteration int) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s.%d.json", f.prefix, iteration))
}

func (f *FileStore) Save(_ context.Context, ckpt *Checkpoint) error {
	bs, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %d: %w", ckpt.Iteration, err)
	}
	if err := util.WriteFileAtomic(f.path(ckpt.Iteration), bs); err != nil {
		return fmt.Errorf("write checkpoint %d: %w", ckpt.Iteration, err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context, iteration int) (*Checkpoint, error) {
	bs, err := os.ReadFile(f.path(iteration))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("iteration %d: %w", iteration, ErrNoCheckpoint)
		}
		return nil, err
	}
	ckpt := &Checkpoint{}
	if err := json.Unmarshal(bs, ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %w", iteration, err)
	}
	return ckpt, nil
}

func (f *FileStore) Iterations(_ context.Context) ([]int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []int{}, nil
		}
		return nil, err
	}
	iterations := make([]int, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, f.prefix+".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		iteration, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, f.prefix+"."), ".json"))
		if err != nil || iteration < 0 {
			continue
		}
		iterations = append(iterations, iteration)
	}
	sort.Ints(iterations)
	return iterations, nil
}

func (f *FileStore) Latest(ctx context.Context) (int, error) {
	iterations, err := f.Iterations(ctx)
	if err != nil {
		return 0, err
	}
	if len(iterations) == 0 {
		return 0, ErrNoCheckpoint
	}
	return iterations[len(iterations)-1], nil
}

func (f *FileStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	iterations, err := f.Iterations(ctx)
	if err != nil {
		return err
	}
	for _, iteration := range stale(iterations, keep) {
		if err := os.Remove(f.path(iteration)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove checkpoint %d: %w", iteration, err)
		}
	}
	return nil
}

// stale returns the iterations that fall outside the keep most recent ones.
// iterations must be sorted.
func stale(iterations []int, keep int) []int {
	if len(iterations) <= keep {
		return nil
	}
	return iterations[:len(iterations)-keep]
}
