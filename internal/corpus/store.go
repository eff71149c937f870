package corpus

import (
	"b3hybrid/internal/coverage"
	"b3hybrid/internal/session"
	"b3hybrid/internal/types"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

type Kind string

const (
	KindQueue Kind = session.InputsDir
	KindCrash Kind = session.CrashesDir
	KindHang  Kind = session.HangsDir
)

type Entry struct {
	ID         int
	Path       string
	Size       int
	Kind       Kind
	Generation uint64
	Edges      []coverage.Edge
	Picks      int
}

// Store owns the queue/, crashes/ and hangs/ directories of the session.
type Store struct {
	mu     sync.Mutex
	dirs   map[Kind]string
	nextID map[Kind]int
	queue  []*Entry

	subscribers []chan types.SeedMessage
	target      *types.Target
	logger      *zap.Logger
}

func NewStore(paths session.Paths, target *types.Target, logger *zap.Logger) *Store {
	return &Store{
		dirs: map[Kind]string{
			KindQueue: paths.QueueDir(),
			KindCrash: paths.CrashesDir(),
			KindHang:  paths.HangsDir(),
		},
		nextID: make(map[Kind]int),
		target: target,
		logger: logger.Named("corpus"),
	}
}

// Save writes data as the next entry of kind. Queue entries are indexed for
// picking and announced to subscribers.
func (s *Store) Save(kind Kind, data []byte, gen uint64, edges []coverage.Edge) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.dirs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown corpus kind %q", kind)
	}
	id := s.nextID[kind]
	name := fmt.Sprintf("id:%06d,gen:%d", id, gen)
	path := filepath.Join(dir, name)
	// written under a hidden name first; watchers only ever see complete files
	tmp := filepath.Join(dir, "."+name)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save %s entry: %w", kind, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to save %s entry: %w", kind, err)
	}
	s.nextID[kind] = id + 1

	entry := &Entry{
		ID:         id,
		Path:       path,
		Size:       len(data),
		Kind:       kind,
		Generation: gen,
		Edges:      edges,
	}
	if kind != KindQueue {
		return entry, nil
	}

	s.queue = append(s.queue, entry)
	for _, sub := range s.subscribers {
		select {
		case sub <- types.SeedMessage{SeedFile: path, Generation: gen, Target: s.target}:
		default:
			s.logger.Warn("seed subscriber is lagging, dropping notification", zap.String("seed", path))
		}
	}
	return entry, nil
}

// Queue returns a snapshot of the queue entries.
func (s *Store) Queue() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry(nil), s.queue...)
}

func (s *Store) Load(e *Entry) ([]byte, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus entry %d: %w", e.ID, err)
	}
	return data, nil
}

func (s *Store) MarkPicked(e *Entry) {
	s.mu.Lock()
	e.Picks++
	s.mu.Unlock()
}

func (s *Store) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID[kind]
}

func (s *Store) Empty() bool {
	return s.Count(KindQueue) == 0
}

func (s *Store) Dir(kind Kind) string {
	return s.dirs[kind]
}

// Subscribe returns a channel receiving every later queue addition. Slow
// subscribers lose notifications rather than stall the fuzzer.
func (s *Store) Subscribe(buffer int) <-chan types.SeedMessage {
	ch := make(chan types.SeedMessage, buffer)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}
