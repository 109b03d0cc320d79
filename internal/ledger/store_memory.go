package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"perimeter/internal/geo"
	id "perimeter/pkg/domain"
	"perimeter/pkg/platform/sentinel"
)

type edgeKey struct {
	userID id.UserID
	areaID id.FenceID
}

// InMemoryStore keeps the ledger and membership index in maps. It backs unit
// tests and local development without Postgres.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.RecordID]*LocationRecord
	edges   map[edgeKey]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[id.RecordID]*LocationRecord),
		edges:   make(map[edgeKey]time.Time),
	}
}

func (s *InMemoryStore) FindOpenRecord(_ context.Context, userID id.UserID) (*LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.records {
		if record.UserID == userID && !record.Disconnected {
			copied := *record
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) OpenRecord(_ context.Context, record *LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.UserID == record.UserID && !existing.Disconnected {
			return sentinel.ErrConflict
		}
	}
	copied := *record
	copied.Disconnected = false
	copied.Switched = false
	s.records[record.ID] = &copied
	return nil
}

func (s *InMemoryStore) CloseRecord(_ context.Context, recordID id.RecordID, out geo.Coordinate, outTime time.Time, switched bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok || record.Disconnected {
		return sentinel.ErrConflict
	}
	outCopy := out
	t := outTime
	record.OutCoordinate = &outCopy
	record.OutTime = &t
	record.Disconnected = true
	record.Switched = switched
	return nil
}

func (s *InMemoryStore) CreateEdge(_ context.Context, userID id.UserID, areaID id.FenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{userID: userID, areaID: areaID}
	if _, exists := s.edges[key]; !exists {
		s.edges[key] = time.Now()
	}
	return nil
}

func (s *InMemoryStore) DeleteEdge(_ context.Context, userID id.UserID, areaID id.FenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeKey{userID: userID, areaID: areaID})
	return nil
}

func (s *InMemoryStore) HasEdge(_ context.Context, userID id.UserID, areaID id.FenceID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeKey{userID: userID, areaID: areaID}]
	return ok, nil
}

func (s *InMemoryStore) ListEdgesByUser(_ context.Context, userID id.UserID) ([]MembershipEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var edges []MembershipEdge
	for key, since := range s.edges {
		if key.userID == userID {
			edges = append(edges, MembershipEdge{UserID: key.userID, AreaID: key.areaID, CreatedAt: since})
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].CreatedAt.Before(edges[j].CreatedAt) })
	return edges, nil
}

func (s *InMemoryStore) ListOccupants(_ context.Context, areaID id.FenceID) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type occupant struct {
		userID id.UserID
		since  time.Time
	}
	var occupants []occupant
	for key, since := range s.edges {
		if key.areaID == areaID {
			occupants = append(occupants, occupant{userID: key.userID, since: since})
		}
	}
	sort.Slice(occupants, func(i, j int) bool { return occupants[i].since.Before(occupants[j].since) })
	users := make([]id.UserID, 0, len(occupants))
	for _, o := range occupants {
		users = append(users, o.userID)
	}
	return users, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID, limit int) ([]*LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*LocationRecord
	for _, record := range s.records {
		if record.UserID == userID {
			copied := *record
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].InTime.After(records[j].InTime) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// OpenRecordCount returns the number of open records for the user. Test
// helper for the at-most-one-open-record invariant.
func (s *InMemoryStore) OpenRecordCount(userID id.UserID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, record := range s.records {
		if record.UserID == userID && !record.Disconnected {
			count++
		}
	}
	return count
}

func (s *InMemoryStore) snapshot() (map[id.RecordID]*LocationRecord, map[edgeKey]time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make(map[id.RecordID]*LocationRecord, len(s.records))
	for k, v := range s.records {
		copied := *v
		records[k] = &copied
	}
	edges := make(map[edgeKey]time.Time, len(s.edges))
	for k, v := range s.edges {
		edges[k] = v
	}
	return records, edges
}

func (s *InMemoryStore) restore(records map[id.RecordID]*LocationRecord, edges map[edgeKey]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.edges = edges
}

// InMemoryTxRunner gives the in-memory store all-or-nothing semantics: the
// state is snapshotted before fn runs and restored when fn fails, so a
// partially applied SWITCH batch is never observable.
type InMemoryTxRunner struct {
	store *InMemoryStore
	mu    sync.Mutex
}

func NewInMemoryTxRunner(store *InMemoryStore) *InMemoryTxRunner {
	return &InMemoryTxRunner{store: store}
}

func (r *InMemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	records, edges := r.store.snapshot()
	if err := fn(ctx, r.store); err != nil {
		r.store.restore(records, edges)
		return err
	}
	return nil
}
