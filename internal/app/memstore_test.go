package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"kloza/api/internal/store"
)

// memStore is a map-backed dataStore with the same write-path semantics as
// the Postgres implementation: the one-active-kollab rule, the delete guards,
// and the append gates all hold under its lock.
type memStore struct {
	mu      sync.Mutex
	ideas   map[string]store.Idea
	kollabs map[string]store.Kollab
}

func newMemStore() *memStore {
	return &memStore{
		ideas:   make(map[string]store.Idea),
		kollabs: make(map[string]store.Kollab),
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) InsertIdea(_ context.Context, idea store.Idea) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ideas[idea.ID] = idea
	return nil
}

func (m *memStore) GetIdea(_ context.Context, ideaID string) (store.Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idea, ok := m.ideas[ideaID]
	if !ok {
		return store.Idea{}, sql.ErrNoRows
	}
	idea.HasActiveKollab = m.activeKollabExists(ideaID)
	return idea, nil
}

func (m *memStore) ListIdeas(_ context.Context, filter store.IdeaFilter) ([]store.Idea, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]store.Idea, 0, len(m.ideas))
	for _, idea := range m.ideas {
		if filter.Status != "" && idea.Status != filter.Status {
			continue
		}
		idea.HasActiveKollab = m.activeKollabExists(idea.ID)
		matched = append(matched, idea)
	}
	sort.Slice(matched, func(i, j int) bool {
		var less bool
		switch filter.SortBy {
		case "title":
			less = matched[i].Title < matched[j].Title
		case "updatedAt":
			less = matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		default:
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if filter.SortOrder == "desc" {
			return !less
		}
		return less
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []store.Idea{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memStore) UpdateIdea(_ context.Context, idea store.Idea) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ideas[idea.ID]; !ok {
		return sql.ErrNoRows
	}
	m.ideas[idea.ID] = idea
	return nil
}

func (m *memStore) DeleteIdea(_ context.Context, ideaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ideas[ideaID]; !ok {
		return sql.ErrNoRows
	}
	if m.activeKollabExists(ideaID) {
		return store.ErrIdeaHasActiveKollab
	}
	delete(m.ideas, ideaID)
	return nil
}

func (m *memStore) InsertKollab(_ context.Context, kollab store.Kollab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kollab.Status == store.KollabStatusActive && m.activeKollabExists(kollab.IdeaID) {
		return store.ErrDuplicateActiveKollab
	}
	m.kollabs[kollab.ID] = kollab
	return nil
}

func (m *memStore) GetKollab(_ context.Context, kollabID string) (store.Kollab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kollab, ok := m.kollabs[kollabID]
	if !ok {
		return store.Kollab{}, sql.ErrNoRows
	}
	if idea, ok := m.ideas[kollab.IdeaID]; ok {
		kollab.Idea = &store.IdeaRef{
			ID:          idea.ID,
			Title:       idea.Title,
			Description: idea.Description,
			Status:      idea.Status,
		}
	}
	return kollab, nil
}

func (m *memStore) HasActiveKollab(_ context.Context, ideaID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeKollabExists(ideaID), nil
}

func (m *memStore) UpdateKollab(_ context.Context, kollab store.Kollab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kollabs[kollab.ID]; !ok {
		return sql.ErrNoRows
	}
	if kollab.Status == store.KollabStatusActive {
		for id, other := range m.kollabs {
			if id != kollab.ID && other.IdeaID == kollab.IdeaID && other.Status == store.KollabStatusActive {
				return store.ErrDuplicateActiveKollab
			}
		}
	}
	kollab.Idea = nil
	m.kollabs[kollab.ID] = kollab
	return nil
}

func (m *memStore) DeleteKollab(_ context.Context, kollabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kollab, ok := m.kollabs[kollabID]
	if !ok {
		return sql.ErrNoRows
	}
	if kollab.Status == store.KollabStatusActive {
		return store.ErrKollabActive
	}
	delete(m.kollabs, kollabID)
	return nil
}

func (m *memStore) AppendDiscussion(_ context.Context, kollabID string, discussion store.Discussion) (store.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kollab, ok := m.kollabs[kollabID]
	if !ok {
		return store.Discussion{}, sql.ErrNoRows
	}
	if kollab.Status != store.KollabStatusActive {
		return store.Discussion{}, &store.NotActiveError{Status: kollab.Status}
	}
	if len(kollab.Discussions) >= store.MaxDiscussions {
		return store.Discussion{}, store.ErrDiscussionLimit
	}
	if discussion.ParentID != nil {
		found := false
		for _, existing := range kollab.Discussions {
			if existing.ID == *discussion.ParentID {
				found = true
				break
			}
		}
		if !found {
			return store.Discussion{}, store.ErrParentDiscussionNotFound
		}
	}
	kollab.Discussions = append(kollab.Discussions, discussion)
	m.kollabs[kollabID] = kollab
	return discussion, nil
}

// activeKollabExists must be called with m.mu held.
func (m *memStore) activeKollabExists(ideaID string) bool {
	for _, kollab := range m.kollabs {
		if kollab.IdeaID == ideaID && kollab.Status == store.KollabStatusActive {
			return true
		}
	}
	return false
}
