package store

import "time"

// Idea statuses.
const (
	IdeaStatusDraft    = "draft"
	IdeaStatusApproved = "approved"
	IdeaStatusArchived = "archived"
)

// Kollab statuses.
const (
	KollabStatusActive    = "active"
	KollabStatusCompleted = "completed"
	KollabStatusCancelled = "cancelled"
)

// MaxDiscussions caps the embedded discussion list of a kollab.
const MaxDiscussions = 1000

type Idea struct {
	ID          string
	Title       string
	Description string
	CreatedBy   string
	Status      string
	// HasActiveKollab is computed at read time from the kollabs table,
	// never stored.
	HasActiveKollab bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Kollab struct {
	ID              string
	IdeaID          string
	Goal            string
	Participants    []string
	SuccessCriteria string
	Status          string
	Discussions     []Discussion
	// Idea is a read-only projection of the referenced idea, populated by
	// GetKollab. Nil when the idea has been deleted.
	Idea      *IdeaRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdeaRef is the slice of the idea a kollab response embeds.
type IdeaRef struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Discussion is embedded in its kollab's discussions column; it is never
// independently addressable.
type Discussion struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	ParentID  *string   `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
}

// IdeaFilter selects and orders a page of ideas.
type IdeaFilter struct {
	Status    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}
