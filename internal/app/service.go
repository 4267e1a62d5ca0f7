package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"kloza/api/internal/config"
	"kloza/api/internal/lock"
	"kloza/api/internal/store"
	"kloza/api/internal/util"
)

// dataStore is the slice of the persistence layer the service needs.
type dataStore interface {
	Ping(context.Context) error

	InsertIdea(context.Context, store.Idea) error
	GetIdea(context.Context, string) (store.Idea, error)
	ListIdeas(context.Context, store.IdeaFilter) ([]store.Idea, int, error)
	UpdateIdea(context.Context, store.Idea) error
	DeleteIdea(context.Context, string) error

	InsertKollab(context.Context, store.Kollab) error
	GetKollab(context.Context, string) (store.Kollab, error)
	HasActiveKollab(context.Context, string) (bool, error)
	UpdateKollab(context.Context, store.Kollab) error
	DeleteKollab(context.Context, string) error

	AppendDiscussion(context.Context, string, store.Discussion) (store.Discussion, error)
}

type Service struct {
	cfg   config.Config
	store dataStore
	locks lock.KeyLock
}

func New(cfg config.Config, ds dataStore, locks lock.KeyLock) *Service {
	if locks == nil {
		locks = lock.NewLocalLock()
	}
	return &Service{cfg: cfg, store: ds, locks: locks}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Idea inputs ──

type CreateIdeaInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
	Status      string `json:"status"`
}

type UpdateIdeaInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	CreatedBy   *string `json:"createdBy"`
	Status      *string `json:"status"`
}

type ListIdeasInput struct {
	Status    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// ── Kollab inputs ──

type CreateKollabInput struct {
	IdeaID          string   `json:"ideaId"`
	Goal            string   `json:"goal"`
	Participants    []string `json:"participants"`
	SuccessCriteria string   `json:"successCriteria"`
}

type UpdateKollabInput struct {
	Goal            *string   `json:"goal"`
	Participants    *[]string `json:"participants"`
	SuccessCriteria *string   `json:"successCriteria"`
	Status          *string   `json:"status"`
}

type AddDiscussionInput struct {
	Message  string  `json:"message"`
	Author   string  `json:"author"`
	ParentID *string `json:"parentId"`
}

var ideaStatuses = map[string]struct{}{
	store.IdeaStatusDraft:    {},
	store.IdeaStatusApproved: {},
	store.IdeaStatusArchived: {},
}

var kollabStatuses = map[string]struct{}{
	store.KollabStatusActive:    {},
	store.KollabStatusCompleted: {},
	store.KollabStatusCancelled: {},
}

var ideaSortFields = map[string]struct{}{
	"createdAt": {},
	"updatedAt": {},
	"title":     {},
}

// ── Idea lifecycle ──

func (s *Service) CreateIdea(ctx context.Context, input CreateIdeaInput) (map[string]any, error) {
	if err := firstIssue(
		checkWhitespace(input.Title, "Title cannot be whitespace only"),
		checkWhitespace(input.Description, "Description cannot be whitespace only"),
		checkWhitespace(input.CreatedBy, "Created by cannot be whitespace only"),
	); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = store.IdeaStatusDraft
	}

	idea := store.Idea{
		ID:          util.NewID("idea"),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		CreatedBy:   strings.TrimSpace(input.CreatedBy),
		Status:      status,
	}
	if err := validateIdea(idea); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	idea.CreatedAt = now
	idea.UpdatedAt = now

	if err := s.store.InsertIdea(ctx, idea); err != nil {
		return nil, mapStoreWriteError(err)
	}
	return ideaJSON(idea), nil
}

func (s *Service) GetIdea(ctx context.Context, ideaID string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Idea not found")
	}
	if err != nil {
		return nil, err
	}
	return ideaJSON(idea), nil
}

func (s *Service) ListIdeas(ctx context.Context, input ListIdeasInput) (map[string]any, error) {
	if input.Status != "" {
		if _, ok := ideaStatuses[input.Status]; !ok {
			return nil, validationError("status must be one of draft, approved, archived")
		}
	}
	sortBy := input.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}
	if _, ok := ideaSortFields[sortBy]; !ok {
		return nil, validationError("sortBy must be one of createdAt, updatedAt, title")
	}
	sortOrder := input.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		return nil, validationError("sortOrder must be asc or desc")
	}

	page := input.Page
	if page < 1 {
		page = 1
	}
	pageSize := input.PageSize
	if pageSize < 1 {
		pageSize = s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}

	ideas, total, err := s.store.ListIdeas(ctx, store.IdeaFilter{
		Status:    input.Status,
		SortBy:    sortBy,
		SortOrder: sortOrder,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(ideas))
	for _, idea := range ideas {
		items = append(items, ideaJSON(idea))
	}
	return map[string]any{
		"ideas":      items,
		"pagination": paginationJSON(total, page, pageSize),
	}, nil
}

func (s *Service) UpdateIdea(ctx context.Context, ideaID string, input UpdateIdeaInput) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Idea not found")
	}
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		if err := checkWhitespace(*input.Title, "Title cannot be whitespace only"); err != nil {
			return nil, err
		}
		idea.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		if err := checkWhitespace(*input.Description, "Description cannot be whitespace only"); err != nil {
			return nil, err
		}
		idea.Description = strings.TrimSpace(*input.Description)
	}
	if input.CreatedBy != nil {
		if err := checkWhitespace(*input.CreatedBy, "Created by cannot be whitespace only"); err != nil {
			return nil, err
		}
		idea.CreatedBy = strings.TrimSpace(*input.CreatedBy)
	}
	if input.Status != nil {
		idea.Status = *input.Status
	}
	if err := validateIdea(idea); err != nil {
		return nil, err
	}

	idea.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateIdea(ctx, idea); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Idea not found")
		}
		return nil, mapStoreWriteError(err)
	}
	return ideaJSON(idea), nil
}

func (s *Service) DeleteIdea(ctx context.Context, ideaID string) error {
	err := s.store.DeleteIdea(ctx, ideaID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return notFound("Idea not found")
	case errors.Is(err, store.ErrIdeaHasActiveKollab):
		return conflict("Cannot delete idea with active Kollab", nil)
	default:
		return err
	}
}

// ── Kollab lifecycle ──

// CreateKollab creates the kollab for an approved idea. The HasActiveKollab
// lookup is a fast path only; the partial unique index enforces the
// one-active-kollab invariant when concurrent requests race past it.
func (s *Service) CreateKollab(ctx context.Context, input CreateKollabInput) (map[string]any, error) {
	if err := firstIssue(
		checkWhitespace(input.Goal, "Goal cannot be whitespace only"),
		checkWhitespace(input.SuccessCriteria, "Success criteria cannot be whitespace only"),
		checkParticipantsWhitespace(input.Participants),
	); err != nil {
		return nil, err
	}

	kollab := store.Kollab{
		ID:              util.NewID("kol"),
		IdeaID:          strings.TrimSpace(input.IdeaID),
		Goal:            strings.TrimSpace(input.Goal),
		Participants:    trimAll(input.Participants),
		SuccessCriteria: strings.TrimSpace(input.SuccessCriteria),
		Status:          store.KollabStatusActive,
		Discussions:     []store.Discussion{},
	}
	if kollab.IdeaID == "" {
		return nil, validationError("ideaId is required")
	}
	if err := validateKollab(kollab); err != nil {
		return nil, err
	}

	idea, err := s.store.GetIdea(ctx, kollab.IdeaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(fmt.Sprintf("Idea not found: %s", kollab.IdeaID))
	}
	if err != nil {
		return nil, err
	}
	if idea.Status != store.IdeaStatusApproved {
		log.Printf("rejected kollab creation for idea %s with status %s", idea.ID, idea.Status)
		return nil, forbidden("Cannot create Kollab from non-approved idea", map[string]any{
			"currentStatus":  idea.Status,
			"requiredStatus": store.IdeaStatusApproved,
		})
	}

	exists, err := s.store.HasActiveKollab(ctx, kollab.IdeaID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, duplicateActiveKollab()
	}

	now := time.Now().UTC()
	kollab.CreatedAt = now
	kollab.UpdatedAt = now

	if err := s.store.InsertKollab(ctx, kollab); err != nil {
		if errors.Is(err, store.ErrDuplicateActiveKollab) {
			return nil, duplicateActiveKollab()
		}
		return nil, mapStoreWriteError(err)
	}

	kollab.Idea = &store.IdeaRef{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Status:      idea.Status,
	}
	return kollabJSON(kollab), nil
}

func (s *Service) GetKollab(ctx context.Context, kollabID string) (map[string]any, error) {
	kollab, err := s.store.GetKollab(ctx, kollabID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Kollab not found")
	}
	if err != nil {
		return nil, err
	}
	return kollabJSON(kollab), nil
}

func (s *Service) UpdateKollab(ctx context.Context, kollabID string, input UpdateKollabInput) (map[string]any, error) {
	kollab, err := s.store.GetKollab(ctx, kollabID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Kollab not found")
	}
	if err != nil {
		return nil, err
	}

	if input.Goal != nil {
		if err := checkWhitespace(*input.Goal, "Goal cannot be whitespace only"); err != nil {
			return nil, err
		}
		kollab.Goal = strings.TrimSpace(*input.Goal)
	}
	if input.Participants != nil {
		if err := checkParticipantsWhitespace(*input.Participants); err != nil {
			return nil, err
		}
		kollab.Participants = trimAll(*input.Participants)
	}
	if input.SuccessCriteria != nil {
		if err := checkWhitespace(*input.SuccessCriteria, "Success criteria cannot be whitespace only"); err != nil {
			return nil, err
		}
		kollab.SuccessCriteria = strings.TrimSpace(*input.SuccessCriteria)
	}
	if input.Status != nil {
		kollab.Status = *input.Status
	}
	if err := validateKollab(kollab); err != nil {
		return nil, err
	}

	kollab.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateKollab(ctx, kollab); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, notFound("Kollab not found")
		case errors.Is(err, store.ErrDuplicateActiveKollab):
			return nil, duplicateActiveKollab()
		}
		return nil, mapStoreWriteError(err)
	}
	return kollabJSON(kollab), nil
}

func (s *Service) DeleteKollab(ctx context.Context, kollabID string) error {
	err := s.store.DeleteKollab(ctx, kollabID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return notFound("Kollab not found")
	case errors.Is(err, store.ErrKollabActive):
		return conflict("Cannot delete active Kollab; complete or cancel it first", nil)
	default:
		return err
	}
}

// ── Discussion threads ──

// AddDiscussion appends one message to a kollab's discussion list. The store
// re-checks the active gate, the cap, and the parent inside its row-locked
// transaction; the per-kollab lock keeps concurrent appends from piling up on
// that row lock.
func (s *Service) AddDiscussion(ctx context.Context, kollabID string, input AddDiscussionInput) (map[string]any, error) {
	message := strings.TrimSpace(input.Message)
	author := strings.TrimSpace(input.Author)
	if input.Message != "" && message == "" {
		return nil, unprocessable("Message cannot be whitespace only")
	}
	if input.Author != "" && author == "" {
		return nil, unprocessable("Author cannot be whitespace only")
	}
	var issues []string
	if n := utf8.RuneCountInString(message); n < 1 || n > 5000 {
		issues = append(issues, "message must be between 1 and 5000 characters")
	}
	if n := utf8.RuneCountInString(author); n < 2 || n > 100 {
		issues = append(issues, "author must be between 2 and 100 characters")
	}
	if len(issues) > 0 {
		return nil, validationError(strings.Join(issues, ", "))
	}

	var parentID *string
	if input.ParentID != nil {
		trimmed := strings.TrimSpace(*input.ParentID)
		if trimmed != "" {
			parentID = &trimmed
		}
	}

	release, err := s.locks.Acquire(ctx, kollabID)
	if err != nil {
		return nil, fmt.Errorf("lock kollab %s: %w", kollabID, err)
	}
	defer release()

	discussion := store.Discussion{
		ID:        util.NewID("disc"),
		Message:   message,
		Author:    author,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
	}
	appended, err := s.store.AppendDiscussion(ctx, kollabID, discussion)
	if err != nil {
		var notActive *store.NotActiveError
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, notFound("Kollab not found")
		case errors.As(err, &notActive):
			return nil, conflict("Cannot add discussion to non-active Kollab", map[string]any{
				"currentStatus":  notActive.Status,
				"requiredStatus": store.KollabStatusActive,
			})
		case errors.Is(err, store.ErrDiscussionLimit):
			return nil, unprocessable(fmt.Sprintf("Maximum discussion limit reached (%d)", store.MaxDiscussions))
		case errors.Is(err, store.ErrParentDiscussionNotFound):
			return nil, notFound("Parent discussion not found")
		}
		return nil, mapStoreWriteError(err)
	}
	return discussionJSON(appended), nil
}

// ── Validation ──

// Field bounds count characters, not bytes, so multibyte input is measured
// the way users see it.
func validateIdea(idea store.Idea) error {
	var issues []string
	if n := utf8.RuneCountInString(idea.Title); n < 3 || n > 200 {
		issues = append(issues, "title must be between 3 and 200 characters")
	}
	if n := utf8.RuneCountInString(idea.Description); n < 10 || n > 5000 {
		issues = append(issues, "description must be between 10 and 5000 characters")
	}
	if n := utf8.RuneCountInString(idea.CreatedBy); n < 2 || n > 100 {
		issues = append(issues, "createdBy must be between 2 and 100 characters")
	}
	if _, ok := ideaStatuses[idea.Status]; !ok {
		issues = append(issues, "status must be one of draft, approved, archived")
	}
	if len(issues) > 0 {
		return validationError(strings.Join(issues, ", "))
	}
	return nil
}

func validateKollab(kollab store.Kollab) error {
	var issues []string
	if n := utf8.RuneCountInString(kollab.Goal); n < 10 || n > 1000 {
		issues = append(issues, "goal must be between 10 and 1000 characters")
	}
	if len(kollab.Participants) < 1 || len(kollab.Participants) > 50 {
		issues = append(issues, "participants must contain between 1 and 50 names")
	}
	for _, participant := range kollab.Participants {
		if n := utf8.RuneCountInString(participant); n < 2 || n > 100 {
			issues = append(issues, "participant names must be between 2 and 100 characters")
			break
		}
	}
	if n := utf8.RuneCountInString(kollab.SuccessCriteria); n < 10 || n > 2000 {
		issues = append(issues, "successCriteria must be between 10 and 2000 characters")
	}
	if _, ok := kollabStatuses[kollab.Status]; !ok {
		issues = append(issues, "status must be one of active, completed, cancelled")
	}
	if len(issues) > 0 {
		return validationError(strings.Join(issues, ", "))
	}
	return nil
}

// checkWhitespace rejects values that were sent but trim to nothing with 422;
// absent or too-short values fall through to the 400 length checks.
func checkWhitespace(raw, message string) *DomainError {
	if raw != "" && strings.TrimSpace(raw) == "" {
		return unprocessable(message)
	}
	return nil
}

func checkParticipantsWhitespace(participants []string) *DomainError {
	for _, participant := range participants {
		if participant != "" && strings.TrimSpace(participant) == "" {
			return unprocessable("Participant names cannot be whitespace only")
		}
	}
	return nil
}

func firstIssue(issues ...*DomainError) error {
	for _, issue := range issues {
		if issue != nil {
			return issue
		}
	}
	return nil
}

func trimAll(values []string) []string {
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		trimmed = append(trimmed, strings.TrimSpace(value))
	}
	return trimmed
}

func duplicateActiveKollab() *DomainError {
	return conflict("Duplicate active Kollab not allowed", map[string]any{
		"error": "active Kollab already exists",
	})
}

// mapStoreWriteError re-surfaces persistence-level validation failures
// (CHECK constraint rejections) as Validation errors; anything else passes
// through for the HTTP layer's generic handling.
func mapStoreWriteError(err error) error {
	if errors.Is(err, store.ErrCheckViolation) {
		return validationError("status is not a valid enum value")
	}
	return err
}

// ── Payloads ──

func ideaJSON(idea store.Idea) map[string]any {
	return map[string]any{
		"id":              idea.ID,
		"title":           idea.Title,
		"description":     idea.Description,
		"createdBy":       idea.CreatedBy,
		"status":          idea.Status,
		"hasActiveKollab": idea.HasActiveKollab,
		"createdAt":       idea.CreatedAt,
		"updatedAt":       idea.UpdatedAt,
	}
}

func kollabJSON(kollab store.Kollab) map[string]any {
	discussions := kollab.Discussions
	if discussions == nil {
		discussions = []store.Discussion{}
	}
	payload := map[string]any{
		"id":              kollab.ID,
		"ideaId":          kollab.IdeaID,
		"goal":            kollab.Goal,
		"participants":    kollab.Participants,
		"successCriteria": kollab.SuccessCriteria,
		"status":          kollab.Status,
		"discussions":     discussions,
		"createdAt":       kollab.CreatedAt,
		"updatedAt":       kollab.UpdatedAt,
	}
	if kollab.Idea != nil {
		payload["idea"] = kollab.Idea
	}
	return payload
}

func discussionJSON(discussion store.Discussion) map[string]any {
	return map[string]any{
		"id":        discussion.ID,
		"message":   discussion.Message,
		"author":    discussion.Author,
		"parentId":  discussion.ParentID,
		"createdAt": discussion.CreatedAt,
	}
}

func paginationJSON(totalItems, page, pageSize int) map[string]any {
	totalPages := 0
	if totalItems > 0 {
		totalPages = (totalItems + pageSize - 1) / pageSize
	}
	return map[string]any{
		"currentPage":     page,
		"pageSize":        pageSize,
		"totalPages":      totalPages,
		"totalItems":      totalItems,
		"hasNextPage":     page < totalPages,
		"hasPreviousPage": page > 1,
	}
}
