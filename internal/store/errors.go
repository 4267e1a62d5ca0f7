package store

import (
	"errors"
	"fmt"
)

// Failures the service layer translates into domain errors. Missing records
// surface as sql.ErrNoRows, matching the rest of the query layer.
var (
	// ErrDuplicateActiveKollab reports a violation of the
	// kollabs_idea_active_uniq partial unique index: the idea already has an
	// active kollab.
	ErrDuplicateActiveKollab = errors.New("active kollab already exists for idea")

	// ErrIdeaHasActiveKollab blocks deleting an idea an active kollab
	// references.
	ErrIdeaHasActiveKollab = errors.New("idea has an active kollab")

	// ErrKollabActive blocks deleting a kollab while it is active.
	ErrKollabActive = errors.New("kollab is active")

	// ErrDiscussionLimit rejects appends past MaxDiscussions.
	ErrDiscussionLimit = errors.New("discussion limit reached")

	// ErrParentDiscussionNotFound rejects a parentId that is not in the
	// target kollab's own discussion list.
	ErrParentDiscussionNotFound = errors.New("parent discussion not found")

	// ErrCheckViolation re-surfaces a row that failed a table CHECK
	// constraint, i.e. a status outside its enum.
	ErrCheckViolation = errors.New("row violates a check constraint")
)

// NotActiveError reports an append against a kollab that is not active,
// carrying the status observed inside the append transaction.
type NotActiveError struct {
	Status string
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("kollab is %s, not active", e.Status)
}
