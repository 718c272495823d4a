package repositories

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by repository methods when the requested record
// does not exist in the database. Callers should check for this error
// explicitly using errors.Is to distinguish missing records from other
// database errors.
//
//	tmpl, err := repo.GetByID(ctx, id)
//	if errors.Is(err, repositories.ErrNotFound) {
//	    handle not found
//	}
var ErrNotFound = errors.New("record not found")

// ErrDuplicateName is returned when a create or update would violate a
// unique-name constraint (templates, groups, credentials, scheduled jobs,
// users). The duplicate name is included in the wrapping message.
var ErrDuplicateName = errors.New("name already exists")

// ErrEmptyTarget is returned when a run request resolves to zero hosts.
var ErrEmptyTarget = errors.New("no target hosts resolved")

// InUseError is returned when a delete is refused because other records
// still reference the target. Dependents carries the names of the
// referencing records so the caller can surface them verbatim.
type InUseError struct {
	Resource   string   // e.g. "template"
	Name       string   // name of the record being deleted
	Dependents []string // names of referencing records
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s %q is referenced by scheduled jobs: %s",
		e.Resource, e.Name, strings.Join(e.Dependents, ", "))
}
