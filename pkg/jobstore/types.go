package jobstore

import (
	"errors"
	"time"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Status is the lifecycle state of a job.
//
// NOTE: These values are persisted in the jobs table and are part of the
// stable client-facing contract. Transitions are monotone:
//
//	uploaded -> processing -> completed | error
//
// A terminal row is never updated again.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// JobView is the read model returned to callers. Rows are only ever
// mutated through the Store's transition methods.
type JobView struct {
	JobID            int64
	OwnerID          int64
	Status           Status
	OriginalFilename string
	SourceKey        string
	ResultKey        string
	BackendClass     variant.BackendClass
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Owner is a requesting principal. Owners are reseeded by Reset and must
// pre-exist before a job can be created for them.
type Owner struct {
	OwnerID  int64
	Username string
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrUnknownOwner indicates the owner row does not exist.
	ErrUnknownOwner = errors.New("unknown owner")

	// ErrNoSuchSource indicates no job row matches a source key. This is
	// surfaced for triggers referencing untracked objects; callers log it
	// and continue.
	ErrNoSuchSource = errors.New("no job for source key")

	// ErrAlreadyTerminal indicates a completed/error row rejected a
	// further terminal transition. Duplicate trigger deliveries land
	// here; the first recorded result always wins.
	ErrAlreadyTerminal = errors.New("job already in terminal state")
)
