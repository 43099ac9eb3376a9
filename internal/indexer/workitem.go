package indexer

import (
	"fmt"
	"time"

	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// ActionType is the closed set of work-item actions.
type ActionType string

const (
	// ActionCreateUpdate fetches the business card and writes it to the index.
	ActionCreateUpdate ActionType = "create-update"
	// ActionDelete removes the participant from the index.
	ActionDelete ActionType = "delete"
	// ActionSync reconciles the index with the provider's current state.
	ActionSync ActionType = "sync"
)

// ParseActionType converts the string form back to an ActionType.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionCreateUpdate, ActionDelete, ActionSync:
		return ActionType(s), nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// IsValid reports whether the action is one of the closed set.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionCreateUpdate, ActionDelete, ActionSync:
		return true
	}
	return false
}

// WorkItem is one unit of indexing work. Immutable once created.
type WorkItem struct {
	Participant    identifier.ParticipantID
	Action         ActionType
	OwnerID        string
	RequestingHost string
	CreatedAt      time.Time
}

// NewWorkItem builds a work item stamped with the current time.
func NewWorkItem(id identifier.ParticipantID, action ActionType, ownerID, requestingHost string) WorkItem {
	return WorkItem{
		Participant:    id,
		Action:         action,
		OwnerID:        ownerID,
		RequestingHost: requestingHost,
		CreatedAt:      time.Now().UTC(),
	}
}

// DedupKey is the identity of a work item for duplicate suppression:
// participant plus action, deliberately ignoring owner and host. Two items
// with the same key are the same unit of work.
type DedupKey struct {
	Participant string
	Action      ActionType
}

// DedupKey returns the item's dedup identity.
func (w WorkItem) DedupKey() DedupKey {
	return DedupKey{Participant: w.Participant.String(), Action: w.Action}
}

// String is the serialized key form used in durable storage.
func (k DedupKey) String() string {
	return k.Participant + "|" + string(k.Action)
}

// ReIndexItem wraps a failed work item with its retry bookkeeping.
type ReIndexItem struct {
	Item WorkItem

	// RetryCount is incremented on each failed scheduled retry.
	RetryCount int

	// FirstFailure is when the item entered the re-index list.
	FirstFailure time.Time

	// PreviousRetry is the time of the last failed retry, nil before the
	// first retry.
	PreviousRetry *time.Time

	// MaxRetry is the expiry deadline; past it the item moves to the dead
	// list.
	MaxRetry time.Time
}

// NewReIndexItem wraps a work item that just failed its first execution.
func NewReIndexItem(item WorkItem, now time.Time, expiryWindow time.Duration) *ReIndexItem {
	return &ReIndexItem{
		Item:         item,
		FirstFailure: now,
		MaxRetry:     now.Add(expiryWindow),
	}
}

// IsExpired reports whether the retry window has closed.
func (r *ReIndexItem) IsExpired(now time.Time) bool {
	return now.After(r.MaxRetry)
}

// IsRetryDue reports whether the next scheduled retry time has arrived.
func (r *ReIndexItem) IsRetryDue(now time.Time, interval time.Duration) bool {
	base := r.FirstFailure
	if r.PreviousRetry != nil {
		base = *r.PreviousRetry
	}
	return !now.Before(base.Add(interval))
}

// MarkRetried records one more failed retry.
func (r *ReIndexItem) MarkRetried(now time.Time) {
	r.RetryCount++
	t := now
	r.PreviousRetry = &t
}
