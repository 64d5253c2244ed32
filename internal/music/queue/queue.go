package queue

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// LoadingTitle is shown for entries whose resolution has not finished.
const LoadingTitle = "Loading…"

type Kind int

const (
	Pending Kind = iota
	Resolved
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Origin tells the session who owns a resolved file.
type Origin int

const (
	// OriginCache files live in the cache directory and are registered in the LRU.
	OriginCache Origin = iota
	// OriginTemp files are ephemeral and deleted once played or discarded.
	OriginTemp
	// OriginLocal files were supplied by the user and are never deleted.
	OriginLocal
)

func (o Origin) String() string {
	switch o {
	case OriginCache:
		return "cache"
	case OriginTemp:
		return "temp"
	case OriginLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Entry is one queued track. Kind selects which fields are meaningful:
// a Pending entry only carries ID, Query, Title and RequestedBy.
type Entry struct {
	ID          string
	Kind        Kind
	Query       string
	Title       string
	RequestedBy string

	Uploader string
	MediaID  string
	Path     string
	Duration time.Duration
	Size     int64
	Origin   Origin
}

// Resolution is the outcome of resolving a Pending entry.
type Resolution struct {
	Title    string
	Uploader string
	MediaID  string
	Path     string
	Duration time.Duration
	Size     int64
	Origin   Origin
}

// NewPending returns a placeholder for query with a fresh identity.
func NewPending(query, requestedBy string) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Kind:        Pending,
		Query:       query,
		Title:       LoadingTitle,
		RequestedBy: requestedBy,
	}
}

func (e Entry) IsPending() bool { return e.Kind == Pending }

// Resolve returns the Resolved form of e, keeping its identity and query.
func (e Entry) Resolve(r Resolution) Entry {
	title := r.Title
	if title == "" {
		title = e.Query
	}
	return Entry{
		ID:          e.ID,
		Kind:        Resolved,
		Query:       e.Query,
		Title:       title,
		RequestedBy: e.RequestedBy,
		Uploader:    r.Uploader,
		MediaID:     r.MediaID,
		Path:        r.Path,
		Duration:    r.Duration,
		Size:        r.Size,
		Origin:      r.Origin,
	}
}

// DisplayTitle renders "Uploader - Title" when the uploader is known.
func (e Entry) DisplayTitle() string {
	if e.Uploader != "" && e.Kind == Resolved {
		return e.Uploader + " - " + e.Title
	}
	return e.Title
}

// Queue is an ordered FIFO of entries. It is not safe for concurrent use;
// the owning session guards it with its own lock.
type Queue struct {
	entries []Entry
}

func New() *Queue {
	return &Queue{entries: make([]Entry, 0)}
}

func (q *Queue) Len() int { return len(q.entries) }

// Push appends e to the tail.
func (q *Queue) Push(e Entry) {
	q.entries = append(q.entries, e)
}

// Head returns the first entry without removing it.
func (q *Queue) Head() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Pop removes and returns the first entry.
func (q *Queue) Pop() (Entry, bool) {
	e, ok := q.Head()
	if !ok {
		return Entry{}, false
	}
	q.entries = q.entries[1:]
	return e, true
}

// Index returns the current position of the entry with id, or -1.
func (q *Queue) Index(id string) int {
	_, idx, _ := lo.FindIndexOf(q.entries, func(e Entry) bool { return e.ID == id })
	return idx
}

// Get looks up an entry by id.
func (q *Queue) Get(id string) (Entry, bool) {
	e, _, ok := lo.FindIndexOf(q.entries, func(e Entry) bool { return e.ID == id })
	return e, ok
}

// Replace swaps the entry with e.ID in place. It reports false if the entry
// is gone, e.g. after the queue was cleared or the entry was consumed.
func (q *Queue) Replace(e Entry) bool {
	idx := q.Index(e.ID)
	if idx < 0 {
		return false
	}
	q.entries[idx] = e
	return true
}

// Remove deletes the entry with id.
func (q *Queue) Remove(id string) (Entry, bool) {
	idx := q.Index(id)
	if idx < 0 {
		return Entry{}, false
	}
	e := q.entries[idx]
	q.entries = slices.Delete(q.entries, idx, idx+1)
	return e, true
}

// Clear empties the queue and returns what was in it.
func (q *Queue) Clear() []Entry {
	old := q.entries
	q.entries = make([]Entry, 0)
	return old
}

// Entries returns a copy of the queue contents.
func (q *Queue) Entries() []Entry {
	return slices.Clone(q.entries)
}

// Pending returns how many entries are still unresolved.
func (q *Queue) Pending() int {
	return lo.CountBy(q.entries, func(e Entry) bool { return e.IsPending() })
}
