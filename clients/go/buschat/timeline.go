package buschat

import (
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntryState tracks an entry's delivery state in the local timeline.
type EntryState string

const (
	// EntryConfirmed means the server assigned the message its id.
	EntryConfirmed EntryState = "confirmed"
	// EntryPending is an optimistic local echo awaiting the server ack.
	EntryPending EntryState = "pending"
	// EntryFailed is a local echo whose send did not go through.
	EntryFailed EntryState = "failed"
)

// Entry is one row of the rendered timeline: either a confirmed server
// message or a locally echoed send identified by its temp id.
type Entry struct {
	// ID is the server-assigned message id; zero while pending/failed.
	ID int64
	// TempID is the local placeholder id; empty once confirmed.
	TempID     string
	SenderType string
	Content    string
	SentAt     time.Time
	State      EntryState
}

// Timeline merges polled message batches and optimistic local sends into
// a single ordered view. Merging is idempotent: a message id is applied
// at most once no matter how many overlapping batches deliver it, so a
// full-log reconcile pass and the incremental poll can run concurrently
// without duplicating rows. The watermark only ever advances.
type Timeline struct {
	entries   []Entry
	seen      map[int64]bool
	pending   map[string]int // temp id -> index into entries
	watermark int64
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		seen:    make(map[int64]bool),
		pending: make(map[string]int),
	}
}

// Watermark returns the highest message id applied so far. It is the
// after_id for the next incremental poll.
func (t *Timeline) Watermark() int64 {
	return t.watermark
}

// Entries returns a snapshot of the timeline in display order:
// confirmed messages by ascending id, local echoes at their insertion
// point.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Apply merges a polled batch. Messages already present are skipped, new
// ones are inserted in id order, and the watermark advances to the
// batch's maximum id. Batches may overlap or arrive out of order; a
// batch from before the watermark (a reconcile pass) adds only what is
// genuinely missing and never removes or reorders existing rows.
func (t *Timeline) Apply(batch []Message) {
	fresh := make([]Message, 0, len(batch))
	for _, m := range batch {
		if m.ID <= 0 || t.seen[m.ID] {
			continue
		}
		t.seen[m.ID] = true
		fresh = append(fresh, m)
		if m.ID > t.watermark {
			t.watermark = m.ID
		}
	}
	if len(fresh) == 0 {
		return
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	for _, m := range fresh {
		t.insert(Entry{
			ID:         m.ID,
			SenderType: m.SenderType,
			Content:    m.Content,
			SentAt:     m.SentAt,
			State:      EntryConfirmed,
		})
	}
}

// insert places a confirmed entry before the first confirmed entry with
// a larger id. Pending echoes keep their position.
func (t *Timeline) insert(e Entry) {
	pos := len(t.entries)
	for i := len(t.entries) - 1; i >= 0; i-- {
		cur := t.entries[i]
		if cur.State == EntryConfirmed && cur.ID < e.ID {
			pos = i + 1
			break
		}
		if i == 0 {
			pos = 0
		}
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = e
	t.reindex()
}

func (t *Timeline) reindex() {
	for i, e := range t.entries {
		if e.TempID != "" {
			t.pending[e.TempID] = i
		}
	}
}

// AddPlaceholder appends an optimistic local echo for an outgoing send
// and returns its temp id.
func (t *Timeline) AddPlaceholder(senderType, content string) string {
	tempID := "temp-" + ulid.Make().String()
	t.entries = append(t.entries, Entry{
		TempID:     tempID,
		SenderType: senderType,
		Content:    content,
		SentAt:     time.Now(),
		State:      EntryPending,
	})
	t.pending[tempID] = len(t.entries) - 1
	return tempID
}

// Confirm resolves a placeholder with the server-assigned id. If a poll
// already delivered the real message (the ack raced the poll), the
// placeholder is simply dropped. Confirming an unknown or already
// resolved temp id is a no-op, but the id is still recorded so the
// duplicate cannot reappear through a later poll.
func (t *Timeline) Confirm(tempID string, id int64, sentAt time.Time) {
	idx, ok := t.pending[tempID]
	if !ok {
		if id > 0 {
			t.markSeen(id)
		}
		return
	}
	delete(t.pending, tempID)

	if t.seen[id] {
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
		t.reindex()
		return
	}
	t.markSeen(id)

	e := t.entries[idx]
	e.ID = id
	e.TempID = ""
	e.SentAt = sentAt
	e.State = EntryConfirmed
	t.entries[idx] = e
}

func (t *Timeline) markSeen(id int64) {
	t.seen[id] = true
	if id > t.watermark {
		t.watermark = id
	}
}

// Fail marks a placeholder as failed so the UI can offer a retry. The
// entry stays in place; retrying is a fresh send.
func (t *Timeline) Fail(tempID string) {
	idx, ok := t.pending[tempID]
	if !ok {
		return
	}
	delete(t.pending, tempID)
	t.entries[idx].State = EntryFailed
}
