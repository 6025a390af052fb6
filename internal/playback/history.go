package playback

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"flowstate/internal/domain"
)

const DefaultHistorySize = 3

// History keeps the most recent translations, newest first.
type History struct {
	mu       sync.Mutex
	capacity int
	entries  []domain.TranslationEntry
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity}
}

// Push records text and evicts the oldest entry beyond capacity. Blank text is ignored.
func (h *History) Push(text string, at time.Time) (domain.TranslationEntry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TranslationEntry{}, false
	}
	entry := domain.TranslationEntry{ID: uuid.NewString(), Text: text, ReceivedAt: at}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]domain.TranslationEntry{entry}, h.entries...)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[:h.capacity]
	}
	return entry, true
}

func (h *History) Entries() []domain.TranslationEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.TranslationEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Texts() []string {
	return lo.Map(h.Entries(), func(entry domain.TranslationEntry, _ int) string {
		return entry.Text
	})
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) Capacity() int {
	return h.capacity
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
