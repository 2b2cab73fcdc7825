package session

import (
	"github.com/ashureev/codetutor/internal/domain"
)

// turnRing is a fixed-size circular buffer of conversation turns. When full,
// a push overwrites the oldest turn. Callers synchronize access.
type turnRing struct {
	buf  []domain.ConversationTurn
	head int // next write position
	n    int
}

func newTurnRing(size int) *turnRing {
	if size <= 0 {
		size = 10
	}
	return &turnRing{buf: make([]domain.ConversationTurn, size)}
}

func (r *turnRing) push(t domain.ConversationTurn) {
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// last returns up to k most recent turns, oldest first.
func (r *turnRing) last(k int) []domain.ConversationTurn {
	if k > r.n {
		k = r.n
	}
	if k <= 0 {
		return []domain.ConversationTurn{}
	}
	out := make([]domain.ConversationTurn, k)
	start := (r.head - k + len(r.buf)) % len(r.buf)
	for i := 0; i < k; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *turnRing) len() int { return r.n }

func (r *turnRing) capacity() int { return len(r.buf) }
