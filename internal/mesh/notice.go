package mesh

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
)

type NoticeKind string

const (
	// NoticeReceiveOnly: local capture could not be acquired; remote audio still plays.
	NoticeReceiveOnly NoticeKind = "receive-only"
	// NoticePeerUnreachable: no media path to the peer after the retry budget.
	NoticePeerUnreachable NoticeKind = "peer-unreachable"
)

// Notice is a non-blocking, user-facing report. It never stops the mesh.
type Notice struct {
	Kind NoticeKind           `json:"kind"`
	Peer domain.ParticipantID `json:"peer,omitempty"`
	Err  string               `json:"error,omitempty"`
}

type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Notice)
}

func (n *notifier) subscribe(fn func(Notice)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Notice))
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) emit(notice Notice) {
	n.mu.Lock()
	subs := make([]func(Notice), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()
	for _, fn := range subs {
		fn(notice)
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
