package telegram

import (
	"sort"
	"sync"

	"github.com/chatmirror/chatmirror/internal/platform"
)

// journal is the per-chat message buffer fed by the update stream. It keeps
// messages ordered by platform id so pagination windows are stable.
type journal struct {
	mu    sync.RWMutex
	chats map[int64][]platform.Message
}

func newJournal() *journal {
	return &journal{chats: make(map[int64][]platform.Message)}
}

// record inserts or replaces a message in its chat's buffer. Edits arrive as
// updates with an existing id; last write wins.
func (j *journal) record(msg platform.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()
	buf := j.chats[msg.ChatID]
	idx := sort.Search(len(buf), func(i int) bool { return buf[i].ID >= msg.ID })
	if idx < len(buf) && buf[idx].ID == msg.ID {
		buf[idx] = msg
		return
	}
	buf = append(buf, platform.Message{})
	copy(buf[idx+1:], buf[idx:])
	buf[idx] = msg
	j.chats[msg.ChatID] = buf
}

// window returns one pagination window over a chat's buffer, applying the
// id and time bounds before offset/limit.
func (j *journal) window(chatID int64, opts platform.HistoryOptions) []platform.Message {
	j.mu.RLock()
	defer j.mu.RUnlock()
	buf := j.chats[chatID]
	bounded := make([]platform.Message, 0, len(buf))
	for _, msg := range buf {
		if opts.InWindow(msg) {
			bounded = append(bounded, msg)
		}
	}
	if opts.Offset >= len(bounded) {
		return nil
	}
	bounded = bounded[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(bounded) {
		bounded = bounded[:opts.Limit]
	}
	out := make([]platform.Message, len(bounded))
	copy(out, bounded)
	return out
}
