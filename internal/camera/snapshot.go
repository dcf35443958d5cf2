package camera

import (
	"sync"
	"time"
)

// SnapshotHandler は最新フレームのコピーを保持する FrameHandler
//
// 受け取った payload はその場でコピーするため、配信側のバッファを保持しない。
type SnapshotHandler struct {
	mu     sync.RWMutex
	latest []byte
	at     time.Time
	count  uint64

	next FrameHandler
}

// NewSnapshotHandler は新しいSnapshotHandlerを作成する
// next が nil でなければ、保存後に同じ payload をそのまま渡す
func NewSnapshotHandler(next FrameHandler) *SnapshotHandler {
	return &SnapshotHandler{next: next}
}

// Deliver は payload をコピーして保存する
func (s *SnapshotHandler) Deliver(payload []byte) {
	s.mu.Lock()
	// 前回のバッファが十分なら再利用する
	if cap(s.latest) >= len(payload) {
		s.latest = s.latest[:len(payload)]
	} else {
		s.latest = make([]byte, len(payload))
	}
	copy(s.latest, payload)
	s.at = time.Now()
	s.count++
	s.mu.Unlock()

	if s.next != nil {
		s.next.Deliver(payload)
	}
}

// Latest は最新フレームのコピーと受信時刻を返す
// まだフレームが無い場合は ok が false になる
func (s *SnapshotHandler) Latest() (frame []byte, at time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil, time.Time{}, false
	}

	frame = make([]byte, len(s.latest))
	copy(frame, s.latest)
	return frame, s.at, true
}

// Count は受信したフレーム数を返す
func (s *SnapshotHandler) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
