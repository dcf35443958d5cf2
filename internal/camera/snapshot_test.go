package camera

import (
	"bytes"
	"testing"
)

func TestSnapshotHandler(t *testing.T) {
	var forwarded [][]byte
	next := FrameHandlerFunc(func(payload []byte) {
		forwarded = append(forwarded, payload)
	})
	snap := NewSnapshotHandler(next)

	if _, _, ok := snap.Latest(); ok {
		t.Error("Expected no snapshot before the first frame")
	}

	buf := []byte{1, 2, 3, 4}
	snap.Deliver(buf)

	// 配信側がバッファを書き換えても保存済みのフレームは変わらない
	buf[0] = 9

	frame, at, ok := snap.Latest()
	if !ok {
		t.Fatal("Expected snapshot after delivery")
	}
	if !bytes.Equal(frame, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected copied payload, got %v", frame)
	}
	if at.IsZero() {
		t.Error("Expected receive time to be set")
	}

	// 返されたコピーを書き換えても内部状態に影響しない
	frame[1] = 7
	again, _, _ := snap.Latest()
	if again[1] != 2 {
		t.Errorf("Expected internal buffer to be isolated, got %v", again)
	}

	// 短いフレームでバッファが縮む
	snap.Deliver([]byte{5})
	frame, _, _ = snap.Latest()
	if !bytes.Equal(frame, []byte{5}) {
		t.Errorf("Expected latest frame [5], got %v", frame)
	}

	if snap.Count() != 2 {
		t.Errorf("Expected 2 frames, got %d", snap.Count())
	}
	if len(forwarded) != 2 {
		t.Errorf("Expected 2 forwarded frames, got %d", len(forwarded))
	}
}

func TestSnapshotHandler_NilNext(t *testing.T) {
	snap := NewSnapshotHandler(nil)
	snap.Deliver([]byte{1})
	if snap.Count() != 1 {
		t.Errorf("Expected 1 frame, got %d", snap.Count())
	}
}
