package service

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/railguard/railcomm-api/internal/dto"
)

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots [][]dto.ChatMessageResponse
}

func (r *snapshotRecorder) record(messages []dto.ChatMessageResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, messages)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *snapshotRecorder) last() []dto.ChatMessageResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func messageSeq(roomID string, count int) []dto.ChatMessageResponse {
	out := make([]dto.ChatMessageResponse, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, dto.ChatMessageResponse{
			ID:        uint(i),
			RoomID:    roomID,
			Timestamp: int64(i * 1000),
		})
	}
	return out
}

func TestHubDeliversLatestMessageSnapshot(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	recorder := &snapshotRecorder{}

	cancel := hub.SubscribeMessages("room_12345_NDLS", recorder.record)
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.PublishMessages("room_12345_NDLS", messageSeq("room_12345_NDLS", i), false)
	}

	require.Eventually(t, func() bool {
		last := recorder.last()
		return len(last) == 5
	}, time.Second, 5*time.Millisecond, "subscriber must converge on the newest snapshot")
}

func TestHubSnapshotLengthsNeverRegress(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	recorder := &snapshotRecorder{}

	cancel := hub.SubscribeMessages("room_1", recorder.record)
	defer cancel()

	for i := 1; i <= 50; i++ {
		hub.PublishMessages("room_1", messageSeq("room_1", i), false)
	}

	require.Eventually(t, func() bool {
		return len(recorder.last()) == 50
	}, time.Second, 5*time.Millisecond)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for i := 1; i < len(recorder.snapshots); i++ {
		require.GreaterOrEqual(t, len(recorder.snapshots[i]), len(recorder.snapshots[i-1]),
			"a newer snapshot must never be followed by an older one")
	}
}

func TestHubUrgentSkipsQueuedNormalSnapshots(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	gate := make(chan struct{})
	recorder := &snapshotRecorder{}
	first := true

	cancel := hub.SubscribeMessages("room_1", func(messages []dto.ChatMessageResponse) {
		if first {
			first = false
			recorder.record(messages)
			<-gate // hold the delivery goroutine while more snapshots queue up
			return
		}
		recorder.record(messages)
	})
	defer cancel()

	hub.PublishMessages("room_1", messageSeq("room_1", 1), false)
	require.Eventually(t, func() bool { return recorder.count() == 1 }, time.Second, time.Millisecond)

	// Queue a normal snapshot behind the blocked delivery, then an urgent one.
	hub.PublishMessages("room_1", messageSeq("room_1", 2), false)
	urgentSeq := messageSeq("room_1", 3)
	urgentSeq[2].Type = "emergency"
	hub.PublishMessages("room_1", urgentSeq, true)

	close(gate)

	require.Eventually(t, func() bool { return recorder.count() >= 2 }, time.Second, time.Millisecond)

	recorder.mu.Lock()
	second := recorder.snapshots[1]
	recorder.mu.Unlock()
	require.Len(t, second, 3, "urgent snapshot must be observed no later than the queued normal one")
	require.Equal(t, "emergency", second[2].Type)
}

func TestHubCancelIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	recorder := &snapshotRecorder{}

	cancel := hub.SubscribeMessages("room_1", recorder.record)

	hub.PublishMessages("room_1", messageSeq("room_1", 1), false)
	require.Eventually(t, func() bool { return recorder.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	cancel() // second cancel is a no-op

	hub.PublishMessages("room_1", messageSeq("room_1", 2), false)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, recorder.count(), "publishes after cancel are dropped")
}

func TestHubRoomListSubscription(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	var mu sync.Mutex
	var received []dto.ChatRoomResponse

	cancel := hub.SubscribeRooms("driver_001", func(rooms []dto.ChatRoomResponse) {
		mu.Lock()
		received = rooms
		mu.Unlock()
	})
	defer cancel()

	hub.PublishRoomList("driver_001", []dto.ChatRoomResponse{{ID: "room_12345_NDLS"}})
	hub.PublishRoomList("admin_001", []dto.ChatRoomResponse{{ID: "room_other"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0].ID == "room_12345_NDLS"
	}, time.Second, time.Millisecond, "only the subscribed user's list is delivered")
}
