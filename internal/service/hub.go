package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/observability"
)

const hubUrgentLaneSize = 8

// Hub fans out full-state snapshots to live subscribers: the complete room
// list for a user, or the complete message sequence of a room. Subscribers
// always replace their local state, so the hub coalesces pending normal
// snapshots latest-wins. Emergency snapshots travel a dedicated lane that
// skips coalescing and is drained ahead of the normal lane.
type Hub struct {
	mu       sync.Mutex
	roomSubs map[string]map[*hubSubscriber]struct{}
	listSubs map[string]map[*hubSubscriber]struct{}
	versions map[string]int64
	logger   zerolog.Logger
}

// NewHub constructs an empty subscription hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		roomSubs: make(map[string]map[*hubSubscriber]struct{}),
		listSubs: make(map[string]map[*hubSubscriber]struct{}),
		versions: make(map[string]int64),
		logger:   logger.With().Str("component", "subscription_hub").Logger(),
	}
}

type hubSnapshot struct {
	version  int64
	urgent   bool
	rooms    []dto.ChatRoomResponse
	messages []dto.ChatMessageResponse
}

type hubSubscriber struct {
	deliver func(hubSnapshot)
	normal  chan hubSnapshot
	urgent  chan hubSnapshot
	done    chan struct{}
	once    sync.Once
}

func newHubSubscriber(deliver func(hubSnapshot)) *hubSubscriber {
	return &hubSubscriber{
		deliver: deliver,
		normal:  make(chan hubSnapshot, 1),
		urgent:  make(chan hubSnapshot, hubUrgentLaneSize),
		done:    make(chan struct{}),
	}
}

// run is the single delivery goroutine for one subscriber. One goroutine per
// subscriber keeps per-room delivery ordered; the version guard drops stale
// snapshots so a newer state is never followed by an older one.
func (s *hubSubscriber) run() {
	var delivered int64
	for {
		select {
		case <-s.done:
			return
		case snap := <-s.urgent:
			if snap.version > delivered {
				s.deliver(snap)
				delivered = snap.version
			}
		case snap := <-s.normal:
			// Coalesce any backlog; only the newest pending state matters.
			for drained := false; !drained; {
				select {
				case next := <-s.normal:
					snap = next
				default:
					drained = true
				}
			}
			// A pending emergency must be observed no later than this
			// normal notification.
			select {
			case u := <-s.urgent:
				if u.version > delivered {
					s.deliver(u)
					delivered = u.version
				}
			default:
			}
			if snap.version > delivered {
				s.deliver(snap)
				delivered = snap.version
			}
		}
	}
}

// offer hands a snapshot to the subscriber without ever blocking the
// publisher. Offers after close are dropped silently.
func (s *hubSubscriber) offer(snap hubSnapshot) {
	select {
	case <-s.done:
		return
	default:
	}

	if snap.urgent {
		select {
		case s.urgent <- snap:
			return
		default:
			// Urgent lane saturated; fall through to the normal lane so the
			// state still lands with the next delivery.
		}
	}

	for {
		select {
		case <-s.done:
			return
		case s.normal <- snap:
			return
		default:
			// Displace the stale pending snapshot.
			select {
			case <-s.normal:
			default:
			}
		}
	}
}

func (s *hubSubscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// SubscribeRooms registers a callback for the full room list of a user. The
// returned cancel is idempotent; a delivery already in flight when cancel is
// called may still run once.
func (h *Hub) SubscribeRooms(userID string, fn func([]dto.ChatRoomResponse)) func() {
	sub := newHubSubscriber(func(snap hubSnapshot) { fn(snap.rooms) })
	h.register(h.listSubs, userID, sub)
	return h.cancelFunc(h.listSubs, userID, sub)
}

// SubscribeMessages registers a callback for the full message sequence of a
// room, with the same cancel semantics as SubscribeRooms.
func (h *Hub) SubscribeMessages(roomID string, fn func([]dto.ChatMessageResponse)) func() {
	sub := newHubSubscriber(func(snap hubSnapshot) { fn(snap.messages) })
	h.register(h.roomSubs, roomID, sub)
	return h.cancelFunc(h.roomSubs, roomID, sub)
}

// PublishRoomList pushes the current room list of a user to its subscribers.
func (h *Hub) PublishRoomList(userID string, rooms []dto.ChatRoomResponse) {
	snap := hubSnapshot{rooms: rooms}
	h.publish(h.listSubs, "user", userID, snap)
}

// PublishMessages pushes the current message sequence of a room. Urgent
// snapshots bypass coalescing and are delivered ahead of queued normal ones.
func (h *Hub) PublishMessages(roomID string, messages []dto.ChatMessageResponse, urgent bool) {
	snap := hubSnapshot{messages: messages, urgent: urgent}
	h.publish(h.roomSubs, "room", roomID, snap)
}

func (h *Hub) register(subs map[string]map[*hubSubscriber]struct{}, key string, sub *hubSubscriber) {
	h.mu.Lock()
	set, ok := subs[key]
	if !ok {
		set = make(map[*hubSubscriber]struct{})
		subs[key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	observability.HubSubscribersActive().Inc()
	go sub.run()
}

func (h *Hub) cancelFunc(subs map[string]map[*hubSubscriber]struct{}, key string, sub *hubSubscriber) func() {
	return func() {
		sub.close()

		h.mu.Lock()
		removed := false
		if set, ok := subs[key]; ok {
			if _, present := set[sub]; present {
				delete(set, sub)
				removed = true
				if len(set) == 0 {
					delete(subs, key)
				}
			}
		}
		h.mu.Unlock()

		if removed {
			observability.HubSubscribersActive().Dec()
		}
	}
}

func (h *Hub) publish(subs map[string]map[*hubSubscriber]struct{}, kind, key string, snap hubSnapshot) {
	versionKey := kind + ":" + key

	h.mu.Lock()
	h.versions[versionKey]++
	snap.version = h.versions[versionKey]
	set := subs[key]
	targets := make([]*hubSubscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.offer(snap)
	}
}
