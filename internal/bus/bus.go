// Package bus implements the Room Bus (C10): pub/sub of typed messages
// addressed to rooms (`lobby:{id}`, `match:{id}`, `user:{id}`). It is the
// sole outbound path from action handlers and the scheduler to sockets;
// Connection Registry subscribers never write to each other directly.
// Grounded on the poker-tower-defense reference's Hub — Clients/Rooms maps
// plus Register/Unregister/Broadcast channels — the closest same-genre
// (card game over websockets) hub in the retrieved pack.
package bus

import "sync"

// Subscriber is anything that can receive a published message. The
// Connection Registry's per-connection send queue implements this.
type Subscriber interface {
	// ID identifies the subscriber for unsubscribe/dedup purposes.
	ID() string
	// Deliver enqueues msg for this subscriber. It must not block; a
	// subscriber backed by a bounded queue returns false on overflow.
	// Publish ignores the result, so overflow handling is the
	// subscriber's own.
	Deliver(msg any) bool
}

// Bus is the concurrent room registry. One Bus instance serves the whole
// process; rooms are created lazily on first subscribe and removed when
// empty.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{rooms: make(map[string]map[string]Subscriber)}
}

// Subscribe adds sub to room.
func (b *Bus) Subscribe(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]Subscriber)
		b.rooms[room] = members
	}
	members[sub.ID()] = sub
}

// Unsubscribe removes sub from room, deleting the room if it becomes
// empty.
func (b *Bus) Unsubscribe(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(members, sub.ID())
	if len(members) == 0 {
		delete(b.rooms, room)
	}
}

// UnsubscribeAll removes sub from every room it belongs to (called on
// connection close so room membership never outlives the socket).
func (b *Bus) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room, members := range b.rooms {
		if _, ok := members[sub.ID()]; ok {
			delete(members, sub.ID())
			if len(members) == 0 {
				delete(b.rooms, room)
			}
		}
	}
}

// Publish delivers msg to every current subscriber of room, taken from a
// snapshot of the membership. The order across subscribers follows map
// iteration and is not fixed; what the protocol needs is per-room
// per-publisher ordering for each subscriber, which holds as long as the
// caller serializes its own Publish calls — which the match scheduler
// does by construction (single writer per match).
func (b *Bus) Publish(room string, msg any) {
	b.mu.RLock()
	members := b.rooms[room]
	snapshot := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.Deliver(msg)
	}
}

// RoomMatch returns the canonical match room address.
func RoomMatch(matchID string) string { return "match:" + matchID }

// RoomLobby returns the canonical lobby room address.
func RoomLobby(lobbyID string) string { return "lobby:" + lobbyID }

// RoomUser returns the canonical per-user room address.
func RoomUser(userID string) string { return "user:" + userID }

// MemberCount reports how many subscribers are in room, for tests and
// health surfaces.
func (b *Bus) MemberCount(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}
