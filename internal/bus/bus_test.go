package bus

import "testing"

type fakeSub struct {
	id       string
	received []any
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Deliver(msg any) bool {
	f.received = append(f.received, msg)
	return true
}

func TestPublishDeliversToAllRoomMembers(t *testing.T) {
	b := New()
	a := &fakeSub{id: "a"}
	c := &fakeSub{id: "b"}
	b.Subscribe(RoomMatch("m1"), a)
	b.Subscribe(RoomMatch("m1"), c)

	b.Publish(RoomMatch("m1"), "hello")

	if len(a.received) != 1 || len(c.received) != 1 {
		t.Fatalf("expected both subscribers to receive, got a=%v b=%v", a.received, c.received)
	}
}

func TestUnsubscribeRemovesRoomWhenEmpty(t *testing.T) {
	b := New()
	a := &fakeSub{id: "a"}
	room := RoomLobby("l1")
	b.Subscribe(room, a)
	if b.MemberCount(room) != 1 {
		t.Fatal("expected one member")
	}
	b.Unsubscribe(room, a)
	if b.MemberCount(room) != 0 {
		t.Fatal("expected room emptied and removed")
	}
}

func TestUnsubscribeAllRemovesFromEveryRoom(t *testing.T) {
	b := New()
	a := &fakeSub{id: "a"}
	b.Subscribe(RoomMatch("m1"), a)
	b.Subscribe(RoomUser("u1"), a)

	b.UnsubscribeAll(a)

	if b.MemberCount(RoomMatch("m1")) != 0 || b.MemberCount(RoomUser("u1")) != 0 {
		t.Fatal("expected a removed from all rooms")
	}
}

func TestPublishToRoomWithNoSubscribersIsANoop(t *testing.T) {
	b := New()
	b.Publish(RoomMatch("nonexistent"), "hi") // must not panic
}
