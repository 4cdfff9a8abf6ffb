package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
)

func hubEvent(link, project, workspace string) *model.AnalyticsEvent {
	return &model.AnalyticsEvent{
		ID:          "01HY" + link,
		LinkID:      link,
		ProjectID:   project,
		WorkspaceID: workspace,
		EventType:   model.EventTypeClick,
		OccurredAt:  time.Now().UTC(),
	}
}

func drain(t *testing.T, s *Subscriber) []Envelope {
	t.Helper()
	var got []Envelope
	for {
		select {
		case env, ok := <-s.C():
			if !ok {
				return got
			}
			got = append(got, env)
		default:
			return got
		}
	}
}

func TestValidateRoom(t *testing.T) {
	valid := []string{"workspace:ws-1", "link:l-1", "project:p-1"}
	for _, room := range valid {
		if err := ValidateRoom(room); err != nil {
			t.Fatalf("ValidateRoom(%q) = %v", room, err)
		}
	}
	invalid := []string{"", "workspace:", "link", "user:u-1", ":id"}
	for _, room := range invalid {
		if !errors.Is(ValidateRoom(room), ErrInvalidRoom) {
			t.Fatalf("ValidateRoom(%q) should be rejected", room)
		}
	}
}

func TestBroadcast_OnlyJoinedRoomsReceive(t *testing.T) {
	hub := NewHub(nil, 8)
	sub := hub.Subscribe()
	if err := hub.Join(sub, []string{RoomLink("l-1")}); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	hub.Broadcast(hubEvent("l-2", "p-1", "ws-1"))
	if got := drain(t, sub); len(got) != 0 {
		t.Fatalf("events for other links must not reach this subscriber, got %d", len(got))
	}

	hub.Broadcast(hubEvent("l-1", "p-1", "ws-1"))
	got := drain(t, sub)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(got))
	}
	if got[0].Type != "analytics:event" || got[0].Data.LinkID != "l-1" {
		t.Fatalf("unexpected envelope %+v", got[0])
	}
}

func TestBroadcast_DedupesAcrossOverlappingRooms(t *testing.T) {
	hub := NewHub(nil, 8)
	sub := hub.Subscribe()
	err := hub.Join(sub, []string{RoomWorkspace("ws-1"), RoomLink("l-1"), RoomProject("p-1")})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	// The event scopes to all three rooms but must arrive once.
	hub.Broadcast(hubEvent("l-1", "p-1", "ws-1"))
	if got := drain(t, sub); len(got) != 1 {
		t.Fatalf("overlapping rooms must deliver exactly once, got %d", len(got))
	}
}

func TestBroadcast_IndependentSubscribers(t *testing.T) {
	hub := NewHub(nil, 8)
	byLink := hub.Subscribe()
	byWorkspace := hub.Subscribe()
	_ = hub.Join(byLink, []string{RoomLink("l-1")})
	_ = hub.Join(byWorkspace, []string{RoomWorkspace("ws-1")})

	hub.Broadcast(hubEvent("l-2", "p-1", "ws-1"))

	if got := drain(t, byLink); len(got) != 0 {
		t.Fatal("link subscriber received an event for another link")
	}
	if got := drain(t, byWorkspace); len(got) != 1 {
		t.Fatal("workspace subscriber missed a workspace-scoped event")
	}
}

func TestJoin_InvalidRoomJoinsNothing(t *testing.T) {
	hub := NewHub(nil, 8)
	sub := hub.Subscribe()

	err := hub.Join(sub, []string{RoomLink("l-1"), "bogus"})
	if !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}

	// The valid half of the batch must not have been applied.
	hub.Broadcast(hubEvent("l-1", "p-1", "ws-1"))
	if got := drain(t, sub); len(got) != 0 {
		t.Fatal("a rejected join must not leave partial memberships")
	}
}

func TestLeave_StopsDelivery(t *testing.T) {
	hub := NewHub(nil, 8)
	sub := hub.Subscribe()
	_ = hub.Join(sub, []string{RoomLink("l-1"), RoomWorkspace("ws-1")})

	hub.Leave(sub, []string{RoomLink("l-1")})
	hub.Broadcast(hubEvent("l-1", "p-other", "ws-other"))
	if got := drain(t, sub); len(got) != 0 {
		t.Fatal("left room still delivering")
	}

	// The remaining membership keeps working.
	hub.Broadcast(hubEvent("l-2", "p-1", "ws-1"))
	if got := drain(t, sub); len(got) != 1 {
		t.Fatal("remaining membership stopped delivering")
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	hub := NewHub(nil, 8)
	sub := hub.Subscribe()
	_ = hub.Join(sub, []string{RoomLink("l-1")})

	hub.Unsubscribe(sub)
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected a closed channel, got a message")
		}
	default:
		t.Fatal("channel should be closed after Unsubscribe")
	}

	// Idempotent; a second call must not panic on the closed channel.
	hub.Unsubscribe(sub)
	hub.Broadcast(hubEvent("l-1", "p-1", "ws-1"))
}

func TestBroadcast_DropsStalledSubscriber(t *testing.T) {
	hub := NewHub(nil, 2)
	stalled := hub.Subscribe()
	healthy := hub.Subscribe()
	_ = hub.Join(stalled, []string{RoomLink("l-1")})
	_ = hub.Join(healthy, []string{RoomLink("l-1")})

	// Fill the stalled subscriber's buffer, then overflow it. The healthy
	// subscriber drains as it goes and must survive.
	for i := 0; i < 3; i++ {
		hub.Broadcast(hubEvent("l-1", "p-1", "ws-1"))
		drain(t, healthy)
	}

	if _, ok := <-stalled.C(); !ok {
		t.Fatal("expected buffered messages before the close")
	}
	// After draining the buffer the channel must be closed.
	for {
		if _, ok := <-stalled.C(); !ok {
			break
		}
	}

	hub.Broadcast(hubEvent("l-1", "p-1", "ws-1"))
	if got := drain(t, healthy); len(got) != 1 {
		t.Fatal("healthy subscriber must keep receiving after a peer is dropped")
	}
}
