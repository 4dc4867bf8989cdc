package presence

import (
	"reflect"
	"sync"
	"testing"
)

type emission struct {
	recipients []string
	msg        Message
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []emission
}

func (e *recordingEmitter) Emit(recipients []string, msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, emission{recipients: append([]string(nil), recipients...), msg: msg})
}

func (e *recordingEmitter) last(t *testing.T) emission {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sent) == 0 {
		t.Fatal("nothing emitted")
	}
	return e.sent[len(e.sent)-1]
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

func contributorsOf(t *testing.T, em emission) []Contributor {
	t.Helper()
	if em.msg.Event != EventContributorsUpdated {
		t.Fatalf("event = %q", em.msg.Event)
	}
	update, ok := em.msg.Payload.(ContributorsUpdate)
	if !ok {
		t.Fatalf("payload type %T", em.msg.Payload)
	}
	return update.Contributors
}

func userIDs(list []Contributor) []string {
	out := []string{}
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func newTestRegistry() (*Registry, *recordingEmitter) {
	em := &recordingEmitter{}
	return NewRegistry(em, nil, nil), em
}

func TestContributorsDedupByUserID(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("map1", "c1", &User{ID: "u1", Name: "Avery"})
	reg.Join("map1", "c2", &User{ID: "u1", Name: "Avery"})
	reg.Join("map1", "c3", &User{ID: "u2", Name: "Blake"})

	got := contributorsOf(t, em.last(t))
	if !reflect.DeepEqual(userIDs(got), []string{"u1", "u2"}) {
		t.Fatalf("contributors = %v", userIDs(got))
	}
	if got[0].SocketID != "c1" {
		t.Fatalf("first connection should represent u1, got %s", got[0].SocketID)
	}
	if !reflect.DeepEqual(em.last(t).recipients, []string{"c1", "c2", "c3"}) {
		t.Fatalf("recipients = %v", em.last(t).recipients)
	}

	for _, trigger := range []string{"c1", "c2", "c3"} {
		reg.Join("map1", trigger, nil)
		if ids := userIDs(contributorsOf(t, em.last(t))); !reflect.DeepEqual(ids, []string{"u1", "u2"}) {
			t.Fatalf("rejoin by %s: contributors = %v", trigger, ids)
		}
	}
	reg.BroadcastContributors("map1", "")
	if ids := userIDs(contributorsOf(t, em.last(t))); !reflect.DeepEqual(ids, []string{"u1", "u2"}) {
		t.Fatalf("broadcast: contributors = %v", ids)
	}
}

func TestAnonymousContributorsAreNeverMerged(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("map1", "c1", &User{Name: "Guest"})
	reg.Join("map1", "c2", &User{Name: "Guest"})
	reg.Join("map1", "c3", &User{ID: "u1"})
	reg.Join("map1", "c4", &User{ID: "u1"})

	got := contributorsOf(t, em.last(t))
	if len(got) != 3 {
		t.Fatalf("expected two anonymous entries plus u1, got %+v", got)
	}
}

func TestDedupHoldsAcrossRandomSequences(t *testing.T) {
	reg, em := newTestRegistry()
	users := []*User{{ID: "u1"}, {ID: "u2"}, {ID: "u1"}, {}, {ID: "u3"}, {ID: "u2"}}
	conns := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	steps := []struct {
		join bool
		idx  int
	}{
		{true, 0}, {true, 2}, {true, 1}, {false, 0}, {true, 5}, {true, 3},
		{true, 0}, {false, 2}, {true, 4}, {false, 1}, {true, 2}, {false, 5},
	}
	for i, step := range steps {
		if step.join {
			reg.Join("map1", conns[step.idx], users[step.idx])
		} else {
			reg.Leave("map1", conns[step.idx])
		}
		seen := map[string]bool{}
		for _, c := range contributorsOf(t, em.last(t)) {
			if c.ID == "" {
				continue
			}
			if seen[c.ID] {
				t.Fatalf("step %d: duplicate user %s", i, c.ID)
			}
			seen[c.ID] = true
		}
	}
}

func TestDisconnectExcludesOwnConnection(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("map1", "c1", &User{ID: "u1"})
	reg.Join("map2", "c1", nil)
	reg.Join("map1", "c2", &User{ID: "u2"})
	reg.Join("map2", "c3", &User{ID: "u3"})
	before := em.count()

	reg.Disconnect("c1")

	em.mu.Lock()
	sent := append([]emission(nil), em.sent[before:]...)
	em.mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("expected one broadcast per room, got %d", len(sent))
	}
	for _, e := range sent {
		for _, c := range contributorsOf(t, e) {
			if c.SocketID == "c1" || c.ID == "u1" {
				t.Fatalf("disconnected connection still listed in %s", e.msg.MapID)
			}
		}
		for _, r := range e.recipients {
			if r == "c1" {
				t.Fatalf("disconnected connection received %s broadcast", e.msg.MapID)
			}
		}
	}
	if ids := userIDs(contributorsOf(t, sent[0])); !reflect.DeepEqual(ids, []string{"u2"}) || sent[0].msg.MapID != "map1" {
		t.Fatalf("map1 after disconnect = %v", ids)
	}
	if ids := userIDs(contributorsOf(t, sent[1])); !reflect.DeepEqual(ids, []string{"u3"}) {
		t.Fatalf("map2 after disconnect = %v", ids)
	}

	if rooms := reg.RoomsOf("c1"); len(rooms) != 0 {
		t.Fatalf("c1 still in %v", rooms)
	}
	reg.Join("map1", "c1", nil)
	if ids := userIDs(reg.Contributors("map1")); !reflect.DeepEqual(ids, []string{"u2"}) {
		t.Fatalf("user record should be gone after disconnect, got %v", ids)
	}
}

func TestLeaveLastMemberBroadcastsEmptyList(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("map1", "c1", &User{ID: "u1"})
	before := em.count()

	reg.Leave("map1", "c1")

	if em.count() != before+1 {
		t.Fatal("leave must still broadcast")
	}
	e := em.last(t)
	if got := contributorsOf(t, e); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %#v", got)
	}
	if len(reg.Members("map1")) != 0 {
		t.Fatal("room should be empty")
	}
}

func TestUnknownRoomAndNonMember(t *testing.T) {
	reg, em := newTestRegistry()
	reg.BroadcastContributors("ghost", "")
	if got := contributorsOf(t, em.last(t)); len(got) != 0 {
		t.Fatalf("unknown room should get an empty list, got %v", got)
	}

	reg.Join("map1", "c1", &User{ID: "u1"})
	reg.Leave("map1", "stranger")
	if ids := userIDs(contributorsOf(t, em.last(t))); !reflect.DeepEqual(ids, []string{"u1"}) {
		t.Fatalf("leave by non-member changed the list: %v", ids)
	}
	reg.Disconnect("stranger")
}

func TestJoinWithoutRoomIsIgnored(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("", "c1", &User{ID: "u1"})
	reg.Leave("", "c1")
	if em.count() != 0 {
		t.Fatalf("malformed events emitted %d messages", em.count())
	}
	if len(reg.RoomsOf("c1")) != 0 {
		t.Fatal("malformed join created membership")
	}
}

func TestJoinWithoutSummaryKeepsMemberOffList(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("map1", "c1", nil)
	if got := contributorsOf(t, em.last(t)); len(got) != 0 {
		t.Fatalf("connection without a user should not be listed: %v", got)
	}
	if !reflect.DeepEqual(em.last(t).recipients, []string{"c1"}) {
		t.Fatal("member without a user still receives broadcasts")
	}

	reg.Join("map1", "c1", &User{ID: "u1", Name: "Old"})
	reg.Join("map1", "c1", &User{ID: "u1", Name: "New"})
	if got := reg.Contributors("map1"); len(got) != 1 || got[0].Name != "New" {
		t.Fatalf("summary should be overwritten: %+v", got)
	}
}

func TestPublishReachesMembersOnly(t *testing.T) {
	reg, em := newTestRegistry()
	reg.Join("map1", "c1", nil)
	reg.Join("map2", "c2", nil)

	reg.Publish("map1", EventMapUpdated, map[string]string{"id": "map1"})

	e := em.last(t)
	if e.msg.Event != EventMapUpdated || !reflect.DeepEqual(e.recipients, []string{"c1"}) {
		t.Fatalf("unexpected emission %+v", e)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Join("a", "c1", &User{ID: "u1"})
	reg.Join("b", "c2", &User{ID: "u2"})
	reg.Leave("a", "c1")
	if ids := userIDs(reg.Contributors("b")); !reflect.DeepEqual(ids, []string{"u2"}) {
		t.Fatalf("room b affected by room a: %v", ids)
	}
	if !reflect.DeepEqual(reg.RoomsOf("c2"), []string{"b"}) {
		t.Fatal("RoomsOf mismatch")
	}
}

func TestConcurrentEvents(t *testing.T) {
	reg, _ := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := string(rune('a' + i%26))
			reg.Join("map1", conn, &User{ID: conn})
			reg.Contributors("map1")
			if i%3 == 0 {
				reg.Disconnect(conn)
			}
		}(i)
	}
	wg.Wait()
	seen := map[string]bool{}
	for _, c := range reg.Contributors("map1") {
		if seen[c.ID] {
			t.Fatalf("duplicate %s", c.ID)
		}
		seen[c.ID] = true
	}
}
