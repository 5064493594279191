package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"

	"github.com/mossy-p/roomcall/internal/models"
)

type inbox struct {
	mu   sync.Mutex
	envs []models.Envelope
}

func (b *inbox) Send(env models.Envelope) {
	b.mu.Lock()
	b.envs = append(b.envs, env)
	b.mu.Unlock()
}

func (b *inbox) all() []models.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Envelope(nil), b.envs...)
}

func (b *inbox) reset() {
	b.mu.Lock()
	b.envs = nil
	b.mu.Unlock()
}

func newTestRelay(t *testing.T, presence PresenceStore) *Relay {
	t.Helper()
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	return New(Options{LoggerFactory: lf, Presence: presence})
}

func connect(r *Relay, ids ...string) map[string]*inbox {
	boxes := make(map[string]*inbox, len(ids))
	for _, id := range ids {
		b := &inbox{}
		r.Connect(id, b)
		boxes[id] = b
	}
	return boxes
}

func roomUsers(t *testing.T, env models.Envelope) []string {
	t.Helper()
	if env.Event != models.EventRoomUsers {
		t.Fatalf("event=%s, want %s", env.Event, models.EventRoomUsers)
	}
	var ids []string
	if err := json.Unmarshal(env.Data, &ids); err != nil {
		t.Fatalf("unmarshal room_users: %v", err)
	}
	return ids
}

func TestJoin_NotifiesOnlyTheJoiner(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y")

	if err := r.Join("x", "r1", "Xavier"); err != nil {
		t.Fatalf("Join x: %v", err)
	}
	got := boxes["x"].all()
	if len(got) != 1 {
		t.Fatalf("x received %d envelopes, want 1", len(got))
	}
	if ids := roomUsers(t, got[0]); len(ids) != 0 {
		t.Fatalf("x room_users=%v, want []", ids)
	}
	if string(got[0].Data) != "[]" {
		t.Fatalf("room_users data=%s, want []", got[0].Data)
	}

	boxes["x"].reset()
	if err := r.Join("y", "r1", "Yvonne"); err != nil {
		t.Fatalf("Join y: %v", err)
	}
	gotY := boxes["y"].all()
	if len(gotY) != 1 {
		t.Fatalf("y received %d envelopes, want 1", len(gotY))
	}
	if ids := roomUsers(t, gotY[0]); len(ids) != 1 || ids[0] != "x" {
		t.Fatalf("y room_users=%v, want [x]", ids)
	}
	if n := len(boxes["x"].all()); n != 0 {
		t.Fatalf("x received %d envelopes on y's join, want 0", n)
	}
}

func TestJoin_RoomUsersInJoinOrder(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "a", "b", "c", "d")
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Join(id, "r1", id); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
	}
	if err := r.Join("d", "r1", "d"); err != nil {
		t.Fatalf("Join d: %v", err)
	}
	ids := roomUsers(t, boxes["d"].all()[0])
	want := []string{"c", "a", "b"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("room_users=%v, want %v", ids, want)
	}
}

func TestJoin_SameRoomIsIdempotent(t *testing.T) {
	r := newTestRelay(t, nil)
	connect(r, "x")
	if err := r.Join("x", "r1", "old"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := r.Join("x", "r1", "new"); err != nil {
		t.Fatalf("re-Join: %v", err)
	}
	members := r.Members("r1")
	if len(members) != 1 {
		t.Fatalf("members=%v, want exactly one", members)
	}
	if members[0].Name != "new" {
		t.Fatalf("name=%q, want new", members[0].Name)
	}
}

func TestJoin_UnknownConnection(t *testing.T) {
	r := newTestRelay(t, nil)
	if err := r.Join("ghost", "r1", "g"); !errors.Is(err, ErrUnknownConn) {
		t.Fatalf("Join err=%v, want %v", err, ErrUnknownConn)
	}
	if err := r.Join("ghost", "", "g"); !errors.Is(err, ErrInvalidRoomName) {
		t.Fatalf("Join err=%v, want %v", err, ErrInvalidRoomName)
	}
	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms=%v, want none", rooms)
	}
}

func TestJoin_SwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y")
	_ = r.Join("x", "r1", "x")
	_ = r.Join("y", "r1", "y")
	boxes["x"].reset()

	if err := r.Join("y", "r2", "y"); err != nil {
		t.Fatalf("Join r2: %v", err)
	}
	if room, _ := r.RoomOf("y"); room != "r2" {
		t.Fatalf("RoomOf(y)=%q, want r2", room)
	}
	if m := r.Members("r1"); len(m) != 1 || m[0].ID != "x" {
		t.Fatalf("r1 members=%v, want [x]", m)
	}
	got := boxes["x"].all()
	if len(got) != 1 || got[0].Event != models.EventUserExit {
		t.Fatalf("x received %v, want one user_exit", got)
	}
}

func TestRelay_ForwardsVerbatimToOthersOnly(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y", "z", "outsider")
	for _, id := range []string{"x", "y", "z"} {
		_ = r.Join(id, "r1", id)
	}
	_ = r.Join("outsider", "r2", "o")
	for _, b := range boxes {
		b.reset()
	}

	data := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	if err := r.Relay("x", "r1", models.Envelope{Event: models.EventOffer, Data: data}); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if n := len(boxes["x"].all()); n != 0 {
		t.Fatalf("sender received %d envelopes, want 0", n)
	}
	if n := len(boxes["outsider"].all()); n != 0 {
		t.Fatalf("other room received %d envelopes, want 0", n)
	}
	for _, id := range []string{"y", "z"} {
		got := boxes[id].all()
		if len(got) != 1 {
			t.Fatalf("%s received %d envelopes, want 1", id, len(got))
		}
		if got[0].From != "x" || got[0].Event != models.EventOffer {
			t.Fatalf("%s received %+v", id, got[0])
		}
		if string(got[0].Data) != string(data) {
			t.Fatalf("%s data=%s, want verbatim %s", id, got[0].Data, data)
		}
	}
}

func TestRelay_TargetedDelivery(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y", "z")
	for _, id := range []string{"x", "y", "z"} {
		_ = r.Join(id, "r1", id)
	}
	for _, b := range boxes {
		b.reset()
	}

	env := models.Envelope{Event: models.EventCandidate, To: "z", Data: json.RawMessage(`{"id":"0","label":0,"candidate":"c"}`)}
	if err := r.Relay("x", "r1", env); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if n := len(boxes["y"].all()); n != 0 {
		t.Fatalf("y received %d envelopes, want 0", n)
	}
	if n := len(boxes["z"].all()); n != 1 {
		t.Fatalf("z received %d envelopes, want 1", n)
	}

	// A target outside the room is silently dropped.
	env.To = "nobody"
	if err := r.Relay("x", "r1", env); err != nil {
		t.Fatalf("Relay to missing target: %v", err)
	}
}

func TestRelay_UnknownRoomOrSenderIsDropped(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y", "z")
	_ = r.Join("x", "r1", "x")
	_ = r.Join("y", "r1", "y")
	for _, b := range boxes {
		b.reset()
	}

	env := models.Envelope{Event: models.EventAnswer, Data: json.RawMessage(`{}`)}
	if err := r.Relay("x", "nope", env); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Relay err=%v, want %v", err, ErrRoomNotFound)
	}
	if err := r.Relay("z", "r1", env); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Relay err=%v, want %v", err, ErrNotMember)
	}
	for id, b := range boxes {
		if n := len(b.all()); n != 0 {
			t.Fatalf("%s received %d envelopes, want 0", id, n)
		}
	}
}

func TestRelay_NoDeliveryToLaterJoiners(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y", "late")
	_ = r.Join("x", "r1", "x")
	_ = r.Join("y", "r1", "y")

	_ = r.Relay("x", "r1", models.Envelope{Event: models.EventOffer, Data: json.RawMessage(`{"sdp":"a"}`)})
	_ = r.Join("late", "r1", "late")

	for _, env := range boxes["late"].all() {
		if env.Event == models.EventOffer {
			t.Fatalf("late joiner received an offer relayed before it joined")
		}
	}
}

func TestLeave_BroadcastsUserExitAndDestroysEmptyRoom(t *testing.T) {
	r := newTestRelay(t, nil)
	boxes := connect(r, "x", "y")
	_ = r.Join("x", "r1", "x")
	_ = r.Join("y", "r1", "y")
	boxes["x"].reset()
	boxes["y"].reset()

	r.Disconnect("y")

	got := boxes["x"].all()
	if len(got) != 1 || got[0].Event != models.EventUserExit {
		t.Fatalf("x received %v, want one user_exit", got)
	}
	var p models.UserExitPayload
	if err := json.Unmarshal(got[0].Data, &p); err != nil || p.ID != "y" {
		t.Fatalf("user_exit payload=%s (%v), want id y", got[0].Data, err)
	}
	if n := len(boxes["y"].all()); n != 0 {
		t.Fatalf("leaver received %d envelopes, want 0", n)
	}

	if err := r.Leave("x"); err != nil {
		t.Fatalf("Leave x: %v", err)
	}
	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms=%v, want none after last member left", rooms)
	}
	if err := r.Leave("x"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("second Leave err=%v, want %v", err, ErrNotMember)
	}
	if _, ok := r.RoomOf("x"); ok {
		t.Fatalf("RoomOf(x) still assigned")
	}
}

type recordingPresence struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPresence) record(s string) error {
	p.mu.Lock()
	p.calls = append(p.calls, s)
	p.mu.Unlock()
	return nil
}

func (p *recordingPresence) AddMember(_ context.Context, room, id, name string) error {
	return p.record("add " + room + " " + id + " " + name)
}

func (p *recordingPresence) RemoveMember(_ context.Context, room, id string) error {
	return p.record("remove " + room + " " + id)
}

func TestPresenceMirror(t *testing.T) {
	p := &recordingPresence{}
	r := newTestRelay(t, p)
	connect(r, "x", "y")
	_ = r.Join("x", "r1", "X")
	_ = r.Join("y", "r1", "Y")
	r.Disconnect("x")
	r.Disconnect("y")

	want := []string{"add r1 x X", "add r1 y Y", "remove r1 x", "remove r1 y"}
	if fmt.Sprint(p.calls) != fmt.Sprint(want) {
		t.Fatalf("presence calls=%v, want %v", p.calls, want)
	}
}

func TestPresenceMirror_RecreatedRoomSurvivesLateRemove(t *testing.T) {
	p := &recordingPresence{}
	r := newTestRelay(t, p)
	connect(r, "x", "y")
	_ = r.Join("x", "r1", "X")
	r.Disconnect("x")
	_ = r.Join("y", "r1", "Y")

	want := []string{"add r1 x X", "remove r1 x", "add r1 y Y"}
	if fmt.Sprint(p.calls) != fmt.Sprint(want) {
		t.Fatalf("presence calls=%v, want %v", p.calls, want)
	}

	// Replay with x's removal landing after y's add.
	roster := map[string]bool{}
	for _, call := range []string{p.calls[0], p.calls[2], p.calls[1]} {
		f := strings.Fields(call)
		switch f[0] {
		case "add":
			roster[f[2]] = true
		case "remove":
			delete(roster, f[2])
		default:
			t.Fatalf("unexpected mirror call %q", call)
		}
	}
	if len(roster) != 1 || !roster["y"] {
		t.Fatalf("roster=%v, want only y", roster)
	}
}

func TestConcurrentJoinLeave_RosterMatchesMembership(t *testing.T) {
	lim := test.TimeOut(20 * time.Second)
	defer lim.Stop()

	r := newTestRelay(t, nil)
	const (
		rooms   = 4
		perRoom = 16
	)

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		for j := 0; j < perRoom; j++ {
			id := fmt.Sprintf("c-%d-%d", i, j)
			room := fmt.Sprintf("room-%d", i)
			r.Connect(id, SenderFunc(func(models.Envelope) {}))
			wg.Add(1)
			go func(id, room string, stay bool) {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					_ = r.Join(id, room, id)
					_ = r.Relay(id, room, models.Envelope{Event: models.EventCandidate})
					_ = r.Leave(id)
				}
				if stay {
					_ = r.Join(id, room, id)
				}
			}(id, room, j%2 == 0)
		}
	}
	wg.Wait()

	for i := 0; i < rooms; i++ {
		room := fmt.Sprintf("room-%d", i)
		var got []string
		for _, m := range r.Members(room) {
			got = append(got, m.ID)
			if assigned, _ := r.RoomOf(m.ID); assigned != room {
				t.Fatalf("%s listed in %s but assigned to %q", m.ID, room, assigned)
			}
		}
		sort.Strings(got)

		var want []string
		for j := 0; j < perRoom; j += 2 {
			want = append(want, fmt.Sprintf("c-%d-%d", i, j))
		}
		sort.Strings(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("%s roster=%v, want %v", room, got, want)
		}
	}
}
