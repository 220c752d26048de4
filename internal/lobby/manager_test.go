package lobby

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gamelobby/internal/game"
	"github.com/cory-johannsen/gamelobby/internal/testutil"
)

// departures is a Probe backed by a set of player IDs.
type departures struct {
	mu   sync.Mutex
	gone map[string]bool
}

func newDepartures() *departures { return &departures{gone: make(map[string]bool)} }

func (d *departures) leave(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gone[id] = true
}

func (d *departures) Departed(p game.Player) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone[p.ID()]
}

func ids(players []game.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.ID()
	}
	return out
}

func newManager(t *testing.T, probe Probe) *Manager {
	t.Helper()
	return NewManager(probe, zaptest.NewLogger(t))
}

func TestRegister(t *testing.T) {
	m := newManager(t, newDepartures())
	factory, _ := testutil.FakeFactory("Arena", 2, nil)
	require.NoError(t, m.Register("Arena", factory))
	assert.True(t, m.Has("Arena"))
	assert.Equal(t, []string{"Arena"}, m.Lobbies())

	err := m.Register("Arena", factory)
	assert.ErrorIs(t, err, ErrDuplicateLobby)
}

func TestRegister_RejectsZeroRequired(t *testing.T) {
	m := newManager(t, newDepartures())
	factory, _ := testutil.FakeFactory("Empty", 0, nil)
	assert.Error(t, m.Register("Empty", factory))
	assert.Error(t, m.Register("", factory))
	assert.Error(t, m.Register("Nil", nil))
}

func TestAdd_UnknownLobby(t *testing.T) {
	m := newManager(t, newDepartures())
	err := m.Add("Nowhere", testutil.NewFakePlayer("a"))
	assert.ErrorIs(t, err, ErrUnknownLobby)

	_, err = m.TryFill("Nowhere")
	assert.ErrorIs(t, err, ErrUnknownLobby)
	_, err = m.PollDisconnects("Nowhere")
	assert.ErrorIs(t, err, ErrUnknownLobby)
}

func TestTryFill_ArenaScenario(t *testing.T) {
	m := newManager(t, newDepartures())
	factory, built := testutil.FakeFactory("Arena", 2, nil)
	require.NoError(t, m.Register("Arena", factory))

	a, b := testutil.NewFakePlayer("a"), testutil.NewFakePlayer("b")
	require.NoError(t, m.Add("Arena", a))

	s, err := m.TryFill("Arena")
	require.NoError(t, err)
	assert.Nil(t, s, "one player must not fill a two-player lobby")

	require.NoError(t, m.Add("Arena", b))
	s, err = m.TryFill("Arena")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []string{"a", "b"}, ids(s.Players()))
	assert.Empty(t, m.Queued("Arena"))
	assert.Len(t, built(), 2, "a fresh pending session replaces the launched one")

	s, err = m.TryFill("Arena")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestTryFill_OneSessionPerCall(t *testing.T) {
	m := newManager(t, newDepartures())
	factory, _ := testutil.FakeFactory("Arena", 2, nil)
	require.NoError(t, m.Register("Arena", factory))
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Add("Arena", testutil.NewFakePlayer(fmt.Sprintf("p%d", i))))
	}

	first, err := m.TryFill("Arena")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, []string{"p0", "p1"}, ids(first.Players()))
	assert.Equal(t, []string{"p2", "p3", "p4"}, ids(m.Queued("Arena")))

	second, err := m.TryFill("Arena")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, []string{"p2", "p3"}, ids(second.Players()))
	assert.Equal(t, []string{"p4"}, ids(m.Queued("Arena")))
}

func TestTryFill_RefusedPlayerMovesToBack(t *testing.T) {
	m := newManager(t, newDepartures())
	factory, _ := testutil.FakeFactory("Arena", 2, func(s *testutil.FakeSession) {
		s.Refuse = func(p game.Player) bool { return p.ID() == "b" }
	})
	require.NoError(t, m.Register("Arena", factory))
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Add("Arena", testutil.NewFakePlayer(id)))
	}

	s, err := m.TryFill("Arena")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []string{"a", "c"}, ids(s.Players()))
	assert.Equal(t, []string{"d", "b"}, ids(m.Queued("Arena")))
}

func TestTryFill_RollbackRestoresQueue(t *testing.T) {
	m := newManager(t, newDepartures())
	factory, built := testutil.FakeFactory("Arena", 3, func(s *testutil.FakeSession) {
		s.Refuse = func(p game.Player) bool { return p.ID() == "b" || p.ID() == "d" }
	})
	require.NoError(t, m.Register("Arena", factory))
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Add("Arena", testutil.NewFakePlayer(id)))
	}

	s, err := m.TryFill("Arena")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(m.Queued("Arena")))

	pending := built()[0]
	assert.Empty(t, pending.Players())
	assert.Equal(t, []string{"a", "c"}, pending.Unbound())
	assert.Empty(t, pending.Removed(), "a rollback is not a departure")
}

func TestTryFill_RollbackUsesRemovePlayerWithoutUnbind(t *testing.T) {
	m := newManager(t, newDepartures())
	var pending *removeOnly
	require.NoError(t, m.Register("Arena", func() game.Session {
		fs := testutil.NewFakeSession("Arena", 2)
		fs.Refuse = func(p game.Player) bool { return p.ID() == "b" }
		pending = &removeOnly{fs: fs}
		return pending
	}))
	require.NoError(t, m.Add("Arena", testutil.NewFakePlayer("a")))
	require.NoError(t, m.Add("Arena", testutil.NewFakePlayer("b")))

	s, err := m.TryFill("Arena")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"a"}, pending.fs.Removed())
	assert.Empty(t, pending.fs.Players())
}

// removeOnly hides FakeSession's Unbind so only the Session interface is visible.
type removeOnly struct{ fs *testutil.FakeSession }

func (r *removeOnly) ID() string                    { return r.fs.ID() }
func (r *removeOnly) Name() string                  { return r.fs.Name() }
func (r *removeOnly) RequiredPlayers() int          { return r.fs.RequiredPlayers() }
func (r *removeOnly) AddPlayer(p game.Player) bool  { return r.fs.AddPlayer(p) }
func (r *removeOnly) RemovePlayer(p game.Player)    { r.fs.RemovePlayer(p) }
func (r *removeOnly) Players() []game.Player        { return r.fs.Players() }
func (r *removeOnly) Run(ctx context.Context) error { return r.fs.Run(ctx) }

func TestPollDisconnects_AbruptClose(t *testing.T) {
	probe := newDepartures()
	m := newManager(t, probe)
	factory, _ := testutil.FakeFactory("Arena", 2, nil)
	require.NoError(t, m.Register("Arena", factory))

	a, b := testutil.NewFakePlayer("a"), testutil.NewFakePlayer("b")
	require.NoError(t, m.Add("Arena", a))
	probe.leave("a")

	departed, err := m.PollDisconnects("Arena")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(departed))
	assert.Empty(t, m.Queued("Arena"))

	require.NoError(t, m.Add("Arena", b))
	s, err := m.TryFill("Arena")
	require.NoError(t, err)
	assert.Nil(t, s, "b must keep waiting alone after a left")
	assert.Equal(t, []string{"b"}, ids(m.Queued("Arena")))
}

func TestPollDisconnects_ProbeRunsWithoutLock(t *testing.T) {
	var m *Manager
	probe := ProbeFunc(func(p game.Player) bool {
		// Reentering the manager would deadlock if the lock were held.
		_ = m.Snapshot()
		return p.ID() == "x"
	})
	m = newManager(t, probe)
	factory, _ := testutil.FakeFactory("Arena", 2, nil)
	require.NoError(t, m.Register("Arena", factory))
	require.NoError(t, m.Add("Arena", testutil.NewFakePlayer("x")))
	require.NoError(t, m.Add("Arena", testutil.NewFakePlayer("y")))

	departed, err := m.PollDisconnects("Arena")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(departed))
}

func TestRemoveSnapshotClear(t *testing.T) {
	m := newManager(t, newDepartures())
	arena, _ := testutil.FakeFactory("Arena", 2, nil)
	duel, _ := testutil.FakeFactory("Duel", 3, nil)
	require.NoError(t, m.Register("Duel", duel))
	require.NoError(t, m.Register("Arena", arena))

	a := testutil.NewFakePlayer("a")
	require.NoError(t, m.Add("Arena", a))
	require.NoError(t, m.Add("Duel", testutil.NewFakePlayer("b")))
	require.NoError(t, m.Add("Duel", testutil.NewFakePlayer("c")))

	assert.Equal(t, []Status{
		{Name: "Arena", Required: 2, Waiting: 1},
		{Name: "Duel", Required: 3, Waiting: 2},
	}, m.Snapshot())
	assert.Equal(t, []string{"Duel", "Arena"}, m.Lobbies())

	assert.True(t, m.Remove(a))
	assert.False(t, m.Remove(a))

	cleared := m.Clear()
	assert.Equal(t, []string{"b", "c"}, ids(cleared))
	for _, st := range m.Snapshot() {
		assert.Zero(t, st.Waiting)
	}
}

// Property: after any sequence of adds, departures and fills, every launched
// session holds exactly RequiredPlayers players, no player is both queued and
// launched, and an unsuccessful fill leaves the queue untouched.
func TestPropertyFillInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		required := rapid.IntRange(1, 4).Draw(rt, "required")
		refusedIDs := rapid.SliceOfDistinct(rapid.IntRange(0, 29), rapid.ID[int]).Draw(rt, "refused")
		refusedSet := make(map[string]bool, len(refusedIDs))
		for _, n := range refusedIDs {
			refusedSet[fmt.Sprintf("p%d", n)] = true
		}

		probe := newDepartures()
		m := NewManager(probe, zaptest.NewLogger(t))
		factory, _ := testutil.FakeFactory("L", required, func(s *testutil.FakeSession) {
			s.Refuse = func(p game.Player) bool { return refusedSet[p.ID()] }
		})
		if err := m.Register("L", factory); err != nil {
			rt.Fatal(err)
		}

		launched := make(map[string]bool)
		next := 0
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				if next < 30 {
					_ = m.Add("L", testutil.NewFakePlayer(fmt.Sprintf("p%d", next)))
					next++
				}
			case 1:
				queued := m.Queued("L")
				if len(queued) > 0 {
					victim := rapid.SampledFrom(queued).Draw(rt, "victim")
					probe.leave(victim.ID())
					if _, err := m.PollDisconnects("L"); err != nil {
						rt.Fatal(err)
					}
				}
			case 2:
				before := ids(m.Queued("L"))
				s, err := m.TryFill("L")
				if err != nil {
					rt.Fatal(err)
				}
				if s == nil {
					after := ids(m.Queued("L"))
					if fmt.Sprint(before) != fmt.Sprint(after) {
						rt.Fatalf("unsuccessful fill changed queue: %v -> %v", before, after)
					}
					continue
				}
				if got := len(s.Players()); got != required {
					rt.Fatalf("launched with %d players, want %d", got, required)
				}
				for _, p := range s.Players() {
					if refusedSet[p.ID()] {
						rt.Fatalf("refused player %s was bound", p.ID())
					}
					if launched[p.ID()] {
						rt.Fatalf("player %s launched twice", p.ID())
					}
					launched[p.ID()] = true
				}
			}

			seen := make(map[string]bool)
			for _, p := range m.Queued("L") {
				if launched[p.ID()] {
					rt.Fatalf("player %s both queued and launched", p.ID())
				}
				if seen[p.ID()] {
					rt.Fatalf("player %s queued twice", p.ID())
				}
				seen[p.ID()] = true
			}
		}
	})
}
