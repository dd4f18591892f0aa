package router

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/towerlords/matchserver/internal/bus"
	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/conn"
	"github.com/towerlords/matchserver/internal/lobby"
	"github.com/towerlords/matchserver/internal/matchmaking"
	"github.com/towerlords/matchserver/internal/registry"
	"github.com/towerlords/matchserver/internal/scheduler"
	"github.com/towerlords/matchserver/internal/wire"
)

func testCatalog() *catalog.Catalog {
	return catalog.FromDefinitions([]catalog.CardDefinition{
		{CardID: "goblin_raid", Type: catalog.TypeAttack, Rarity: catalog.RarityCommon, Cost: 2, Collectible: true,
			Config: catalog.CardConfig{EnemyCount: 4, EnemyType: "goblin", DamagePerEnemy: 2}},
	})
}

func testMatchConfig() config.MatchConfig {
	return config.MatchConfig{
		HandMax:                7,
		BoardSize:              7,
		ShopSizeByLevel:        []int{3, 4, 4, 5, 5},
		RoundShopMs:            time.Hour,
		TicksToReach:           10,
		MaxTicks:               200,
		SimTickMs:              100 * time.Millisecond,
		DrawPerRound:           2,
		GoldPerRound:           5,
		MaxRerollCostIncrement: 1,
		FinishedGraceMs:        time.Minute,
	}
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		KeepaliveMs:     time.Hour,
		KeepaliveMiss:   2,
		AuthTimeoutMs:   time.Hour,
		ActionTimeoutMs: time.Second,
		SendQueueSize:   16,
		MatchQueueSize:  8,
	}
}

type noopResultStore struct{}

func (noopResultStore) SaveMatchResult(ctx context.Context, r scheduler.StoredResult) error { return nil }

type noopRoundLedger struct{}

func (noopRoundLedger) AppendRound(ctx context.Context, e scheduler.RoundLedgerEntry) error {
	return nil
}
func (noopRoundLedger) MarkProcessed(ctx context.Context, matchID string) error { return nil }

// testHarness wires a real Router behind a real conn.Server, the same way
// cmd/matchserver does, so Route can be exercised end to end over an actual
// WebSocket instead of faking internal/conn's unexported Conn type.
type testHarness struct {
	rt     *Router
	server *httptest.Server
	group  *errgroup.Group
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	group, groupCtx := errgroup.WithContext(runCtx)

	rt := New(zap.NewNop(), bus.New(), registry.New(), matchmaking.New(8, time.Minute),
		lobby.NewManager(), testCatalog(), testMatchConfig(),
		config.ChatConfig{Ring: 20, RateMessages: 5, RateWindow: time.Minute},
		nil, noopResultStore{}, noopRoundLedger{}, groupCtx, group)

	authFn := func(_ context.Context, token string) (string, bool) { return token, token != "" }
	srv := conn.NewServer(testRealtimeConfig(), rt.bus, authFn, rt, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testHarness{rt: rt, server: ts, group: group}
}

// dialAs connects and authenticates as userID, draining HELLO/AUTH_OK.
func (h *testHarness) dialAs(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if _, _, err := ws.ReadMessage(); err != nil { // HELLO
		t.Fatalf("read HELLO: %v", err)
	}
	authFrame, _ := wire.Encode(wire.Auth{V: wire.ProtocolVersion, Type: wire.TypeAuth, Token: userID})
	if err := ws.WriteMessage(websocket.TextMessage, authFrame); err != nil {
		t.Fatalf("write AUTH: %v", err)
	}
	if _, _, err := ws.ReadMessage(); err != nil { // AUTH_OK
		t.Fatalf("read AUTH_OK: %v", err)
	}
	return ws
}

// sendFrame marshals payload's own fields merged with {type, v} into one
// JSON object, matching the flat envelope shape wire.Decode expects.
func sendFrame(t *testing.T, ws *websocket.Conn, typ wire.Type, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("unmarshal payload fields: %v", err)
	}
	fields["type"] = typ
	fields["v"] = wire.ProtocolVersion
	out, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readType(t *testing.T, ws *websocket.Conn) wire.Type {
	t.Helper()
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env.Type
}

func TestMatchmakingPairsTwoPlayersAndDeliversMatchJoined(t *testing.T) {
	h := newTestHarness(t)
	alice := h.dialAs(t, "alice")
	defer alice.Close()
	bob := h.dialAs(t, "bob")
	defer bob.Close()

	sendFrame(t, alice, wire.TypeMatchmakingStart, wire.MatchmakingStart{DeckID: "starter"})
	sendFrame(t, bob, wire.TypeMatchmakingStart, wire.MatchmakingStart{DeckID: "starter"})

	if typ := readType(t, alice); typ != wire.TypeMatchJoined {
		t.Fatalf("expected MATCH_JOINED for alice, got %s", typ)
	}
	if typ := readType(t, bob); typ != wire.TypeMatchJoined {
		t.Fatalf("expected MATCH_JOINED for bob, got %s", typ)
	}
	if h.rt.registry.Count() != 1 {
		t.Fatalf("expected exactly one live match, got %d", h.rt.registry.Count())
	}
}

func TestLobbyFlowStartsMatchOnceBothReady(t *testing.T) {
	h := newTestHarness(t)
	l := lobby.New("lobby-1", "alice", false)
	h.rt.lobbies.Create(l)
	if err := l.Join("bob", ""); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}

	alice := h.dialAs(t, "alice")
	defer alice.Close()
	bob := h.dialAs(t, "bob")
	defer bob.Close()

	sendFrame(t, alice, wire.TypeLobbySubscribe, wire.LobbySubscribe{LobbyID: "lobby-1"})
	if typ := readType(t, alice); typ != wire.TypeLobbyState {
		t.Fatalf("expected LOBBY_STATE after subscribe, got %s", typ)
	}
	sendFrame(t, bob, wire.TypeLobbySubscribe, wire.LobbySubscribe{LobbyID: "lobby-1"})
	readType(t, alice) // echoed LOBBY_STATE from bob's subscribe
	readType(t, bob)

	sendFrame(t, alice, wire.TypeLobbySetDeck, wire.LobbySetDeck{LobbyID: "lobby-1", DeckID: "starter"})
	readType(t, alice)
	readType(t, bob)
	sendFrame(t, bob, wire.TypeLobbySetDeck, wire.LobbySetDeck{LobbyID: "lobby-1", DeckID: "starter"})
	readType(t, alice)
	readType(t, bob)

	sendFrame(t, alice, wire.TypeLobbySetReady, wire.LobbySetReady{LobbyID: "lobby-1", IsReady: true})
	readType(t, alice)
	readType(t, bob)
	sendFrame(t, bob, wire.TypeLobbySetReady, wire.LobbySetReady{LobbyID: "lobby-1", IsReady: true})

	// Starting the match publishes LOBBY_STATE{status: started} to the room,
	// and MatchJoined directly to each player's user room.
	sawLobbyStarted, sawMatchJoined := false, false
	for i := 0; i < 3; i++ {
		typ := readType(t, alice)
		if typ == wire.TypeLobbyState {
			sawLobbyStarted = true
		}
		if typ == wire.TypeMatchJoined {
			sawMatchJoined = true
		}
		if sawLobbyStarted && sawMatchJoined {
			break
		}
	}
	if !sawLobbyStarted || !sawMatchJoined {
		t.Fatalf("expected both LOBBY_STATE(started) and MATCH_JOINED, got started=%v joined=%v", sawLobbyStarted, sawMatchJoined)
	}
	if l.Status != lobby.StatusStarted {
		t.Fatalf("expected lobby started, got %s", l.Status)
	}
}
