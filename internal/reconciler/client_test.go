package reconciler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flappingGateway accepts every websocket upgrade and drops it immediately,
// forcing the client through its redial loop on each attempt.
func flappingGateway(t *testing.T, dials *atomic.Int32) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitForDials(t *testing.T, dials *atomic.Int32, n int32) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if dials.Load() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gateway saw only %d dials, wanted %d", dials.Load(), n)
}

func TestClientReconnectDoesNotLeakGoroutines(t *testing.T) {
	var dials atomic.Int32
	srv := flappingGateway(t, &dials)

	cfg := DefaultClientConfig()
	cfg.GatewayURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.ScopeID = uuid.New()
	cfg.ClientID = "display-1"
	cfg.ReconnectWait = 10 * time.Millisecond

	rec := NewReconciler(cfg.ClientID, clockwork.NewRealClock())
	client := NewClient(cfg, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		client.Run(ctx)
	}()

	waitForDials(t, &dials, 2)
	before := runtime.NumGoroutine()

	// Every reconnect spawns a connection watcher; each must exit with its
	// connection rather than pile up until ctx cancellation.
	waitForDials(t, &dials, 20)
	after := runtime.NumGoroutine()
	assert.Less(t, after, before+10, "goroutines grew across reconnects")

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop after cancellation")
	}
	require.GreaterOrEqual(t, dials.Load(), int32(20))
}
