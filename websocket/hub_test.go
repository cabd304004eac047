package websocket

import (
	"testing"
	"time"
)

func newHubClientPair(t *testing.T) (serverSide, clientSide *Session) {
	t.Helper()
	a, b := pipeStream()
	var err error
	serverSide, err = NewSession(a, RoleServer, DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession(server): %v", err)
	}
	clientSide, err = NewSession(b, RoleClient, DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession(client): %v", err)
	}
	return serverSide, clientSide
}

// drainClient keeps a client-side Session's Read loop running in the
// background so nothing the hub does on the server side ever blocks
// writing to it.
func drainClient(c *Session) {
	go func() {
		for {
			if _, err := c.Read(); err != nil {
				return
			}
		}
	}()
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
}

func TestHubRegisterUnregisterClientCount(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Close()

	server1, client1 := newHubClientPair(t)
	drainClient(client1)
	id1 := hub.Register(server1)
	if id1 == "" {
		t.Fatal("Register returned an empty ID")
	}

	server2, client2 := newHubClientPair(t)
	drainClient(client2)
	id2 := hub.Register(server2)
	if id2 == id1 {
		t.Fatal("two registrations produced the same ID")
	}

	waitForClientCount(t, hub, 2)

	hub.Unregister(id1)
	waitForClientCount(t, hub, 1)
}

func TestHubBroadcastDeliversToAllClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Close()

	server1, client1 := newHubClientPair(t)
	server2, client2 := newHubClientPair(t)
	hub.Register(server1)
	hub.Register(server2)
	waitForClientCount(t, hub, 2)

	hub.BroadcastText("hello")

	type result struct {
		msg Message
		err error
	}
	results := make(chan result, 2)
	for _, c := range []*Session{client1, client2} {
		c := c
		go func() {
			m, e := c.Read()
			results <- result{m, e}
		}()
	}

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("client read: %v", r.err)
		}
		if r.msg.Kind != OpcodeText || r.msg.Text != "hello" {
			t.Fatalf("client read = %+v, want Text(\"hello\")", r.msg)
		}
	}
}

func TestHubCloseClosesRegisteredClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	server1, client1 := newHubClientPair(t)
	drainClient(client1)
	hub.Register(server1)
	waitForClientCount(t, hub, 1)

	hub.Close()
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount after Close = %d, want 0", got)
	}
	if server1.CanWrite() {
		t.Fatal("registered session still writable after hub Close")
	}

	// Close must be idempotent.
	hub.Close()
}
