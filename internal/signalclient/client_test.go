package signalclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/handlers"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/relay"
)

func newServer(t *testing.T, requireAuth bool) (*httptest.Server, *relay.Relay, logging.LoggerFactory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled

	r := relay.New(relay.Options{LoggerFactory: lf})
	h := handlers.New(handlers.Options{
		Config:        &config.Config{JWTSecret: "secret", RequireAuth: requireAuth, SendBuffer: 16},
		Relay:         r,
		LoggerFactory: lf,
	})
	router := gin.New()
	h.Routes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, r, lf
}

func next(t *testing.T, c *Client) models.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Incoming():
		if !ok {
			t.Fatalf("incoming closed")
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for envelope")
	}
	return models.Envelope{}
}

func join(t *testing.T, c *Client, room, name string) {
	t.Helper()
	env, err := models.Encode(models.Join{Room: room, Name: name}, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := c.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestClient_JoinRelayAndClose(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	srv, r, lf := newServer(t, false)
	ctx := context.Background()

	x, err := Dial(ctx, srv.URL+"/ws", Options{LoggerFactory: lf})
	if err != nil {
		t.Fatalf("Dial x: %v", err)
	}
	defer x.Close()
	y, err := Dial(ctx, srv.URL+"/ws", Options{LoggerFactory: lf})
	if err != nil {
		t.Fatalf("Dial y: %v", err)
	}

	join(t, x, "r1", "X")
	if env := next(t, x); env.Event != models.EventRoomUsers || string(env.Data) != "[]" {
		t.Fatalf("x received %+v", env)
	}
	join(t, y, "r1", "Y")
	if env := next(t, y); env.Event != models.EventRoomUsers {
		t.Fatalf("y received %+v", env)
	}

	offer, _ := models.Encode(models.Offer{SDP: "v=0"}, "")
	if err := y.Send(offer); err != nil {
		t.Fatalf("Send offer: %v", err)
	}
	if env := next(t, x); env.Event != models.EventOffer || env.From == "" {
		t.Fatalf("x received %+v", env)
	}

	leave, _ := models.Encode(models.Leave{}, "")
	if err := y.Send(leave); err != nil {
		t.Fatalf("Send leave: %v", err)
	}
	y.Close()
	if env := next(t, x); env.Event != models.EventUserExit {
		t.Fatalf("x received %+v, want user_exit", env)
	}

	// Incoming closes once the connection is gone.
	select {
	case _, ok := <-y.Incoming():
		for ok {
			_, ok = <-y.Incoming()
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("y incoming not closed")
	}
	if err := y.Send(offer); err != ErrClosed {
		t.Fatalf("Send after close err=%v, want %v", err, ErrClosed)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(r.Members("r1")) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("members=%v, want only x", r.Members("r1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_Token(t *testing.T) {
	srv, _, lf := newServer(t, true)
	ctx := context.Background()

	if _, err := Dial(ctx, srv.URL+"/ws", Options{LoggerFactory: lf}); err == nil {
		t.Fatalf("Dial without token succeeded")
	}

	token, err := middleware.NewToken("secret", "alice", time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	c, err := Dial(ctx, srv.URL+"/ws", Options{Token: token, LoggerFactory: lf})
	if err != nil {
		t.Fatalf("Dial with token: %v", err)
	}
	defer c.Close()

	join(t, c, "r1", "")
	if env := next(t, c); env.Event != models.EventRoomUsers {
		t.Fatalf("received %+v", env)
	}
}

func TestDial_InvalidURL(t *testing.T) {
	if _, err := Dial(context.Background(), "://bad", Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSend_FullBufferDropsWithoutBlocking(t *testing.T) {
	lim := test.TimeOut(5 * time.Second)
	defer lim.Stop()

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	// No pumps: nothing drains outgoing.
	c := &Client{
		outgoing: make(chan models.Envelope, 1),
		done:     make(chan struct{}),
		log:      lf.NewLogger("signalclient"),
	}

	offer, _ := models.Encode(models.Offer{SDP: "v=0"}, "x")
	if err := c.Send(offer); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send(offer); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("second Send err=%v, want %v", err, ErrBufferFull)
	}

	c.shutdown()
	if err := c.Send(offer); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close err=%v, want %v", err, ErrClosed)
	}
}
