package mqttclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBrokerURL(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1:1883":     "tcp://10.0.0.1:1883",
		"tcp://broker:1883": "tcp://broker:1883",
		"ssl://broker:8883": "ssl://broker:8883",
		"localhost:1884":    "tcp://localhost:1884",
	}
	for in, want := range cases {
		if got := BrokerURL(in); got != want {
			t.Errorf("BrokerURL(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestClientOptions(t *testing.T) {
	o := clientOptions(Options{BrokerURL: "gw:1883", ClientID: "gw-1", Username: "u", Password: "p"})

	if len(o.Servers) != 1 || o.Servers[0].String() != "tcp://gw:1883" {
		t.Fatalf("Expected one tcp broker, got %v", o.Servers)
	}
	if o.Order {
		t.Error("Expected out-of-order delivery so waiting handlers do not block replies")
	}
	if o.Username != "u" || o.Password != "p" {
		t.Errorf("Expected credentials to be set, got %q/%q", o.Username, o.Password)
	}
}

func TestDialer_ExpiredContext(t *testing.T) {
	d := &Dialer{ClientPrefix: "test", Timeout: time.Second}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := d.PublishTo(ctx, "127.0.0.1:1", "TOP_K_HEALTH/1", []byte("{}"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
}

func TestDialer_UnreachableChild(t *testing.T) {
	d := &Dialer{ClientPrefix: "test", Timeout: 500 * time.Millisecond}

	start := time.Now()
	err := d.PublishTo(context.Background(), "127.0.0.1:1", "SENSORS", []byte("GET sensors"))
	if err == nil {
		t.Fatal("Expected an error for an unreachable child")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Publishing to an unreachable child took %v", time.Since(start))
	}
}
