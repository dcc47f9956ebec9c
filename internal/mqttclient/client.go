package mqttclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// ConnectTimeout bounds the initial connection; zero waits forever with retries.
	ConnectTimeout time.Duration
}

// Handler receives the topic and payload of an inbound message.
type Handler func(topic string, payload []byte)

type Client struct {
	raw    mqtt.Client
	broker string
}

func clientOptions(opts Options) *mqtt.ClientOptions {
	o := mqtt.NewClientOptions()
	o.AddBroker(BrokerURL(opts.BrokerURL))
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	// handlers block while a request waits for its children, so each
	// message must be delivered on its own goroutine
	o.SetOrderMatters(false)
	return o
}

func New(opts Options) (*Client, error) {
	o := clientOptions(opts)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(opts.ConnectTimeout == 0)
	o.SetConnectRetryInterval(2 * time.Second)
	c := mqtt.NewClient(o)

	token := c.Connect()
	if opts.ConnectTimeout > 0 {
		if !token.WaitTimeout(opts.ConnectTimeout) {
			return nil, fmt.Errorf("connect to %s: timed out after %s", opts.BrokerURL, opts.ConnectTimeout)
		}
	} else {
		token.Wait()
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.BrokerURL, token.Error())
	}
	return &Client{raw: c, broker: opts.BrokerURL}, nil
}

func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	token := c.raw.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	token := c.raw.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Client) Unsubscribe(topics ...string) error {
	token := c.raw.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

func (c *Client) Close() {
	c.raw.Disconnect(250)
}

func (c *Client) String() string {
	return fmt.Sprintf("MQTTClient(%s)", c.broker)
}

// BrokerURL turns a host:port address into a broker URL. Addresses that
// already carry a scheme are returned unchanged.
func BrokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// Dialer publishes on a child's broker through a short-lived connection,
// reusing the credentials of this gateway.
type Dialer struct {
	ClientPrefix string
	Username     string
	Password     string
	Timeout      time.Duration
}

// PublishTo connects to addr, publishes once with QoS 1 and disconnects.
func (d *Dialer) PublishTo(ctx context.Context, addr, topic string, payload []byte) error {
	wait := d.Timeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < wait {
			wait = left
		}
	}
	if wait <= 0 {
		return fmt.Errorf("publish to %s: %w", addr, context.DeadlineExceeded)
	}

	o := clientOptions(Options{
		BrokerURL: addr,
		ClientID:  fmt.Sprintf("%s-down-%d", d.ClientPrefix, time.Now().UnixNano()),
		Username:  d.Username,
		Password:  d.Password,
	})
	o.SetConnectTimeout(wait)
	c := mqtt.NewClient(o)

	token := c.Connect()
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("connect to child %s: timed out", addr)
	}
	if token.Error() != nil {
		return fmt.Errorf("connect to child %s: %w", addr, token.Error())
	}
	defer c.Disconnect(250)

	pub := c.Publish(topic, 1, false, payload)
	if !pub.WaitTimeout(wait) {
		return fmt.Errorf("publish %s to child %s: timed out", topic, addr)
	}
	if pub.Error() != nil {
		return fmt.Errorf("publish %s to child %s: %w", topic, addr, pub.Error())
	}
	return nil
}
