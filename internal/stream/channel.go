// Package stream maintains the bridge's websocket sessions: the trading
// socket for trade updates and one market-data socket per asset class.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/tradewire/alpacabridge/errs"
	"github.com/tradewire/alpacabridge/internal/observability"
)

const (
	pingInterval         = 30 * time.Second
	pingTimeout          = 5 * time.Second
	controlWriteTimeout  = 5 * time.Second
	maxReconnectInterval = 30 * time.Second
	defaultHandshake     = 10 * time.Second
)

// Tier is one feed level a channel may connect at, tried in order.
type Tier struct {
	Name string
	URL  string
}

// Handshake authenticates a freshly dialed transport. It must return an
// error with errs.CodeAuth when the venue refuses authorization, so the
// channel can distinguish entitlement failures from transport faults.
type Handshake func(ctx context.Context, conn Conn) error

// Channel owns one websocket session. The first successful tier is pinned;
// reconnection always targets the pinned tier.
type Channel struct {
	name             string
	tiers            []Tier
	dial             Dialer
	handshake        Handshake
	onMessage        func([]byte)
	handshakeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	conn   Conn
	connMu sync.RWMutex

	state atomic.Int32

	// Set once by Connect, immutable afterwards.
	pinned Tier

	trades map[string]struct{}
	quotes map[string]struct{}
	subsMu sync.Mutex

	done chan struct{}
}

// NewChannel builds a channel. onMessage receives every non-control frame.
func NewChannel(name string, tiers []Tier, dial Dialer, handshake Handshake, handshakeTimeout time.Duration, onMessage func([]byte)) *Channel {
	if dial == nil {
		dial = DialWebsocket
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshake
	}
	return &Channel{
		name:             name,
		tiers:            tiers,
		dial:             dial,
		handshake:        handshake,
		onMessage:        onMessage,
		handshakeTimeout: handshakeTimeout,
		trades:           make(map[string]struct{}),
		quotes:           make(map[string]struct{}),
		done:             make(chan struct{}),
	}
}

// State reports the channel's current lifecycle position.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

// Tier returns the pinned feed tier name. Empty until Connect succeeds.
func (c *Channel) Tier() string {
	return c.pinned.Name
}

// Connect walks the tier list in order, pinning the first tier that dials
// and authorizes. When every tier fails authorization the channel ends
// Unauthorized; mixed failures leave it Disconnected.
func (c *Channel) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// Each session owns its completion signal, so a channel can be
	// reconnected after Close without the previous loop closing it again.
	done := make(chan struct{})
	c.done = done

	var failures []error
	allAuth := true
	for _, tier := range c.tiers {
		conn, err := c.attempt(ctx, tier)
		if err == nil {
			c.pinned = tier
			c.adopt(conn)
			c.setState(StateAuthorized)
			observability.Log().Info("stream channel authorized",
				observability.Field{Key: "channel", Value: c.name},
				observability.Field{Key: "tier", Value: tier.Name})
			go c.run(conn, done)
			return nil
		}
		if errs.CodeOf(err) != errs.CodeAuth {
			allAuth = false
		}
		failures = append(failures, fmt.Errorf("tier %s: %w", tier.Name, err))
	}

	c.cancel()
	if allAuth && len(failures) > 0 {
		c.setState(StateUnauthorized)
	} else {
		c.setState(StateDisconnected)
	}
	return observability.AggregateErrors("connect "+c.name+" channel", failures,
		observability.Field{Key: "channel", Value: c.name})
}

func (c *Channel) attempt(ctx context.Context, tier Tier) (Conn, error) {
	c.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	conn, err := c.dial(dialCtx, tier.URL)
	cancel()
	if err != nil {
		return nil, errs.New("alpaca", errs.CodeNetwork,
			errs.WithMessage("dial "+tier.URL), errs.WithCause(err))
	}

	c.setState(StateAuthenticating)
	if c.handshake != nil {
		hsCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
		err = c.handshake(hsCtx, conn)
		cancel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (c *Channel) adopt(conn Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// Close tears the channel down and stops reconnection.
func (c *Channel) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.setState(StateDisconnected)
}

// Done is closed once the supervising loop has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// run supervises the session: it pumps the current connection and, when it
// drops, re-dials the pinned tier with exponential backoff until the channel
// is closed.
func (c *Channel) run(conn Conn, done chan struct{}) {
	defer close(done)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxReconnectInterval

	for {
		if conn != nil {
			err := c.pump(conn)
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			_ = conn.Close()
			conn = nil

			if c.ctx.Err() != nil {
				return
			}
			c.setState(StateDisconnected)
			if err != nil && !errors.Is(err, context.Canceled) {
				observability.Log().Warn("stream channel dropped",
					observability.Field{Key: "channel", Value: c.name},
					observability.Field{Key: "error", Value: err.Error()})
			}
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxReconnectInterval
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(sleep):
		}

		next, err := c.attempt(c.ctx, c.pinned)
		if err != nil {
			c.setState(StateDisconnected)
			observability.Log().Warn("stream channel reconnect failed",
				observability.Field{Key: "channel", Value: c.name},
				observability.Field{Key: "tier", Value: c.pinned.Name},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}

		c.adopt(next)
		c.setState(StateAuthorized)
		backoffCfg.Reset()
		if err := c.subscribeAll(c.ctx); err != nil {
			observability.Log().Warn("resubscribe after reconnect failed",
				observability.Field{Key: "channel", Value: c.name},
				observability.Field{Key: "error", Value: err.Error()})
		}
		conn = next
	}
}

// pump runs the read and ping loops for one connection instance; whichever
// fails first wins and tears the session down.
func (c *Channel) pump(conn Conn) error {
	connCtx, connCancel := context.WithCancel(c.ctx)
	defer connCancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- c.readLoop(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- c.pingLoop(connCtx, conn)
	}()

	first := <-errCh
	connCancel()
	_ = conn.Close()
	wg.Wait()
	return first
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
				return context.Canceled
			}
			if status := websocket.CloseStatus(err); status != -1 {
				if status == websocket.StatusNormalClosure {
					return context.Canceled
				}
				return fmt.Errorf("read: remote closed with status %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
					return context.Canceled
				}
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// Subscribe adds trade and quote subscriptions, ignoring symbols already
// subscribed, and pushes the delta to the venue.
func (c *Channel) Subscribe(ctx context.Context, trades, quotes []string) error {
	c.subsMu.Lock()
	newTrades := addAll(c.trades, trades)
	newQuotes := addAll(c.quotes, quotes)
	c.subsMu.Unlock()

	if len(newTrades) == 0 && len(newQuotes) == 0 {
		return nil
	}
	return c.sendAction(ctx, "subscribe", newTrades, newQuotes)
}

// Unsubscribe removes subscriptions; unknown symbols are ignored.
func (c *Channel) Unsubscribe(ctx context.Context, trades, quotes []string) error {
	c.subsMu.Lock()
	goneTrades := removeAll(c.trades, trades)
	goneQuotes := removeAll(c.quotes, quotes)
	c.subsMu.Unlock()

	if len(goneTrades) == 0 && len(goneQuotes) == 0 {
		return nil
	}
	return c.sendAction(ctx, "unsubscribe", goneTrades, goneQuotes)
}

// subscribeAll replays every active subscription, used after reconnection.
func (c *Channel) subscribeAll(ctx context.Context) error {
	c.subsMu.Lock()
	trades := keys(c.trades)
	quotes := keys(c.quotes)
	c.subsMu.Unlock()

	if len(trades) == 0 && len(quotes) == 0 {
		return nil
	}
	return c.sendAction(ctx, "subscribe", trades, quotes)
}

func (c *Channel) sendAction(ctx context.Context, action string, trades, quotes []string) error {
	frame, err := json.Marshal(subscribeAction{Action: action, Trades: trades, Quotes: quotes})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", action, err)
	}
	return c.write(ctx, frame)
}

func (c *Channel) write(ctx context.Context, frame []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		// The session is between connections; the replay after reconnect
		// covers the subscription state.
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, controlWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, frame); err != nil {
		return errs.New("alpaca", errs.CodeNetwork,
			errs.WithMessage("write control frame on "+c.name), errs.WithCause(err))
	}
	return nil
}

func addAll(set map[string]struct{}, items []string) []string {
	added := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := set[item]; ok {
			continue
		}
		set[item] = struct{}{}
		added = append(added, item)
	}
	return added
}

func removeAll(set map[string]struct{}, items []string) []string {
	removed := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := set[item]; !ok {
			continue
		}
		delete(set, item)
		removed = append(removed, item)
	}
	return removed
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
