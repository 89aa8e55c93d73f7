// Package actuator drives the physical gate controller over a half-duplex
// serial line.  The wire protocol is single command bytes: '1' opens the
// gate, '0' closes it (or silences the buzzer), '2' triggers the alert
// buzzer.  The gateway serializes access so the OPEN/CLOSE pair of one
// decision cycle never interleaves with another cycle's commands.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"plategate/internal/metrics"
)

type Command byte

const (
	CmdClose Command = '0'
	CmdOpen  Command = '1'
	CmdAlert Command = '2'
)

func (c Command) String() string {
	switch c {
	case CmdOpen:
		return "open"
	case CmdClose:
		return "close"
	case CmdAlert:
		return "alert"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(c))
	}
}

var (
	// ErrTimedOut: the controller did not accept the command byte in time.
	ErrTimedOut = errors.New("actuator: command write timed out")

	// ErrChannel: the serial channel failed mid-write.
	ErrChannel = errors.New("actuator: channel write failed")
)

// Channel is the raw wire to the gate controller.  serial.Port satisfies it.
type Channel interface {
	io.WriteCloser
}

type Config struct {
	// Patterns are substrings matched against candidate port names during
	// discovery.  Defaults to the usual USB serial adapter names.
	Patterns []string

	BaudRate     int           // default 9600
	SettleDelay  time.Duration // wait after open for the controller to boot; default 2s
	WriteTimeout time.Duration // per-command deadline; default 2s
	AlertHold    time.Duration // buzzer duration; default 3s
}

func (c Config) withDefaults() Config {
	if len(c.Patterns) == 0 {
		c.Patterns = []string{"ttyUSB", "ttyACM"}
	}
	if c.BaudRate <= 0 {
		c.BaudRate = 9600
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.AlertHold <= 0 {
		c.AlertHold = 3 * time.Second
	}
	return c
}

// Gateway owns the single exclusive channel to the gate hardware.  A nil
// channel puts it in simulation mode: every send is a logged no-op, so the
// decision pipeline keeps its ledger bookkeeping regardless of hardware
// presence.
type Gateway struct {
	mu      sync.Mutex
	ch      Channel
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
}

// New wraps an already-open channel (or nil for simulation mode).
func New(ch Channel, cfg Config, m *metrics.Metrics, logger *log.Logger) *Gateway {
	return &Gateway{ch: ch, cfg: cfg.withDefaults(), logger: logger, metrics: m}
}

// Simulated reports whether no hardware channel is attached.
func (g *Gateway) Simulated() bool { return g.ch == nil }

// OpenCycle runs one grant cycle: OPEN, hold, CLOSE.  The hold wait is
// cancellable through ctx but the paired CLOSE is sent regardless, so a
// shutdown never leaves the gate open.  The channel lock is held across the
// whole cycle.
func (g *Gateway) OpenCycle(ctx context.Context, hold time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.send(CmdOpen); err != nil {
		return err
	}
	g.wait(ctx, hold)
	return g.send(CmdClose)
}

// Alert triggers the buzzer for the configured duration, then silences it.
// Same cancellation contract as OpenCycle.
func (g *Gateway) Alert(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.send(CmdAlert); err != nil {
		return err
	}
	g.wait(ctx, g.cfg.AlertHold)
	return g.send(CmdClose)
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		return nil
	}
	err := g.ch.Close()
	g.ch = nil
	return err
}

func (g *Gateway) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// send writes one command byte, bounded by the configured write timeout.
// Callers must hold g.mu.
func (g *Gateway) send(cmd Command) error {
	if g.ch == nil {
		g.logger.Printf("actuator: [sim] %s", cmd)
		g.metrics.GateCommand(cmd.String(), "simulated")
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := g.ch.Write([]byte{byte(cmd)})
		errc <- err
	}()

	t := time.NewTimer(g.cfg.WriteTimeout)
	defer t.Stop()
	select {
	case err := <-errc:
		if err != nil {
			g.metrics.GateCommand(cmd.String(), "error")
			return fmt.Errorf("%w: %s: %v", ErrChannel, cmd, err)
		}
		g.metrics.GateCommand(cmd.String(), "ok")
		return nil
	case <-t.C:
		g.metrics.GateCommand(cmd.String(), "timeout")
		// The orphaned write may still land on the wire later; drop the
		// channel so a stale byte cannot interleave with a later cycle.
		ch := g.ch
		g.ch = nil
		go func() {
			<-errc
			_ = ch.Close()
		}()
		g.logger.Printf("actuator: %s write timed out, dropping channel (simulation mode)", cmd)
		return fmt.Errorf("%w: %s", ErrTimedOut, cmd)
	}
}
