// Package controller holds the access decision state machine.  One controller
// instance serves one station (entry or exit).  A confirmed plate comes in,
// exactly one outcome comes out: the gate opens for one cycle, the buzzer
// alerts, or nothing actuates at all.  The ledger write and the actuation are
// ordered so the ledger is never behind the hardware.
package controller

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"plategate/internal/ledger"
	"plategate/internal/metrics"
	"plategate/internal/plate"
)

// Station names the direction a controller serves.
type Station string

const (
	StationEntry Station = "entry"
	StationExit  Station = "exit"
)

// Outcome is the result class of one decision cycle.
type Outcome string

const (
	// OutcomeGranted: the ledger was updated and the gate cycled open.
	OutcomeGranted Outcome = "granted"

	// OutcomeDenied: the request was refused and recorded.
	OutcomeDenied Outcome = "denied"

	// OutcomeSkipped: the observation was absorbed without any ledger write
	// or actuation, e.g. re-reads of a plate that was just granted entry.
	OutcomeSkipped Outcome = "skipped"
)

// Gate is the actuation surface the controller drives.  actuator.Gateway
// satisfies it.
type Gate interface {
	OpenCycle(ctx context.Context, hold time.Duration) error
	Alert(ctx context.Context) error
}

// Decision is the full account of one cycle, returned to the caller and
// mirrored into the audit log.
type Decision struct {
	CycleID   string
	Station   Station
	Plate     plate.Code
	Outcome   Outcome
	Reason    string
	DecidedAt time.Time
}

type Config struct {
	Station Station

	// Cooldown suppresses repeat grants for the same plate at the entry
	// station, absorbing the re-reads a camera produces while the vehicle
	// is still in frame.  Default 300s.
	Cooldown time.Duration

	// GateHold is how long the gate stays open after a grant.  Default 15s.
	GateHold time.Duration

	// Now is the clock; tests inject a fake.  Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = 300 * time.Second
	}
	if c.GateHold <= 0 {
		c.GateHold = 15 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Controller decides entry and exit requests against the ledger and drives
// the gate.  Decide is not safe for concurrent use; each station runs one
// sequential observation loop, which is the only caller.
type Controller struct {
	cfg     Config
	store   ledger.Store
	audit   ledger.DecisionLog
	gate    Gate
	metrics *metrics.Metrics
	logger  *log.Logger

	lastGrantPlate plate.Code
	lastGrantAt    time.Time
}

// New builds a controller.  audit may be nil when the backend keeps no
// decision log.
func New(cfg Config, store ledger.Store, audit ledger.DecisionLog, gate Gate, m *metrics.Metrics, logger *log.Logger) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		store:   store,
		audit:   audit,
		gate:    gate,
		metrics: m,
		logger:  logger,
	}
}

// Decide runs one decision cycle for a confirmed plate.  Ledger errors deny
// rather than fail: the station loop keeps observing regardless.
func (c *Controller) Decide(ctx context.Context, code plate.Code) Decision {
	now := c.cfg.Now().UTC()
	d := Decision{
		CycleID:   uuid.NewString(),
		Station:   c.cfg.Station,
		Plate:     code,
		DecidedAt: now,
	}

	switch c.cfg.Station {
	case StationExit:
		c.decideExit(ctx, &d, now)
	default:
		c.decideEntry(ctx, &d, now)
	}

	c.finish(ctx, d)
	return d
}

func (c *Controller) decideEntry(ctx context.Context, d *Decision, now time.Time) {
	if c.lastGrantPlate == d.Plate && !c.lastGrantAt.IsZero() &&
		now.Sub(c.lastGrantAt) <= c.cfg.Cooldown {
		d.Outcome = OutcomeSkipped
		d.Reason = "cooldown"
		return
	}

	unpaid, err := c.store.HasUnpaidOpenSession(ctx, d.Plate)
	if err != nil {
		d.Outcome = OutcomeDenied
		d.Reason = "ledger_error"
		c.logger.Printf("controller[%s]: unpaid check for %s: %v", c.cfg.Station, d.Plate, err)
		return
	}
	if unpaid {
		d.Outcome = OutcomeDenied
		d.Reason = "duplicate_unpaid"
		c.alert(ctx, d)
		return
	}

	if _, err := c.store.OpenSession(ctx, d.Plate, now); err != nil {
		d.Outcome = OutcomeDenied
		if errors.Is(err, ledger.ErrDuplicateActiveSession) {
			d.Reason = "session_already_open"
			c.alert(ctx, d)
			return
		}
		d.Reason = "ledger_error"
		c.logger.Printf("controller[%s]: open session for %s: %v", c.cfg.Station, d.Plate, err)
		return
	}

	d.Outcome = OutcomeGranted
	d.Reason = "session_opened"
	c.lastGrantPlate = d.Plate
	c.lastGrantAt = now
	c.open(ctx, d)
}

// decideExit has no cooldown: the singleton open session already makes a
// grant unrepeatable, and every failed close must surface in the
// unauthorized-exit log.
func (c *Controller) decideExit(ctx context.Context, d *Decision, now time.Time) {
	err := c.store.CloseSession(ctx, d.Plate, now)
	switch {
	case err == nil:
		d.Outcome = OutcomeGranted
		d.Reason = "session_closed"
		c.open(ctx, d)

	case errors.Is(err, ledger.ErrNoEligibleSession):
		d.Outcome = OutcomeDenied
		d.Reason = "unauthorized_exit"
		if rerr := c.store.RecordUnauthorizedExit(ctx, d.Plate, now); rerr != nil {
			c.logger.Printf("controller[%s]: record unauthorized exit for %s: %v", c.cfg.Station, d.Plate, rerr)
		}
		c.metrics.UnauthorizedExit()
		c.alert(ctx, d)

	default:
		d.Outcome = OutcomeDenied
		d.Reason = "ledger_error"
		c.logger.Printf("controller[%s]: close session for %s: %v", c.cfg.Station, d.Plate, err)
	}
}

func (c *Controller) open(ctx context.Context, d *Decision) {
	if err := c.gate.OpenCycle(ctx, c.cfg.GateHold); err != nil {
		c.logger.Printf("controller[%s]: gate cycle for %s: %v", c.cfg.Station, d.Plate, err)
	}
}

func (c *Controller) alert(ctx context.Context, d *Decision) {
	if err := c.gate.Alert(ctx); err != nil {
		c.logger.Printf("controller[%s]: alert for %s: %v", c.cfg.Station, d.Plate, err)
	}
}

// finish mirrors the decision into the audit log and the counters.  Audit
// failures are logged, never fatal: the gate already acted.
func (c *Controller) finish(ctx context.Context, d Decision) {
	c.logger.Printf("controller[%s]: %s plate=%s reason=%s cycle=%s",
		d.Station, d.Outcome, d.Plate, d.Reason, d.CycleID)
	c.metrics.Decision(string(d.Station), string(d.Outcome))

	if c.audit == nil || d.Outcome == OutcomeSkipped {
		return
	}
	rec := ledger.DecisionRecord{
		CycleID:   d.CycleID,
		Station:   string(d.Station),
		Plate:     d.Plate,
		Outcome:   string(d.Outcome),
		Reason:    d.Reason,
		DecidedAt: d.DecidedAt,
	}
	if err := c.audit.RecordDecision(ctx, rec); err != nil {
		c.logger.Printf("controller[%s]: audit decision %s: %v", d.Station, d.CycleID, err)
	}
}
