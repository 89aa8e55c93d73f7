// Package station runs the per-direction observation loop: poll the
// recognizer, validate the raw text, aggregate validated codes, hand each
// confirmed code to the controller.  One goroutine per station.
package station

import (
	"context"
	"log"
	"time"

	"plategate/internal/controller"
	"plategate/internal/metrics"
	"plategate/internal/plate"
	"plategate/internal/vote"
)

// DefaultInterval is the recognizer polling cadence.
const DefaultInterval = 250 * time.Millisecond

// Recognizer supplies one raw OCR reading per call.  ok is false when no
// plate is currently in frame; err is reserved for transport failures, which
// the loop logs and rides out.
type Recognizer interface {
	Observe(ctx context.Context) (raw string, ok bool, err error)
}

type Config struct {
	Name     string
	Interval time.Duration // default 250ms
}

// Station wires one recognizer through validation and the vote window into
// one controller.
type Station struct {
	cfg       Config
	rec       Recognizer
	validator *plate.Validator
	window    *vote.Window
	ctrl      *controller.Controller
	metrics   *metrics.Metrics
	logger    *log.Logger
}

func New(cfg Config, rec Recognizer, v *plate.Validator, w *vote.Window, ctrl *controller.Controller, m *metrics.Metrics, logger *log.Logger) *Station {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Station{
		cfg:       cfg,
		rec:       rec,
		validator: v,
		window:    w,
		ctrl:      ctrl,
		metrics:   m,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled and returns ctx.Err().  Recognizer and
// validation failures never stop the loop.
func (s *Station) Run(ctx context.Context) error {
	s.logger.Printf("station[%s]: observing every %v", s.cfg.Name, s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// step runs one poll-validate-vote-decide pass.
func (s *Station) step(ctx context.Context) {
	raw, ok, err := s.rec.Observe(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("station[%s]: observe: %v", s.cfg.Name, err)
		}
		return
	}
	if !ok {
		return
	}

	code, err := s.validator.Validate(raw)
	if err != nil {
		s.metrics.Validation("rejected")
		return
	}
	s.metrics.Validation("accepted")
	s.metrics.Observation(s.cfg.Name)

	winner, decided := s.window.Observe(code)
	if !decided {
		return
	}
	s.ctrl.Decide(ctx, winner)
}
