package actuator

import (
	"context"
	"log"
	"strings"
	"time"

	"go.bug.st/serial"

	"plategate/internal/metrics"
)

// Connect enumerates the host's serial ports, opens the first one whose name
// matches the configured patterns, and returns a gateway over it.  Connection
// is attempted once; any failure degrades to simulation mode rather than
// erroring, since ledger correctness never depends on actuator presence.
func Connect(ctx context.Context, cfg Config, m *metrics.Metrics, logger *log.Logger) *Gateway {
	cfg = cfg.withDefaults()

	ports, err := serial.GetPortsList()
	if err != nil {
		logger.Printf("actuator: port scan failed: %v (simulation mode)", err)
		return New(nil, cfg, m, logger)
	}

	for _, name := range ports {
		if !matchesAny(name, cfg.Patterns) {
			continue
		}
		port, err := serial.Open(name, &serial.Mode{BaudRate: cfg.BaudRate})
		if err != nil {
			logger.Printf("actuator: open %s: %v", name, err)
			continue
		}

		// The controller resets when the port opens; give it time to boot
		// before the first command.
		settle := time.NewTimer(cfg.SettleDelay)
		select {
		case <-settle.C:
		case <-ctx.Done():
			settle.Stop()
		}

		logger.Printf("actuator: connected on %s", name)
		return New(port, cfg, m, logger)
	}

	logger.Printf("actuator: no gate controller detected (simulation mode)")
	return New(nil, cfg, m, logger)
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}
