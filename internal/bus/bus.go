package bus

import (
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// New builds the event bus the config asks for: the in-process channel
// bus for the Community tier, NATS for Pro.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
