package modem

import (
	"context"
	"errors"
	"fmt"

	"i4.energy/across/wifigw/at"
)

// LinkStatus is the answer to AT+LKSTT.
type LinkStatus struct {
	// Connected is true when the first reply field is "1".
	Connected bool
	Fields    []string
	// Raw is the complete reply, terminator excluded.
	Raw string
}

// NetworkStatus queries the link layer. Any terminated reply is a success;
// only a timeout or a transport failure returns an error.
func (m *Modem) NetworkStatus(ctx context.Context) (LinkStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.exec(ctx, at.CmdLinkStatus, m.config.atTimeout)
	if err != nil {
		return LinkStatus{Raw: raw}, err
	}

	reply, _ := at.ParseReply(raw)
	return LinkStatus{
		Connected: reply.Type == at.TypeOK && reply.Field(0) == "1",
		Fields:    reply.Fields,
		Raw:       raw,
	}, nil
}

// WaitForNetwork blocks until the module reports a connected link, polling
// AT+LKSTT at the configured interval. It gives up when ctx is done or the
// configured network timeout elapses; with a zero timeout only ctx can stop
// it.
func (m *Modem) WaitForNetwork(ctx context.Context) error {
	if t := m.config.networkTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		status, err := m.NetworkStatus(ctx)
		switch {
		case err == nil && status.Connected:
			m.logger.Info("Network connected", "attempts", attempt, "status", status.Raw)
			return nil
		case errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrNotInitialized):
			// Fail fast on critical errors
			return fmt.Errorf("network status check failed: %w", err)
		case err != nil:
			m.logger.Debug("Network status check failed", "attempt", attempt, "error", err)
		default:
			m.logger.Debug("Waiting for network", "attempt", attempt, "status", status.Raw)
		}

		if err := m.clock.Sleep(ctx, m.config.networkPollInterval); err != nil {
			return fmt.Errorf("network not connected after %d attempts: %w", attempt, err)
		}
	}
}
