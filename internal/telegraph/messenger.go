package telegraph

import (
	"context"
	"fmt"

	"github.com/zulandar/muster/internal/outbox"
)

// AdapterMessenger delivers notifications as private messages through an
// Adapter. Adapters without DirectMessenger support fail every send, which
// leaves all notifications buffered for /notifications.
type AdapterMessenger struct {
	adapter Adapter
}

var _ outbox.Messenger = (*AdapterMessenger)(nil)

// NewAdapterMessenger wraps adapter.
func NewAdapterMessenger(adapter Adapter) *AdapterMessenger {
	return &AdapterMessenger{adapter: adapter}
}

// Send delivers text to userID.
func (m *AdapterMessenger) Send(ctx context.Context, userID, text string) error {
	dm, ok := m.adapter.(DirectMessenger)
	if !ok {
		return fmt.Errorf("telegraph: adapter %T cannot send direct messages", m.adapter)
	}
	if err := dm.SendDirect(ctx, userID, text); err != nil {
		return fmt.Errorf("telegraph: direct message to %s: %w", userID, err)
	}
	return nil
}
