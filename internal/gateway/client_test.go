package gateway

import (
	"sync"
	"testing"

	"github.com/firezap/firezap/pkg/protocol"
)

func TestClientSendAfterClose(t *testing.T) {
	c := NewClient(nil, nil)
	c.Close()
	c.Close() // idempotent

	// Deliveries racing a disconnect must degrade to drops, never a
	// send on a closed channel.
	c.SendEvent(*protocol.NewEvent(protocol.EventSessionStatus, protocol.StatusPayload{
		SessionID: "alice",
		Status:    protocol.StatusReady,
	}))
	c.SendResponse(protocol.NewOKResponse("r1", nil))
}

func TestClientCloseConcurrentWithDelivery(t *testing.T) {
	c := NewClient(nil, nil)
	frame := *protocol.NewEvent(protocol.EventSessionStatus, protocol.StatusPayload{
		SessionID: "alice",
		Status:    protocol.StatusReady,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.SendEvent(frame)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Close()
	}()
	wg.Wait()
}
