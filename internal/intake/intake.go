// Package intake receives alert records from the outside world and feeds
// them to the bridge. Two transports are provided: a Kafka consumer for
// alerts produced by detection pipelines, and a DTLS listener for agents
// that push alerts directly over UDP. Both decode the same JSON record
// format and share one sink.
package intake

import (
	"context"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/bridge"
	"github.com/srihari-976/W.A.R.N/internal/response"
)

// AlertSink consumes decoded alert records. *bridge.Bridge satisfies it.
type AlertSink interface {
	Handle(ctx context.Context, rec *bridge.AlertRecord) ([]*response.Instance, error)
}

// handleTimeout bounds how long a single record may spend in the sink.
// Orchestration is queue-bound and fast; anything longer means a stuck
// downstream and the transport should move on.
const handleTimeout = 30 * time.Second
