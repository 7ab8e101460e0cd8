package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rathix/devserver/internal/state"
)

// StateEventPayload is the full snapshot sent on connect and after every
// route or config change.
type StateEventPayload struct {
	AppVersion            string           `json:"appVersion"`
	Mode                  string           `json:"mode"`
	PublicPath            string           `json:"publicPath"`
	Upstreams             []state.Upstream `json:"upstreams"`
	HealthCheckIntervalMs int              `json:"healthCheckIntervalMs"`
	LastReload            *time.Time       `json:"lastReload"`
	ConfigErrors          []string         `json:"configErrors"`
}

// formatSSEEvent renders one "event:/data:" frame.
func formatSSEEvent(eventType string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE event data: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", eventType, jsonData)
	return buf.Bytes(), nil
}

func formatKeepalive() []byte {
	return []byte(":keepalive\n\n")
}
