// Package controlplane is the boundary to flowctl, an external
// pipeline control plane that tracks which data-plane components are
// alive and what they're processing: registration plus a periodic
// heartbeat carrying a handful of liveness counters, spoken through
// the flowctl module's own generated ControlPlane client.
package controlplane

import (
	"context"
	"log"
	"sync"
	"time"

	flowctlpb "github.com/withobsrvr/flowctl/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// MetricsSource supplies the gauges this process reports at each
// heartbeat.
type MetricsSource interface {
	ControlPlaneMetrics() map[string]float64
}

// Controller manages registration with, and periodic heartbeats to,
// a flowctl control plane. A failed Register doesn't prevent the
// heartbeat loop from running: it falls back to a locally generated
// service ID, so a control plane that's briefly unreachable at
// startup doesn't block this process from doing its actual job.
type Controller struct {
	client   flowctlpb.ControlPlaneClient
	metrics  MetricsSource
	interval time.Duration
	info     *flowctlpb.ServiceInfo

	mu            sync.Mutex
	serviceID     string
	stopHeartbeat chan struct{}
}

// NewController constructs a Controller. interval is the heartbeat
// period (FLOWCTL_HEARTBEAT_INTERVAL).
func NewController(client flowctlpb.ControlPlaneClient, metrics MetricsSource, interval time.Duration, info *flowctlpb.ServiceInfo) *Controller {
	return &Controller{
		client:        client,
		metrics:       metrics,
		interval:      interval,
		info:          info,
		stopHeartbeat: make(chan struct{}),
	}
}

// Register registers this process with the control plane and starts
// the background heartbeat loop. It never returns an error: a failed
// registration is logged and falls back to a simulated service ID,
// since control-plane visibility is non-critical to this process's
// own function.
func (c *Controller) Register(ctx context.Context) {
	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ack, err := c.client.Register(regCtx, c.info)
	if err != nil {
		c.serviceID = "sim-copytrader-" + time.Now().Format("20060102150405")
		log.Printf("controlplane: register failed, using simulated service id %s: %v", c.serviceID, err)
	} else {
		c.serviceID = ack.ServiceId
		log.Printf("controlplane: registered with service id %s", c.serviceID)
		if len(ack.TopicNames) > 0 {
			log.Printf("controlplane: assigned topics: %v", ack.TopicNames)
		}
	}
	go c.heartbeatLoop()
}

func (c *Controller) heartbeatLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sendHeartbeat()
		case <-c.stopHeartbeat:
			return
		}
	}
}

func (c *Controller) sendHeartbeat() {
	var m map[string]float64
	if c.metrics != nil {
		m = c.metrics.ControlPlaneMetrics()
	}
	hb := &flowctlpb.ServiceHeartbeat{
		ServiceId: c.serviceID,
		Timestamp: timestamppb.Now(),
		Metrics:   m,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.client.Heartbeat(ctx, hb); err != nil {
		log.Printf("controlplane: heartbeat failed: %v", err)
	}
}

// Stop ends the heartbeat loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopHeartbeat:
	default:
		close(c.stopHeartbeat)
	}
}
