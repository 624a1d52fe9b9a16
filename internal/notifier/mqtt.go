// Package notifier bridges scraper session events onto MQTT so shop-floor
// dashboards can follow a session without polling.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/pkg/log"
	pkgmqtt "github.com/printlot-io/printlot/pkg/mqtt"
	"github.com/printlot-io/printlot/pkg/options"
)

var _ core.EventSink = (*MQTTNotifier)(nil)

// MQTTNotifier publishes session events as JSON. Publish failures are logged
// and dropped; event delivery is best effort and never blocks a session.
type MQTTNotifier struct {
	client    pkgmqtt.Client
	topicRoot string
	logger    log.Logger
}

// NewMQTTNotifier connects a dedicated egress client.
func NewMQTTNotifier(opts *options.MqttOptions, logger log.Logger) (*MQTTNotifier, error) {
	if logger == nil {
		logger = log.Std()
	}

	cfg := opts.ToClientConfig()
	if cfg.ClientID != "" {
		cfg.ClientID += "-notifier"
	}

	client, err := pkgmqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Start(context.Background()); err != nil {
		return nil, err
	}

	return &MQTTNotifier{
		client:    client,
		topicRoot: opts.TopicRoot,
		logger:    logger.WithName("notifier"),
	}, nil
}

// Publish implements core.EventSink.
// Topic: {root}/sessions/{session_id}/{event_type}.
func (n *MQTTNotifier) Publish(ctx context.Context, event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error(err, "encode session event", "type", event.Type)
		return
	}

	topic := fmt.Sprintf("%s/sessions/%s/%s", n.topicRoot, event.SessionID, event.Type)
	if err := n.client.Publish(ctx, topic, 1, false, payload); err != nil {
		n.logger.Error(err, "publish session event", "topic", topic)
	}
}

// Close disconnects the egress client.
func (n *MQTTNotifier) Close(ctx context.Context) {
	n.client.Disconnect(ctx)
}
