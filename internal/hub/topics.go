package hub

// Bus topics the hub publishes to. External collaborators (the analytics
// collector, presence-style services) subscribe to these; the hub itself
// never reads them back.
const (
	// TopicAnalyticsReceived carries every analytics_update relayed by a client.
	TopicAnalyticsReceived = "analytics.events.received"
	// TopicSessionConnected is published when a session is registered.
	TopicSessionConnected = "hub.session.connected"
	// TopicSessionDisconnected is published when a session is removed.
	TopicSessionDisconnected = "hub.session.disconnected"
)
