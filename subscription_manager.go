package mqttd

import (
	"sync"
)

// SubscriptionEntry holds a subscription with its owner.
type SubscriptionEntry struct {
	ClientID     string
	Subscription Subscription
}

// SubscriptionManager routes topic names to subscribed clients.
// It is safe for concurrent use.
type SubscriptionManager struct {
	mu            sync.RWMutex
	matcher       *TopicMatcher
	subscriptions map[string]map[string]QoS // clientID -> filter -> qos
}

// NewSubscriptionManager creates a new subscription manager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		matcher:       NewTopicMatcher(),
		subscriptions: make(map[string]map[string]QoS),
	}
}

// Subscribe adds or replaces a subscription for a client. It returns true if
// the filter was new for this client.
// MQTT v3.1.1 spec: Section 3.8.4
func (m *SubscriptionManager) Subscribe(clientID string, sub Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added, err := m.matcher.Subscribe(sub.TopicFilter, clientID, sub.QoS)
	if err != nil {
		return false, err
	}

	filters, ok := m.subscriptions[clientID]
	if !ok {
		filters = make(map[string]QoS)
		m.subscriptions[clientID] = filters
	}
	filters[sub.TopicFilter] = sub.QoS

	return added, nil
}

// Unsubscribe removes a subscription for a client.
func (m *SubscriptionManager) Unsubscribe(clientID string, filter string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeSubscriptionLocked(clientID, filter)
}

func (m *SubscriptionManager) removeSubscriptionLocked(clientID string, filter string) bool {
	filters, ok := m.subscriptions[clientID]
	if !ok {
		return false
	}
	if _, ok := filters[filter]; !ok {
		return false
	}

	m.matcher.Unsubscribe(filter, clientID)
	delete(filters, filter)
	if len(filters) == 0 {
		delete(m.subscriptions, clientID)
	}
	return true
}

// UnsubscribeAll removes all subscriptions for a client and returns how many
// were removed.
func (m *SubscriptionManager) UnsubscribeAll(clientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	filters := m.subscriptions[clientID]
	for filter := range filters {
		m.matcher.Unsubscribe(filter, clientID)
	}
	delete(m.subscriptions, clientID)

	return len(filters)
}

// GetSubscriptions returns all subscriptions for a client.
func (m *SubscriptionManager) GetSubscriptions(clientID string) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filters := m.subscriptions[clientID]
	result := make([]Subscription, 0, len(filters))
	for filter, qos := range filters {
		result = append(result, Subscription{TopicFilter: filter, QoS: qos})
	}
	return result
}

// HasSubscriptions reports whether the client holds at least one subscription.
func (m *SubscriptionManager) HasSubscriptions(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subscriptions[clientID]) > 0
}

// Match returns every subscription whose filter matches topic. A client
// subscribed through overlapping filters appears once per filter.
func (m *SubscriptionManager) Match(topic string) []SubscriptionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []SubscriptionEntry
	m.matcher.Match(topic, func(clientID string, qos QoS) {
		result = append(result, SubscriptionEntry{
			ClientID:     clientID,
			Subscription: Subscription{QoS: qos},
		})
	})
	return result
}

// MatchForDelivery returns one entry per client subscribed to topic, carrying
// the highest QoS granted across the client's overlapping filters.
// MQTT v3.1.1 spec: Section 3.3.5
func (m *SubscriptionManager) MatchForDelivery(topic string) map[string]QoS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]QoS)
	m.matcher.Match(topic, func(clientID string, qos QoS) {
		if current, ok := result[clientID]; !ok || qos > current {
			result[clientID] = qos
		}
	})
	return result
}

// Count returns the total number of subscriptions.
func (m *SubscriptionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, filters := range m.subscriptions {
		count += len(filters)
	}
	return count
}

// ClientCount returns the number of clients with subscriptions.
func (m *SubscriptionManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subscriptions)
}
