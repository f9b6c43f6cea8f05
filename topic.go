package mqttd

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Topic errors.
var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName validates a topic name used in PUBLISH.
// Topic names cannot contain wildcards and must be valid UTF-8.
// MQTT v3.1.1 spec: Section 4.7.3
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if len(topic) > maxUint16 || !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	for i := range len(topic) {
		switch topic[i] {
		case 0, singleLevelWildcard, multiLevelWildcard:
			return ErrInvalidTopicName
		}
	}

	return nil
}

// ValidateTopicFilter validates a topic filter used in SUBSCRIBE and UNSUBSCRIBE.
// Wildcards must occupy a whole level and '#' must be the last level.
// MQTT v3.1.1 spec: Section 4.7.1
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if len(filter) > maxUint16 || !utf8.ValidString(filter) || strings.IndexByte(filter, 0) >= 0 {
		return ErrInvalidTopicFilter
	}

	rest := filter
	for {
		level, tail, more := strings.Cut(rest, string(topicSeparator))

		if strings.IndexByte(level, singleLevelWildcard) >= 0 && level != string(singleLevelWildcard) {
			return ErrInvalidTopicFilter
		}

		if strings.IndexByte(level, multiLevelWildcard) >= 0 {
			if level != string(multiLevelWildcard) || more {
				return ErrInvalidTopicFilter
			}
		}

		if !more {
			return nil
		}
		rest = tail
	}
}

// TopicMatch checks if a topic name matches a topic filter without allocating.
// Topics starting with '$' are not matched by a leading wildcard.
// MQTT v3.1.1 spec: Section 4.7.2
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	for {
		flevel, frest, fmore := strings.Cut(filter, string(topicSeparator))
		if flevel == string(multiLevelWildcard) {
			return true
		}

		tlevel, trest, tmore := strings.Cut(topic, string(topicSeparator))
		if flevel != string(singleLevelWildcard) && flevel != tlevel {
			return false
		}

		if !fmore {
			return !tmore
		}
		if !tmore {
			// "sport/#" also matches "sport"
			return frest == string(multiLevelWildcard)
		}

		filter, topic = frest, trest
	}
}

// IsSystemTopic returns true if the topic is a system topic ($SYS/).
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}

// TopicMatcher indexes topic filters in a trie. Each filter node holds the
// QoS granted to every subscribed client. It is not safe for concurrent use.
type TopicMatcher struct {
	root *topicNode
}

type topicNode struct {
	children    map[string]*topicNode
	subscribers map[string]QoS
}

func newTopicNode() *topicNode {
	return &topicNode{children: make(map[string]*topicNode)}
}

// NewTopicMatcher creates a new topic matcher.
func NewTopicMatcher() *TopicMatcher {
	return &TopicMatcher{root: newTopicNode()}
}

// Subscribe records clientID under filter. It returns true if the client was
// not subscribed to filter before.
func (m *TopicMatcher) Subscribe(filter, clientID string, qos QoS) (bool, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return false, err
	}

	node := m.root
	for level := range strings.SplitSeq(filter, string(topicSeparator)) {
		child, ok := node.children[level]
		if !ok {
			child = newTopicNode()
			node.children[level] = child
		}
		node = child
	}

	if node.subscribers == nil {
		node.subscribers = make(map[string]QoS)
	}
	_, existed := node.subscribers[clientID]
	node.subscribers[clientID] = qos
	return !existed, nil
}

// Unsubscribe removes clientID from filter and prunes empty nodes.
// It returns true if the subscription existed.
func (m *TopicMatcher) Unsubscribe(filter, clientID string) bool {
	levels := strings.Split(filter, string(topicSeparator))
	path := make([]*topicNode, 0, len(levels)+1)

	node := m.root
	path = append(path, node)
	for _, level := range levels {
		child, ok := node.children[level]
		if !ok {
			return false
		}
		node = child
		path = append(path, node)
	}

	if _, ok := node.subscribers[clientID]; !ok {
		return false
	}
	delete(node.subscribers, clientID)

	for i := len(levels) - 1; i >= 0; i-- {
		n := path[i+1]
		if len(n.children) > 0 || len(n.subscribers) > 0 {
			break
		}
		delete(path[i].children, levels[i])
	}

	return true
}

// Match calls fn for every subscription whose filter matches topic.
// A client subscribed through several filters is reported once per filter.
func (m *TopicMatcher) Match(topic string, fn func(clientID string, qos QoS)) {
	if ValidateTopicName(topic) != nil {
		return
	}

	levels := strings.Split(topic, string(topicSeparator))
	m.matchNode(m.root, levels, 0, topic[0] == '$', fn)
}

func (m *TopicMatcher) matchNode(node *topicNode, levels []string, idx int, system bool, fn func(string, QoS)) {
	wildcardsAllowed := !system || idx > 0

	if wildcardsAllowed {
		if child, ok := node.children[string(multiLevelWildcard)]; ok {
			for id, qos := range child.subscribers {
				fn(id, qos)
			}
		}
	}

	if idx == len(levels) {
		for id, qos := range node.subscribers {
			fn(id, qos)
		}
		return
	}

	if child, ok := node.children[levels[idx]]; ok {
		m.matchNode(child, levels, idx+1, system, fn)
	}

	if wildcardsAllowed {
		if child, ok := node.children[string(singleLevelWildcard)]; ok {
			m.matchNode(child, levels, idx+1, system, fn)
		}
	}
}
