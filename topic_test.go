package mqttd

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr error
	}{
		{"valid simple", "test", nil},
		{"valid with slash", "test/topic", nil},
		{"valid with multiple levels", "a/b/c/d", nil},
		{"valid starting with slash", "/test", nil},
		{"valid ending with slash", "test/", nil},
		{"valid separator only", "/", nil},
		{"valid UTF-8", "sensor/température/°C", nil},
		{"valid system", "$SYS/broker/uptime", nil},
		{"empty", "", ErrEmptyTopic},
		{"contains +", "test/+/topic", ErrInvalidTopicName},
		{"contains #", "test/#", ErrInvalidTopicName},
		{"contains null", "test\x00topic", ErrInvalidTopicName},
		{"invalid UTF-8", string([]byte{'a', 0xFF}), ErrInvalidTopicName},
		{"too long", strings.Repeat("a", maxUint16+1), ErrInvalidTopicName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicName(tt.topic)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		wantErr error
	}{
		{"valid simple", "test", nil},
		{"valid with slash", "test/topic", nil},
		{"valid single wildcard", "+", nil},
		{"valid single wildcard in middle", "test/+/topic", nil},
		{"valid multi wildcard", "#", nil},
		{"valid multi wildcard at end", "test/#", nil},
		{"valid both wildcards", "+/tennis/#", nil},
		{"valid empty levels", "//", nil},
		{"empty", "", ErrEmptyTopic},
		{"+ inside level", "test+/topic", ErrInvalidTopicFilter},
		{"# inside level", "test#", ErrInvalidTopicFilter},
		{"# not last", "test/#/more", ErrInvalidTopicFilter},
		{"# followed by separator", "#/", ErrInvalidTopicFilter},
		{"contains null", "a\x00", ErrInvalidTopicFilter},
		{"invalid UTF-8", string([]byte{0xC3, 0x28}), ErrInvalidTopicFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicFilter(tt.filter)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

var topicMatchCases = []struct {
	filter string
	topic  string
	match  bool
}{
	{"a", "a", true},
	{"a/b/c", "a/b/c", true},
	{"a", "b", false},
	{"a/b", "a/b/c", false},
	{"a/b/c", "a/b", false},

	{"+", "a", true},
	{"+", "a/b", false},
	{"+/+", "a/b", true},
	{"a/+/c", "a/b/c", true},
	{"a/+/c", "a/b/d", false},
	{"sport/+", "sport/", true},
	{"sport/+", "sport", false},
	{"+/tennis/#", "sport/tennis/player1/ranking", true},

	{"#", "a", true},
	{"#", "a/b/c", true},
	{"#", "/", true},
	{"sport/#", "sport", true},
	{"sport/#", "sport/tennis", true},
	{"sport/#", "sports", false},
	{"a/+/#", "a/b", true},

	{"a/", "a/", true},
	{"a/", "a", false},
	{"/", "/", true},
	{"/+", "/finance", true},
	{"+", "/finance", false},

	{"#", "$SYS/uptime", false},
	{"+/uptime", "$SYS/uptime", false},
	{"$SYS/#", "$SYS/uptime", true},
	{"$SYS/#", "$SYS", true},
	{"$SYS/+", "$SYS/uptime", true},
	{"a/#", "a/$b", true},
}

func TestTopicMatch(t *testing.T) {
	for _, tt := range topicMatchCases {
		assert.Equal(t, tt.match, TopicMatch(tt.filter, tt.topic), "filter=%q topic=%q", tt.filter, tt.topic)
	}

	assert.False(t, TopicMatch("", "a"))
	assert.False(t, TopicMatch("a", ""))
}

func TestTopicMatchDoesNotAllocate(t *testing.T) {
	allocs := testing.AllocsPerRun(100, func() {
		_ = TopicMatch("sensor/+/temperature/#", "sensor/living/temperature/celsius")
	})
	assert.Zero(t, allocs)
}

func TestTopicMatcherAgreesWithTopicMatch(t *testing.T) {
	for _, tt := range topicMatchCases {
		m := NewTopicMatcher()
		_, err := m.Subscribe(tt.filter, "c", QoS0)
		require.NoError(t, err, tt.filter)

		matched := false
		m.Match(tt.topic, func(string, QoS) { matched = true })
		assert.Equal(t, tt.match, matched, "filter=%q topic=%q", tt.filter, tt.topic)
	}
}

func TestIsSystemTopic(t *testing.T) {
	assert.True(t, IsSystemTopic("$SYS"))
	assert.True(t, IsSystemTopic("$SYS/broker/clients"))
	assert.False(t, IsSystemTopic("$SYSTEM"))
	assert.False(t, IsSystemTopic("sys/broker"))
}

func matchedClients(m *TopicMatcher, topic string) []string {
	var ids []string
	m.Match(topic, func(id string, _ QoS) { ids = append(ids, id) })
	sort.Strings(ids)
	return ids
}

func TestTopicMatcher(t *testing.T) {
	m := NewTopicMatcher()

	added, err := m.Subscribe("sensor/+/temp", "c1", QoS1)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.Subscribe("sensor/+/temp", "c1", QoS2)
	require.NoError(t, err)
	assert.False(t, added, "second subscribe replaces")

	_, err = m.Subscribe("sensor/#", "c2", QoS0)
	require.NoError(t, err)
	_, err = m.Subscribe("sensor/kitchen/temp", "c3", QoS0)
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2", "c3"}, matchedClients(m, "sensor/kitchen/temp"))
	assert.Equal(t, []string{"c1", "c2"}, matchedClients(m, "sensor/hall/temp"))
	assert.Equal(t, []string{"c2"}, matchedClients(m, "sensor"))
	assert.Empty(t, matchedClients(m, "other"))
	assert.Empty(t, matchedClients(m, "sensor/+/temp"), "wildcard topics never match")

	var qos QoS
	m.Match("sensor/hall/temp", func(id string, q QoS) {
		if id == "c1" {
			qos = q
		}
	})
	assert.Equal(t, QoS2, qos)
}

func TestTopicMatcherOverlappingFilters(t *testing.T) {
	m := NewTopicMatcher()
	_, _ = m.Subscribe("a/#", "c1", QoS0)
	_, _ = m.Subscribe("a/+", "c1", QoS1)
	_, _ = m.Subscribe("a/b", "c1", QoS2)

	assert.Equal(t, []string{"c1", "c1", "c1"}, matchedClients(m, "a/b"))
}

func TestTopicMatcherUnsubscribe(t *testing.T) {
	m := NewTopicMatcher()
	_, _ = m.Subscribe("a/b/c", "c1", QoS0)
	_, _ = m.Subscribe("a/b", "c2", QoS0)

	assert.False(t, m.Unsubscribe("a/b/c", "c2"))
	assert.False(t, m.Unsubscribe("x/y", "c1"))

	assert.True(t, m.Unsubscribe("a/b/c", "c1"))
	assert.False(t, m.Unsubscribe("a/b/c", "c1"))
	assert.Empty(t, matchedClients(m, "a/b/c"))
	assert.Equal(t, []string{"c2"}, matchedClients(m, "a/b"))

	// the branch below a/b was pruned
	assert.Empty(t, m.root.children["a"].children["b"].children)

	assert.True(t, m.Unsubscribe("a/b", "c2"))
	assert.Empty(t, m.root.children)
}

func TestTopicMatcherRejectsInvalidFilter(t *testing.T) {
	m := NewTopicMatcher()

	_, err := m.Subscribe("a/#/b", "c1", QoS0)
	assert.ErrorIs(t, err, ErrInvalidTopicFilter)

	_, err = m.Subscribe("", "c1", QoS0)
	assert.ErrorIs(t, err, ErrEmptyTopic)

	assert.Empty(t, m.root.children)
}

func BenchmarkTopicMatch(b *testing.B) {
	filter := "sensor/+/temperature"
	topic := "sensor/living/temperature"

	b.ReportAllocs()
	for b.Loop() {
		_ = TopicMatch(filter, topic)
	}
}

func BenchmarkTopicMatcherMatch(b *testing.B) {
	m := NewTopicMatcher()
	_, _ = m.Subscribe("sensor/+/temperature", "sub1", QoS0)
	_, _ = m.Subscribe("sensor/#", "sub2", QoS1)
	_, _ = m.Subscribe("sensor/living/+", "sub3", QoS2)

	topic := "sensor/living/temperature"

	b.ReportAllocs()
	for b.Loop() {
		m.Match(topic, func(string, QoS) {})
	}
}

func FuzzTopicMatch(f *testing.F) {
	for _, tt := range topicMatchCases {
		f.Add(tt.filter, tt.topic)
	}

	f.Fuzz(func(t *testing.T, filter, topic string) {
		if ValidateTopicFilter(filter) != nil || ValidateTopicName(topic) != nil {
			return
		}

		m := NewTopicMatcher()
		if _, err := m.Subscribe(filter, "c", QoS0); err != nil {
			t.Fatal(err)
		}

		matched := false
		m.Match(topic, func(string, QoS) { matched = true })
		if matched != TopicMatch(filter, topic) {
			t.Fatalf("trie and TopicMatch disagree for filter=%q topic=%q", filter, topic)
		}
	})
}
