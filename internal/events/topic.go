package events

import "fmt"

// Topic is the closed set of event categories carried by the bus.
type Topic int

const (
	TopicConversationCreated Topic = iota + 1
	TopicConversationUpdated
	TopicConversationDeleted
	TopicMessageSent
)

var topicNames = map[Topic]string{
	TopicConversationCreated: "CONVERSATION_CREATED",
	TopicConversationUpdated: "CONVERSATION_UPDATED",
	TopicConversationDeleted: "CONVERSATION_DELETED",
	TopicMessageSent:         "MESSAGE_SENT",
}

// AllTopics lists every topic in declaration order.
func AllTopics() []Topic {
	return []Topic{
		TopicConversationCreated,
		TopicConversationUpdated,
		TopicConversationDeleted,
		TopicMessageSent,
	}
}

// String returns the wire name of the topic.
func (t Topic) String() string {
	if s, ok := topicNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Topic(%d)", int(t))
}

// Valid reports whether t is one of the declared topics.
func (t Topic) Valid() bool {
	_, ok := topicNames[t]
	return ok
}

// ParseTopic maps a wire name back to its Topic.
func ParseTopic(s string) (Topic, error) {
	for t, name := range topicNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown topic %q", s)
}

func (t Topic) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown topic %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Topic) UnmarshalText(b []byte) error {
	parsed, err := ParseTopic(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
