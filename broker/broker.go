package broker

const (
	DefaultTopic = "deckcap.events"

	HeaderType    = "type"
	HeaderSession = "session"
	HeaderDevice  = "device"
	HeaderKind    = "kind"
)

type Broker interface {
	Connect() error
	Disconnect() error
	Publish(topic string, m *Message) error
	Subscribe(topic string, h *Handler) error
	Options() Options
	String() string
}

type Message struct {
	Header map[string]string `json:"header,omitempty"`
	Body   []byte            `json:"body"`
}

// NewMessage copies headers and sets the type header to kind.
func NewMessage(kind string, headers map[string]string, body []byte) *Message {
	m := &Message{
		Header: make(map[string]string, len(headers)+1),
		Body:   body,
	}

	for k, v := range headers {
		m.Header[k] = v
	}

	m.Header[HeaderType] = kind

	return m
}

type Handler func(Event) error

type Event interface {
	Topic() string
	Message() *Message
	Ack() error
	Error() error
}
