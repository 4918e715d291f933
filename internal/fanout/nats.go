package fanout

import "github.com/nats-io/nats.go"

// NATSSink adapts a *nats.Conn to the NATSPublisher interface the Hub
// uses for its optional secondary fan-out sink.
type NATSSink struct {
	conn *nats.Conn
}

// DialNATS connects to url and returns a NATSSink, or an error if the
// broker is unreachable.
func DialNATS(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSSink{conn: conn}, nil
}

// Publish sends data on subject.
func (s *NATSSink) Publish(subject string, data []byte) error {
	return s.conn.Publish(subject, data)
}

// Close drains and closes the underlying connection.
func (s *NATSSink) Close() {
	s.conn.Close()
}
