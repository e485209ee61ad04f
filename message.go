package tableq

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mattbonnell/tableq/internal"
)

// Message is a message claimed from a queue. Messages are only produced by a
// Consumer; one built by hand is rejected by Acknowledge and Reject.
//
// Body is stored in a text column and is always valid UTF-8 without NUL
// bytes. Encode binary payloads before sending them.
type Message struct {
	ID          int64
	Body        []byte
	Headers     map[string]string
	Properties  map[string]string
	Priority    int
	Redelivered bool

	queue string
}

// Queue returns the queue the message was claimed from.
func (m *Message) Queue() string {
	return m.queue
}

// MapCodec serializes the header and property maps to and from the text
// stored in the queue table.
type MapCodec interface {
	Marshal(map[string]string) (string, error)
	Unmarshal(string) (map[string]string, error)
}

// JSONMapCodec stores maps as JSON objects. It is the default MapCodec.
type JSONMapCodec struct{}

func (JSONMapCodec) Marshal(m map[string]string) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONMapCodec) Unmarshal(s string) (map[string]string, error) {
	m := map[string]string{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decode(r internal.Row, codec MapCodec) (*Message, error) {
	m := &Message{
		ID:          r.ID,
		Body:        []byte(r.Body),
		Priority:    int(r.Priority),
		Redelivered: r.Redelivered,
		queue:       r.Queue,
	}
	var err error
	if m.Headers, err = decodeMap(r.Headers, codec); err != nil {
		return nil, fmt.Errorf("error decoding headers of message %d: %w", r.ID, err)
	}
	if m.Properties, err = decodeMap(r.Properties, codec); err != nil {
		return nil, fmt.Errorf("error decoding properties of message %d: %w", r.ID, err)
	}
	return m, nil
}

func decodeMap(s sql.NullString, codec MapCodec) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return map[string]string{}, nil
	}
	return codec.Unmarshal(s.String)
}

// encode maps m to the row inserted when it is requeued. The row has no id;
// the store assigns a new one.
func encode(queue string, m *Message, codec MapCodec) (internal.Row, error) {
	r := internal.Row{
		Queue:       queue,
		Body:        string(m.Body),
		Priority:    int64(m.Priority),
		Redelivered: true,
	}
	var err error
	if r.Headers, err = encodeMap(m.Headers, codec); err != nil {
		return r, fmt.Errorf("error encoding headers: %w", err)
	}
	if r.Properties, err = encodeMap(m.Properties, codec); err != nil {
		return r, fmt.Errorf("error encoding properties: %w", err)
	}
	return r, nil
}

func encodeMap(m map[string]string, codec MapCodec) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	s, err := codec.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}
