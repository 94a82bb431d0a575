package events

import (
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterMessage_DoesNotAliasReaderHeaders(t *testing.T) {
	headers := make([]kafka.Header, 1, 8)
	headers[0] = kafka.Header{Key: "trace", Value: []byte("abc")}
	msg := kafka.Message{Key: []byte("order-1"), Value: []byte(`{}`), Headers: headers}

	first := deadLetterMessage("basket.commands", "basket", msg, errors.New("first"))
	second := deadLetterMessage("basket.commands", "basket", msg, errors.New("second"))

	require.Len(t, first.Headers, 3)
	assert.Equal(t, "first", string(first.Headers[2].Value))
	assert.Equal(t, "second", string(second.Headers[2].Value))
	assert.Equal(t, "basket.commands.dlq", first.Topic)
	assert.Equal(t, "basket", string(first.Headers[1].Value))

	// el mensaje original no cambia
	assert.Len(t, msg.Headers, 1)
	assert.Empty(t, headers[:2][1].Key)
}
