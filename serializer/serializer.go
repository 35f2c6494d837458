// Package serializer provides the message sizing contract used by
// pipeline.MessageSizeValidator to enforce payload size limits, per the
// library's "JSON serializer (for sizing only)" collaborator contract.
package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/joeycumines/go-utilpkg/jsonenc"

	"github.com/heromessaging/heromessaging/message"
)

// JSONSizer reports how many bytes v would occupy if encoded as JSON,
// without necessarily materializing the encoded form.
type JSONSizer interface {
	GetJSONByteCount(v any) (int, error)
}

// Default is the library's JSONSizer: arbitrary values are sized via
// encoding/json.Marshal, but *message.Message and message.Message are sized
// field-by-field, using jsonenc.AppendString's escape-aware sizing for the
// well-known string fields (MessageId, CorrelationId, CausationId) instead
// of marshaling the whole struct.
type Default struct{}

// GetJSONByteCount implements JSONSizer.
func (Default) GetJSONByteCount(v any) (int, error) {
	switch t := v.(type) {
	case *message.Message:
		if t == nil {
			return len("null"), nil
		}
		return sizeMessage(t)
	case message.Message:
		return sizeMessage(&t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("serializer: marshaling %T: %w", v, err)
		}
		return len(b), nil
	}
}

func sizeMessage(msg *message.Message) (int, error) {
	metaMap := make(map[string]any, msg.Metadata.Len())
	for _, k := range msg.Metadata.Keys() {
		v, _ := msg.Metadata.Get(k)
		metaMap[k] = v
	}
	metaBytes, err := json.Marshal(metaMap)
	if err != nil {
		return 0, fmt.Errorf("serializer: marshaling metadata: %w", err)
	}

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return 0, fmt.Errorf("serializer: marshaling payload: %w", err)
	}

	var buf []byte
	buf = append(buf, '{')
	buf = appendStringField(buf, "messageId", msg.MessageId.String())
	buf = append(buf, ',')
	buf = appendStringField(buf, "timestamp", msg.Timestamp.Format(timeLayout))
	buf = append(buf, ',')
	buf = appendStringField(buf, "correlationId", msg.CorrelationId)
	buf = append(buf, ',')
	buf = appendStringField(buf, "causationId", msg.CausationId)
	buf = append(buf, ',')
	buf = append(buf, `"metadata":`...)

	total := len(buf) + len(metaBytes) + len(`,"payload":`) + len(payloadBytes) + 1 // trailing '}'
	return total, nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func appendStringField(dst []byte, key, val string) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	dst = append(dst, '"', ':')
	return jsonenc.AppendString(dst, val)
}
