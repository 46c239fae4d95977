package wire

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/lidarserv/lidarserv/internal/errs"
)

// decoders maps a variant tag to a constructor that unmarshals the
// variant's raw CBOR value into the concrete Message type.
var decoders = map[string]func(raw cbor.RawMessage) (Message, error){
	"Hello": func(raw cbor.RawMessage) (Message, error) {
		var m Hello
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
	"PointCloudInfo": func(raw cbor.RawMessage) (Message, error) {
		var m PointCloudInfo
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
	"ConnectionMode": func(raw cbor.RawMessage) (Message, error) {
		var m ConnectionMode
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
	"InsertPoints": func(raw cbor.RawMessage) (Message, error) {
		var m InsertPoints
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
	"Query": func(raw cbor.RawMessage) (Message, error) {
		var m Query
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
	"IncrementalResult": func(raw cbor.RawMessage) (Message, error) {
		var m IncrementalResult
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
	"ResultAck": func(raw cbor.RawMessage) (Message, error) {
		var m ResultAck
		err := cbor.Unmarshal(raw, &m)
		return m, err
	},
}

// Encode serialises m as its single-key tagged CBOR map.
func Encode(m Message) ([]byte, error) {
	fields, err := cbor.Marshal(m)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err)
	}
	envelope := map[string]cbor.RawMessage{m.wireTag(): fields}
	out, err := cbor.Marshal(envelope)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err)
	}
	return out, nil
}

// Decode parses one frame's payload into its concrete Message type.
func Decode(payload []byte) (Message, error) {
	var envelope map[string]cbor.RawMessage
	if err := cbor.Unmarshal(payload, &envelope); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err)
	}
	if len(envelope) != 1 {
		return nil, errs.Newf(errs.KindProtocol, "wire: message envelope must carry exactly one variant, got %d", len(envelope))
	}
	for tag, raw := range envelope {
		decode, ok := decoders[tag]
		if !ok {
			return nil, errs.Newf(errs.KindProtocol, "wire: unknown message type %q", tag)
		}
		return decode(raw)
	}
	panic("unreachable")
}
