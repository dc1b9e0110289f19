package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/0xmhha/chainsync/pkg/chainsync/builder"
	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
	"github.com/0xmhha/chainsync/pkg/events"
)

// JSONSerializer implements EventSerializer using JSON encoding.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Ensure JSONSerializer implements EventSerializer.
var _ EventSerializer = (*JSONSerializer)(nil)

// eventEnvelope wraps an event with type information for deserialization.
type eventEnvelope struct {
	Type    events.EventType `json:"type"`
	ChainID uint64           `json:"chain_id"`
	Data    json.RawMessage  `json:"data"`
}

// blockEventData is the JSON representation of events.BlockEvent.
type blockEventData struct {
	Block   chain.LightBlock     `json:"block"`
	Matched chain.MatchedFilters `json:"matched"`
	Records []*builder.RawEvent  `json:"records,omitempty"`
}

// reorgEventData is the JSON representation of events.ReorgEvent.
type reorgEventData struct {
	CommonAncestor chain.LightBlock   `json:"common_ancestor"`
	ReorgedBlocks  []chain.LightBlock `json:"reorged_blocks"`
}

// finalizeEventData is the JSON representation of events.FinalizeEvent.
type finalizeEventData struct {
	FinalizedBlock chain.LightBlock `json:"finalized_block"`
}

// Serialize converts an event to JSON bytes.
func (s *JSONSerializer) Serialize(event events.Event) ([]byte, error) {
	if event == nil {
		return nil, ErrSerializationFailed
	}

	var data json.RawMessage
	var err error

	switch e := event.(type) {
	case *events.BlockEvent:
		data, err = json.Marshal(blockEventData{
			Block:   e.Block,
			Matched: e.Matched,
			Records: e.Records,
		})
	case *events.ReorgEvent:
		data, err = json.Marshal(reorgEventData{
			CommonAncestor: e.CommonAncestor,
			ReorgedBlocks:  e.ReorgedBlocks,
		})
	case *events.FinalizeEvent:
		data, err = json.Marshal(finalizeEventData{
			FinalizedBlock: e.FinalizedBlock,
		})
	default:
		return nil, fmt.Errorf("%w: unknown event type %T", ErrInvalidEventType, event)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	envelope := eventEnvelope{
		Type:    event.Type(),
		ChainID: event.ChainID(),
		Data:    data,
	}

	result, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	return result, nil
}

// Deserialize converts JSON bytes back to an event.
func (s *JSONSerializer) Deserialize(data []byte) (events.Event, error) {
	if len(data) == 0 {
		return nil, ErrDeserializationFailed
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}

	switch envelope.Type {
	case events.EventTypeBlock:
		var ed blockEventData
		if err := json.Unmarshal(envelope.Data, &ed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
		}
		return &events.BlockEvent{
			Chain:   envelope.ChainID,
			Block:   ed.Block,
			Matched: ed.Matched,
			Records: ed.Records,
		}, nil

	case events.EventTypeReorg:
		var ed reorgEventData
		if err := json.Unmarshal(envelope.Data, &ed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
		}
		return &events.ReorgEvent{
			Chain:          envelope.ChainID,
			CommonAncestor: ed.CommonAncestor,
			ReorgedBlocks:  ed.ReorgedBlocks,
		}, nil

	case events.EventTypeFinalize:
		var ed finalizeEventData
		if err := json.Unmarshal(envelope.Data, &ed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
		}
		return &events.FinalizeEvent{
			Chain:          envelope.ChainID,
			FinalizedBlock: ed.FinalizedBlock,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %s", ErrInvalidEventType, envelope.Type)
	}
}

// ContentType returns the MIME type for JSON.
func (s *JSONSerializer) ContentType() string {
	return "application/json"
}
