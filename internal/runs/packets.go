package runs

import (
	"encoding/json"
	"fmt"
)

// Well-known packet data types.
const (
	PacketTypeJSON  = "application/json"
	PacketTypeText  = "text/plain"
	PacketTypeStore = "application/store"
)

// IOPacket is the tagged wrapper around a serialized payload or metadata
// blob. Data carries either inline bytes or, when DataType is
// "application/store", an object-store locator.
type IOPacket struct {
	Data     string `json:"data,omitempty"`
	DataType string `json:"dataType"`
}

// CreatePayloadPacket serializes a trigger payload into an IOPacket.
// JSON payloads are marshaled inline; string payloads pass through under
// their declared type; anything else yields an empty packet carrying only
// the data type.
func CreatePayloadPacket(payload any, payloadType string) (IOPacket, error) {
	if payloadType == PacketTypeJSON {
		data, err := json.Marshal(payload)
		if err != nil {
			return IOPacket{}, fmt.Errorf("failed to serialize payload: %w", err)
		}
		return IOPacket{Data: string(data), DataType: PacketTypeJSON}, nil
	}

	if s, ok := payload.(string); ok {
		return IOPacket{Data: s, DataType: payloadType}, nil
	}

	return IOPacket{DataType: payloadType}, nil
}

// PacketRequiresOffloading reports whether the packet's inline body exceeds
// the offload threshold, along with the measured size in bytes.
func PacketRequiresOffloading(packet IOPacket, threshold int) (bool, int) {
	size := len(packet.Data)
	return size > threshold, size
}

// HandleMetadataPacket serializes run metadata into an IOPacket. Metadata is
// never offloaded; nil metadata yields a nil packet.
func HandleMetadataPacket(metadata any, metadataType string) (*IOPacket, error) {
	if metadata == nil {
		return nil, nil
	}

	packet, err := CreatePayloadPacket(metadata, metadataType)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}
	if packet.Data == "" {
		return nil, nil
	}
	return &packet, nil
}
