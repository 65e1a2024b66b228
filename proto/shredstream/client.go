// Package shredstreampb is the gRPC client for the ShredStream service
// defined in shredstream.proto, implementing
// internal/streamsource.Transport. protoc was not run for this build;
// the wire (de)serialization below hand-encodes the two fixed-schema
// messages the service exchanges (a uint64 request, a uint64+bytes
// response) directly against the protobuf wire format, in place of
// protoc-gen-go output.
package shredstreampb

import (
	"context"
	"encoding/binary"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/obsrvr-systems/solana-copytrader/internal/streamsource"
)

const codecName = "solana-copytrader.shredstream.rawproto"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec marshals/unmarshals exactly the two message types this
// client uses.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *streamEntriesRequest:
		return appendVarintField(nil, 1, m.StartSlot), nil
	default:
		return nil, fmt.Errorf("shredstreampb: marshal: unsupported type %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *slotEntriesMsg:
		return unmarshalSlotEntries(data, m)
	default:
		return fmt.Errorf("shredstreampb: unmarshal: unsupported type %T", v)
	}
}

// streamEntriesRequest mirrors StreamEntriesRequest { uint64 start_slot = 1; }.
type streamEntriesRequest struct {
	StartSlot uint64
}

// slotEntriesMsg mirrors SlotEntries { uint64 slot = 1; bytes entries = 2; }.
type slotEntriesMsg struct {
	Slot    uint64
	Entries []byte
}

func unmarshalSlotEntries(data []byte, m *slotEntriesMsg) error {
	for len(data) > 0 {
		tag, n := binary.Uvarint(data)
		if n <= 0 {
			return fmt.Errorf("shredstreampb: malformed field tag")
		}
		data = data[n:]
		field := tag >> 3
		wireType := tag & 0x7

		switch wireType {
		case 0: // varint
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return fmt.Errorf("shredstreampb: malformed varint")
			}
			data = data[n:]
			if field == 1 {
				m.Slot = v
			}
		case 2: // length-delimited
			l, n := binary.Uvarint(data)
			if n <= 0 {
				return fmt.Errorf("shredstreampb: malformed length")
			}
			data = data[n:]
			if uint64(len(data)) < l {
				return fmt.Errorf("shredstreampb: truncated payload")
			}
			if field == 2 {
				m.Entries = append([]byte(nil), data[:l]...)
			}
			data = data[l:]
		default:
			return fmt.Errorf("shredstreampb: unsupported wire type %d", wireType)
		}
	}
	return nil
}

func appendVarintField(buf []byte, field int, v uint64) []byte {
	tag := uint64(field)<<3 | 0
	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, tag)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp, v)
	buf = append(buf, tmp[:n]...)
	return buf
}

// Transport implements streamsource.Transport over a direct gRPC
// connection to the shred-stream service.
type Transport struct {
	conn *grpc.ClientConn
}

// NewTransport constructs a Transport from an already-dialed
// connection (typically built with grpc.NewClient against
// config.Config.StreamEndpoint).
func NewTransport(conn *grpc.ClientConn) *Transport {
	return &Transport{conn: conn}
}

// StreamEntries implements streamsource.Transport.
func (t *Transport) StreamEntries(ctx context.Context, startSlot uint64) (streamsource.EntryStream, error) {
	desc := &grpc.StreamDesc{StreamName: "StreamEntries", ServerStreams: true}
	cs, err := t.conn.NewStream(ctx, desc, "/shredstream.ShredStream/StreamEntries", grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, fmt.Errorf("shredstreampb: open stream: %w", err)
	}
	if err := cs.SendMsg(&streamEntriesRequest{StartSlot: startSlot}); err != nil {
		return nil, fmt.Errorf("shredstreampb: send request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("shredstreampb: close send: %w", err)
	}
	return &entryStream{cs: cs}, nil
}

// entryStream adapts the raw gRPC client stream to streamsource.EntryStream.
type entryStream struct {
	cs grpc.ClientStream
}

// Recv implements streamsource.EntryStream. It returns io.EOF (via the
// underlying grpc.ClientStream) when the upstream closes the stream
// normally, matching streamsource.Source.drain's expectations.
func (e *entryStream) Recv() (streamsource.SlotEntries, error) {
	var msg slotEntriesMsg
	if err := e.cs.RecvMsg(&msg); err != nil {
		return streamsource.SlotEntries{}, err
	}
	return streamsource.SlotEntries{Slot: msg.Slot, Entries: msg.Entries}, nil
}
