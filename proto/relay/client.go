// Package relaypb is the gRPC client for the Relay service defined in
// relay.proto, implementing internal/relay.Client. protoc was not run
// for this build; the wire (de)serialization below hand-encodes the
// four fixed-schema messages the service exchanges directly against
// the protobuf wire format, in place of protoc-gen-go output.
package relaypb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/obsrvr-systems/solana-copytrader/internal/relay"
)

const codecName = "solana-copytrader.relay.rawproto"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *getTipAccountsRequest:
		return nil, nil // empty message
	case *sendBundleRequest:
		var buf []byte
		for _, tx := range m.Transactions {
			buf = appendBytesField(buf, 1, tx)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("relaypb: marshal: unsupported type %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *getTipAccountsResponse:
		return unmarshalRepeatedString(data, &m.Accounts, 1)
	case *sendBundleResponse:
		return unmarshalSingleString(data, &m.BundleID, 1)
	default:
		return fmt.Errorf("relaypb: unmarshal: unsupported type %T", v)
	}
}

type getTipAccountsRequest struct{}

type getTipAccountsResponse struct {
	Accounts []string
}

type sendBundleRequest struct {
	Transactions [][]byte
}

type sendBundleResponse struct {
	BundleID string
}

func appendBytesField(buf []byte, field int, v []byte) []byte {
	tag := uint64(field)<<3 | 2
	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, tag)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp, uint64(len(v)))
	buf = append(buf, tmp[:n]...)
	return append(buf, v...)
}

func unmarshalRepeatedString(data []byte, out *[]string, wantField uint64) error {
	for len(data) > 0 {
		tag, n := binary.Uvarint(data)
		if n <= 0 {
			return fmt.Errorf("relaypb: malformed field tag")
		}
		data = data[n:]
		field := tag >> 3
		wireType := tag & 0x7
		if wireType != 2 {
			return fmt.Errorf("relaypb: unsupported wire type %d", wireType)
		}
		l, n := binary.Uvarint(data)
		if n <= 0 {
			return fmt.Errorf("relaypb: malformed length")
		}
		data = data[n:]
		if uint64(len(data)) < l {
			return fmt.Errorf("relaypb: truncated payload")
		}
		if field == wantField {
			*out = append(*out, string(data[:l]))
		}
		data = data[l:]
	}
	return nil
}

func unmarshalSingleString(data []byte, out *string, wantField uint64) error {
	for len(data) > 0 {
		tag, n := binary.Uvarint(data)
		if n <= 0 {
			return fmt.Errorf("relaypb: malformed field tag")
		}
		data = data[n:]
		field := tag >> 3
		wireType := tag & 0x7
		if wireType != 2 {
			return fmt.Errorf("relaypb: unsupported wire type %d", wireType)
		}
		l, n := binary.Uvarint(data)
		if n <= 0 {
			return fmt.Errorf("relaypb: malformed length")
		}
		data = data[n:]
		if uint64(len(data)) < l {
			return fmt.Errorf("relaypb: truncated payload")
		}
		if field == wantField {
			*out = string(data[:l])
		}
		data = data[l:]
	}
	return nil
}

// Client implements internal/relay.Client over a direct gRPC
// connection to the bundle relay.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient constructs a Client from an already-dialed connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// GetTipAccounts implements relay.Client.
func (c *Client) GetTipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	var resp getTipAccountsResponse
	err := c.conn.Invoke(ctx, "/relay.Relay/GetTipAccounts", &getTipAccountsRequest{}, &resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, fmt.Errorf("relaypb: get tip accounts: %w", err)
	}
	out := make([]solana.PublicKey, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("relaypb: parse tip account %q: %w", a, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// SendBundle implements relay.Client.
func (c *Client) SendBundle(ctx context.Context, transactions [][]byte) (string, error) {
	var resp sendBundleResponse
	req := &sendBundleRequest{Transactions: transactions}
	if err := c.conn.Invoke(ctx, "/relay.Relay/SendBundle", req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return "", fmt.Errorf("relaypb: send bundle: %w", err)
	}
	return resp.BundleID, nil
}

var _ relay.Client = (*Client)(nil)
