package wire

import (
	"context"
	"fmt"
	"io"
	"sync"

	common "github.com/duskvault/signing-core/pkg/common"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	in "github.com/duskvault/signing-core/pkg/sm/ports/in"
)

// Op tags a request envelope with the SM operation it carries.
type Op string

const (
	OpCreateKeyset    Op = "create_keyset"
	OpSignPSBT        Op = "sign_psbt"
	OpCreateGrant     Op = "create_grant"
	OpRotateIntegrity Op = "rotate_integrity"
)

// Request is the envelope the control plane sends over the length-prefixed
// CBOR boundary. Attestation carries the KMS-decrypt bundle the SM
// needs to unseal its KEK material; its contents are opaque to this codec.
type Request struct {
	Op          Op     `cbor:"1,keyasint"`
	Attestation []byte `cbor:"2,keyasint,omitempty"`

	CreateKeyset *in.CreateKeysetRequest `cbor:"3,keyasint,omitempty"`
	SignPSBT     *in.SignPSBTRequest     `cbor:"4,keyasint,omitempty"`
	CreateGrant  *in.CreateGrantRequest  `cbor:"5,keyasint,omitempty"`
}

// Response is the SM's reply envelope. Exactly one result field is set on
// success; Error carries the opaque failure string otherwise.
type Response struct {
	Error string `cbor:"1,keyasint,omitempty"`

	CreateKeyset *in.CreateKeysetResult `cbor:"2,keyasint,omitempty"`
	SignPSBT     *in.SignPSBTResult     `cbor:"3,keyasint,omitempty"`
	Grant        *smentities.Grant      `cbor:"4,keyasint,omitempty"`
}

// Server drives one SM-side connection: read a request, dispatch into the
// keystore or grant signer, write the response. The SM is single-threaded
// per request; the loop processes messages strictly in order.
type Server struct {
	keystore in.KeyStoreService
	grants   in.GrantService
}

// NewServer constructs a Server over the SM's two inbound services.
func NewServer(keystore in.KeyStoreService, grants in.GrantService) *Server {
	return &Server{keystore: keystore, grants: grants}
}

// Serve processes requests from rw until read fails (connection closed).
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	for {
		var req Request
		if err := ReadMessage(rw, &req); err != nil {
			return err
		}
		resp := s.dispatch(ctx, &req)
		if err := WriteMessage(rw, resp); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Op {
	case OpCreateKeyset:
		if req.CreateKeyset == nil {
			return &Response{Error: "missing create_keyset body"}
		}
		result, err := s.keystore.CreateKeyset(ctx, *req.CreateKeyset)
		if err != nil {
			return &Response{Error: err.Error()}
		}
		return &Response{CreateKeyset: &result}
	case OpSignPSBT:
		if req.SignPSBT == nil {
			return &Response{Error: "missing sign_psbt body"}
		}
		result, err := s.keystore.SignPSBT(ctx, *req.SignPSBT)
		if err != nil {
			return &Response{Error: err.Error()}
		}
		return &Response{SignPSBT: &result}
	case OpCreateGrant:
		if req.CreateGrant == nil {
			return &Response{Error: "missing create_grant body"}
		}
		grant, err := s.grants.CreateGrant(ctx, *req.CreateGrant)
		if err != nil {
			return &Response{Error: err.Error()}
		}
		return &Response{Grant: &grant}
	case OpRotateIntegrity:
		if err := s.keystore.RotateIntegrityMaterial(ctx); err != nil {
			return &Response{Error: err.Error()}
		}
		return &Response{}
	default:
		return &Response{Error: fmt.Sprintf("unrecognized op %q", req.Op)}
	}
}

// Client implements the SM inbound ports over the wire boundary, so the
// control plane talks the same codec whether the SM runs in-process or in
// an actual enclave. Calls are serialized: one request in flight at a time.
type Client struct {
	mu sync.Mutex
	rw io.ReadWriter
}

// NewClient wraps an established connection to the SM.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

var (
	_ in.KeyStoreService = (*Client)(nil)
	_ in.GrantService    = (*Client)(nil)
)

func (c *Client) roundTrip(req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteMessage(c.rw, req); err != nil {
		return nil, err
	}
	var resp Response
	if err := ReadMessage(c.rw, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, common.NewErrInternal(resp.Error, nil)
	}
	return &resp, nil
}

func (c *Client) CreateKeyset(_ context.Context, req in.CreateKeysetRequest) (in.CreateKeysetResult, error) {
	resp, err := c.roundTrip(&Request{Op: OpCreateKeyset, CreateKeyset: &req})
	if err != nil {
		return in.CreateKeysetResult{}, err
	}
	if resp.CreateKeyset == nil {
		return in.CreateKeysetResult{}, common.NewErrInternal("sm response missing create_keyset result", nil)
	}
	return *resp.CreateKeyset, nil
}

func (c *Client) SignPSBT(_ context.Context, req in.SignPSBTRequest) (in.SignPSBTResult, error) {
	resp, err := c.roundTrip(&Request{Op: OpSignPSBT, SignPSBT: &req})
	if err != nil {
		return in.SignPSBTResult{}, err
	}
	if resp.SignPSBT == nil {
		return in.SignPSBTResult{}, common.NewErrInternal("sm response missing sign_psbt result", nil)
	}
	return *resp.SignPSBT, nil
}

func (c *Client) CreateGrant(_ context.Context, req in.CreateGrantRequest) (smentities.Grant, error) {
	resp, err := c.roundTrip(&Request{Op: OpCreateGrant, CreateGrant: &req})
	if err != nil {
		return smentities.Grant{}, err
	}
	if resp.Grant == nil {
		return smentities.Grant{}, common.NewErrInternal("sm response missing grant", nil)
	}
	return *resp.Grant, nil
}

func (c *Client) RotateIntegrityMaterial(_ context.Context) error {
	_, err := c.roundTrip(&Request{Op: OpRotateIntegrity})
	return err
}
