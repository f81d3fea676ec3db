package aptosman

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/api"

	"github.com/TEENet-io/spv-bridge/agreement"
)

// nodeReader reads views, events, blocks and ledger info through the SDK's node client.
type nodeReader struct {
	client  *aptos.NodeClient
	baseURL *url.URL
}

func newNodeReader(nodeURL string) (*nodeReader, error) {
	baseURL, err := url.Parse(strings.TrimSuffix(nodeURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid node url %q: %v", nodeURL, err)
	}
	// chain id 0: the client fetches it on first use, reads never need it
	client, err := aptos.NewNodeClient(baseURL.String(), 0)
	if err != nil {
		return nil, err
	}
	return &nodeReader{client: client, baseURL: baseURL}, nil
}

// classify marks failures worth another try as transient.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var httpErr *aptos.HttpError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 || httpErr.StatusCode == 429 {
			return fmt.Errorf("%w: %s: %v", agreement.ErrTransient, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// no reply at all
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %s: %v", agreement.ErrTransient, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *nodeReader) ledgerVersion(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := r.client.Info()
	if err != nil {
		return 0, classify(ctx, "ledger info", err)
	}
	version, err := strconv.ParseUint(info.LedgerVersionStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ledger version %q: %v", info.LedgerVersionStr, err)
	}
	return version, nil
}

// view calls a Move view function and returns its return values.
func (r *nodeReader) view(ctx context.Context, module aptos.ModuleId, function string, args ...[]byte) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if args == nil {
		args = [][]byte{}
	}
	values, err := r.client.View(&aptos.ViewPayload{
		Module:   module,
		Function: function,
		ArgTypes: []aptos.TypeTag{},
		Args:     args,
	})
	if err != nil {
		return nil, classify(ctx, function, err)
	}
	return values, nil
}

// rawEvent keeps the ledger version that api.Event leaves out.
type rawEvent struct {
	Version        jsonUint        `json:"version"`
	SequenceNumber jsonUint        `json:"sequence_number"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
}

// events fetches up to limit events of an event handle, from sequence number start.
func (r *nodeReader) events(ctx context.Context, account aptos.AccountAddress, handle, field string, start, limit uint64) ([]rawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := r.baseURL.JoinPath("accounts", account.String(), "events", handle, field)
	params := url.Values{}
	params.Set("start", strconv.FormatUint(start, 10))
	params.Set("limit", strconv.FormatUint(limit, 10))
	u.RawQuery = params.Encode()

	out, err := aptos.Get[[]rawEvent](r.client, u.String())
	if err != nil {
		return nil, classify(ctx, "events "+field, err)
	}
	return out, nil
}

// eventMeta locates the transaction committed at version and its block.
func (r *nodeReader) eventMeta(ctx context.Context, version uint64) (agreement.EventMeta, error) {
	meta := agreement.EventMeta{BlockNumber: version}
	if err := ctx.Err(); err != nil {
		return meta, err
	}

	txn, err := r.client.TransactionByVersion(version)
	if err != nil {
		return meta, classify(ctx, "transaction "+strconv.FormatUint(version, 10), err)
	}
	block, err := r.client.BlockByVersion(version, false)
	if err != nil {
		return meta, classify(ctx, "block of "+strconv.FormatUint(version, 10), err)
	}

	if err := errors.Join(
		decodeHash(meta.TxHash[:], txn.Hash(), "transaction hash"),
		decodeHash(meta.BlockHash[:], block.BlockHash, "block hash"),
	); err != nil {
		return meta, err
	}
	return meta, nil
}

func decodeHash(dst []byte, h api.Hash, name string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil || len(raw) != len(dst) {
		return fmt.Errorf("%w: %s %q", ErrMalformedEvent, name, h)
	}
	copy(dst, raw)
	return nil
}

// Move values as the REST API renders them.

// jsonUint is a u8..u256, rendered as a number or a decimal string.
type jsonUint uint64

func (u *jsonUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %v", string(b), err)
	}
	*u = jsonUint(n)
	return nil
}

// hexBytes is a vector<u8>, rendered as a 0x-prefixed hex string.
type hexBytes []byte

func (h *hexBytes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex %q: %v", s, err)
	}
	*h = raw
	return nil
}

func (h hexBytes) fixed(n int) ([]byte, error) {
	if len(h) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(h))
	}
	return h, nil
}

// moveAddress is an address, possibly in short form ("0x1").
type moveAddress aptos.AccountAddress

func (a *moveAddress) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	addr := aptos.AccountAddress{}
	if err := addr.ParseStringRelaxed(s); err != nil {
		return err
	}
	*a = moveAddress(addr)
	return nil
}

// identifier maps the zero address to "none".
func (a moveAddress) identifier() agreement.Identifier {
	if a == (moveAddress{}) {
		return nil
	}
	return agreement.Identifier(append([]byte(nil), a[:]...))
}

// optionAddress is an Option<address>: {"vec": []} or {"vec": ["0x.."]}.
type optionAddress struct {
	Vec []moveAddress `json:"vec"`
}

func (o optionAddress) identifier() agreement.Identifier {
	if len(o.Vec) == 0 {
		return nil
	}
	return o.Vec[0].identifier()
}
