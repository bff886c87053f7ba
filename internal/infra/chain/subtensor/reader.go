package subtensor

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/chain"
)

// Runtime API entry points queried per subnet. The lite variant skips the
// weight and bond matrices.
const (
	methodMetagraph     = "SubnetInfoRuntimeApi_get_metagraph"
	methodMetagraphLite = "SubnetInfoRuntimeApi_get_dynamic_info"
)

// Config configures a subtensor reader.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Reader connects to a subtensor node.
type Reader struct {
	cfg Config
	log *slog.Logger
}

var _ chain.Reader = (*Reader)(nil)

// NewReader creates a reader for the given endpoint.
func NewReader(cfg Config) *Reader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reader{
		cfg: cfg,
		log: slog.Default().With("component", "subtensor", "endpoint", cfg.Endpoint),
	}
}

// Connect opens a connection and checks the endpoint answers.
func (r *Reader) Connect(ctx context.Context) (chain.Conn, error) {
	if r.cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: empty endpoint", chain.ErrConnection)
	}
	c := newClient(r.cfg.Endpoint, r.cfg.Timeout)
	conn := &Conn{client: c}

	if _, err := conn.HeadBlock(ctx); err != nil {
		c.close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", chain.ErrConnection, err)
	}
	r.log.Debug("Connected")
	return conn, nil
}

// Conn is one HTTP keep-alive session with a subtensor node.
type Conn struct {
	client *client
}

type header struct {
	Number     string `json:"number"`
	ParentHash string `json:"parentHash"`
}

// HeadBlock returns the best block number.
func (c *Conn) HeadBlock(ctx context.Context) (uint64, error) {
	var h header
	if err := c.client.call(ctx, "chain_getHeader", nil, &h); err != nil {
		return 0, fmt.Errorf("chain_getHeader failed: %w", err)
	}
	n, err := parseHexString(h.Number)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid head number %q", chain.ErrTransient, h.Number)
	}
	return n, nil
}

// snapshotDoc is the JSON document stored for every subnet snapshot.
type snapshotDoc struct {
	Block     uint64          `json:"block_number"`
	BlockHash string          `json:"block_hash"`
	Netuid    uint16          `json:"netuid"`
	Lite      bool            `json:"lite"`
	Header    json.RawMessage `json:"header,omitempty"`
	State     string          `json:"state"`
}

// Fetch reads the subnet state of every requested netuid at the given block.
func (c *Conn) Fetch(
	ctx context.Context,
	block uint64,
	lite bool,
	netuids []uint16,
) (*domain.Payload, error) {
	var hash *string
	if err := c.client.call(ctx, "chain_getBlockHash", []any{block}, &hash); err != nil {
		return nil, fmt.Errorf("chain_getBlockHash(%d) failed: %w", block, err)
	}
	if hash == nil || *hash == "" {
		return nil, fmt.Errorf("%w: block %d", chain.ErrNotFound, block)
	}

	var rawHeader json.RawMessage
	if !lite {
		if err := c.client.call(ctx, "chain_getHeader", []any{*hash}, &rawHeader); err != nil {
			return nil, fmt.Errorf("chain_getHeader(%s) failed: %w", *hash, err)
		}
	}

	method := methodMetagraph
	if lite {
		method = methodMetagraphLite
	}

	payload := &domain.Payload{Block: block, Lite: lite}
	for _, netuid := range netuids {
		var state *string
		params := []any{method, encodeNetuid(netuid), *hash}
		if err := c.client.call(ctx, "state_call", params, &state); err != nil {
			return nil, fmt.Errorf("state_call %s netuid=%d block=%d failed: %w", method, netuid, block, err)
		}
		if state == nil {
			return nil, fmt.Errorf("%w: no state for netuid %d at block %d", chain.ErrNotFound, netuid, block)
		}

		data, err := json.Marshal(snapshotDoc{
			Block:     block,
			BlockHash: *hash,
			Netuid:    netuid,
			Lite:      lite,
			Header:    rawHeader,
			State:     *state,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: encode snapshot: %v", chain.ErrFatal, err)
		}
		payload.Subnets = append(payload.Subnets, domain.SubnetSnapshot{Netuid: netuid, Data: data})
	}
	return payload, nil
}

// Close releases idle HTTP connections.
func (c *Conn) Close() error {
	c.client.close()
	return nil
}

// encodeNetuid SCALE-encodes a u16 as the runtime call argument.
func encodeNetuid(netuid uint16) string {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], netuid)
	return "0x" + hex.EncodeToString(buf[:])
}

func parseHexString(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty hex string")
	}
	return strconv.ParseUint(s, 16, 64)
}
