// Package audit keeps a tamper-evident hash chain of upload events for
// display in the UI. It is an audit trail, not a consensus system: blocks
// live in memory for the process lifetime.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Block is one entry in the audit chain. Each block's hash covers its
// payload and the previous block's hash, so editing any block breaks every
// later link.
type Block struct {
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	PrevHash  string          `json:"prevHash"`
	Hash      string          `json:"hash"`
}

// Chain is a thread-safe append-only hash chain.
type Chain struct {
	mu     sync.RWMutex
	blocks []Block
}

// NewChain creates a chain with a genesis block.
func NewChain() *Chain {
	genesis := Block{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"event":"genesis"}`),
		PrevHash:  "0",
	}
	genesis.Hash = hashBlock(genesis)
	return &Chain{blocks: []Block{genesis}}
}

// Append adds a block holding the JSON encoding of data.
func (c *Chain) Append(data any) (Block, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Block{}, fmt.Errorf("failed to encode audit payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.blocks[len(c.blocks)-1]
	block := Block{
		Index:     prev.Index + 1,
		Timestamp: time.Now().UTC(),
		Data:      payload,
		PrevHash:  prev.Hash,
	}
	block.Hash = hashBlock(block)
	c.blocks = append(c.blocks, block)
	return block, nil
}

// Blocks returns a copy of the chain.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Len returns the number of blocks, genesis included.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Valid recomputes every hash and link and reports whether the chain is
// intact.
func (c *Chain) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, block := range c.blocks {
		if block.Hash != hashBlock(block) {
			return false
		}
		if i > 0 && block.PrevHash != c.blocks[i-1].Hash {
			return false
		}
	}
	return true
}

func hashBlock(b Block) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", b.Index, b.Timestamp.Format(time.RFC3339Nano), b.Data, b.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}
