// Package ledger implements a hash-chained append log with a small
// proof-of-work cost per entry. It gives attendance records tamper
// evidence: altering a persisted record invalidates its block's digest
// and every link after it. It is not a distributed system; there are no
// peers and no fork choice, and the low difficulty is an artificial work
// delay rather than a security boundary.
package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/secureattend/secureattend/pkg/logging"
)

// Payload is the opaque structured data carried by a block. JSON
// serialization of a map sorts keys, which keeps the digest input
// canonical across save/load cycles.
type Payload = map[string]interface{}

// Block is one hash-linked, proof-of-work-sealed entry.
type Block struct {
	Index        int     `json:"index"`
	Timestamp    string  `json:"timestamp"`
	Data         Payload `json:"data"`
	PreviousHash string  `json:"previous_hash"`
	Hash         string  `json:"hash"`
	Nonce        int     `json:"nonce"`
}

// genesisPreviousHash is the fixed sentinel for block 0.
const genesisPreviousHash = "0"

const timestampLayout = "2006-01-02 15:04:05.000000"

// ErrNoGenesis is returned when appending to a chain with no blocks.
var ErrNoGenesis = errors.New("ledger has no genesis block")

// ComputeHash returns the SHA-256 hex digest over the block's fields,
// including the current nonce.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Data)
	if err != nil {
		// A payload built from JSON-compatible values cannot fail to
		// marshal; a broken payload must not silently produce a stable
		// digest.
		data = []byte("null")
	}
	input := fmt.Sprintf("%d%s%s%s%d", b.Index, b.Timestamp, data, b.PreviousHash, b.Nonce)
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum)
}

// mine searches nonces from 0 until the digest has the required number of
// leading zero hex characters.
func (b *Block) mine(difficulty int) {
	target := strings.Repeat("0", difficulty)

	b.Nonce = 0
	b.Hash = b.ComputeHash()
	for !strings.HasPrefix(b.Hash, target) {
		b.Nonce++
		b.Hash = b.ComputeHash()
	}
}

// Chain is the in-memory ledger plus its backing file. Blocks grow
// strictly sequentially: one block is fully mined and persisted before
// the next append starts.
type Chain struct {
	mu         sync.Mutex
	path       string
	difficulty int
	blocks     []*Block
}

// Open loads the chain persisted at path, creating and mining a genesis
// block if no chain exists yet.
func Open(path string, difficulty int) (*Chain, error) {
	c := &Chain{
		path:       path,
		difficulty: difficulty,
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	if len(c.blocks) == 0 {
		if err := c.createGenesis(); err != nil {
			return nil, err
		}
	}

	logging.Component("ledger").Infof("Ledger open: %d block(s), difficulty %d", len(c.blocks), difficulty)
	return c, nil
}

func (c *Chain) createGenesis() error {
	genesis := &Block{
		Index:     0,
		Timestamp: time.Now().Format(timestampLayout),
		Data: Payload{
			"type":    "genesis",
			"message": "SecureAttend ledger initialized",
			"created": time.Now().Format(time.RFC3339),
		},
		PreviousHash: genesisPreviousHash,
	}
	genesis.mine(c.difficulty)
	c.blocks = append(c.blocks, genesis)

	logging.Component("ledger").Infof("Genesis block mined: %s (nonce %d)", genesis.Hash[:16], genesis.Nonce)
	return c.persist()
}

// AddBlock mines and appends a new block carrying data, persists the
// whole chain, and returns the new block's hash. Mining is synchronous
// and CPU-bound; at the configured difficulty it completes quickly.
func (c *Chain) AddBlock(data Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return "", ErrNoGenesis
	}
	latest := c.blocks[len(c.blocks)-1]

	block := &Block{
		Index:        len(c.blocks),
		Timestamp:    time.Now().Format(timestampLayout),
		Data:         data,
		PreviousHash: latest.Hash,
	}
	block.mine(c.difficulty)
	c.blocks = append(c.blocks, block)

	if err := c.persist(); err != nil {
		return "", err
	}

	logging.Component("ledger").Debugf("Block %d mined: %s (nonce %d)", block.Index, block.Hash[:16], block.Nonce)
	return block.Hash, nil
}

// Validate recomputes every block's digest and checks every link.
// It returns true when the chain is intact; otherwise false and the index
// of the first failing block. Validation never repairs anything.
func (c *Chain) Validate() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 1; i < len(c.blocks); i++ {
		current := c.blocks[i]
		previous := c.blocks[i-1]

		if current.Hash != current.ComputeHash() {
			logging.Component("ledger").Warnf("Block %d has an invalid hash", i)
			return false, i
		}
		if current.PreviousHash != previous.Hash {
			logging.Component("ledger").Warnf("Block %d has an invalid previous-hash link", i)
			return false, i
		}
	}
	return true, -1
}

// Len returns the number of blocks including genesis.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Blocks returns a snapshot copy of the chain.
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = *b
	}
	return out
}

// BlockByHash finds a block by its hash, or nil.
func (c *Chain) BlockByHash(hash string) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.blocks {
		if b.Hash == hash {
			copy := *b
			return &copy
		}
	}
	return nil
}

// AttendanceRecords extracts the payloads of all attendance blocks,
// skipping genesis.
func (c *Chain) AttendanceRecords() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	var records []Payload
	for _, b := range c.blocks[1:] {
		if t, ok := b.Data["type"].(string); ok && t == "attendance" {
			records = append(records, b.Data)
		}
	}
	return records
}

// persist writes the whole chain to disk, replacing the previous file
// atomically via a temp-file rename. Caller holds the lock.
func (c *Chain) persist() error {
	data, err := json.MarshalIndent(c.blocks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// load reads the persisted chain, keeping stored hashes and nonces
// verbatim. Blocks are never re-mined on load; integrity is only checked
// on demand via Validate.
func (c *Chain) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	var blocks []*Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("failed to parse ledger: %w", err)
	}
	c.blocks = blocks
	return nil
}
