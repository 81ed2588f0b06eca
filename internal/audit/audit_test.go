package audit

import (
	"encoding/json"
	"testing"
)

func TestNewChain(t *testing.T) {
	chain := NewChain()

	if chain.Len() != 1 {
		t.Fatalf("expected genesis-only chain, got length %d", chain.Len())
	}
	if !chain.Valid() {
		t.Error("fresh chain must be valid")
	}

	genesis := chain.Blocks()[0]
	if genesis.Index != 0 || genesis.PrevHash != "0" {
		t.Errorf("unexpected genesis block: %+v", genesis)
	}
}

func TestAppend(t *testing.T) {
	chain := NewChain()

	block, err := chain.Append(map[string]string{"event": "run_completed", "runId": "r1"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if block.Index != 1 {
		t.Errorf("expected index 1, got %d", block.Index)
	}
	if block.PrevHash != chain.Blocks()[0].Hash {
		t.Error("block not linked to genesis")
	}

	var data map[string]string
	if err := json.Unmarshal(block.Data, &data); err != nil {
		t.Fatalf("unmarshal block data: %v", err)
	}
	if data["runId"] != "r1" {
		t.Errorf("unexpected payload: %v", data)
	}

	if !chain.Valid() {
		t.Error("chain must stay valid after append")
	}
}

func TestAppendUnencodable(t *testing.T) {
	chain := NewChain()
	if _, err := chain.Append(func() {}); err == nil {
		t.Error("expected error for unencodable payload")
	}
	if chain.Len() != 1 {
		t.Error("failed append must not grow the chain")
	}
}

func TestValidDetectsTamper(t *testing.T) {
	chain := NewChain()
	for i := 0; i < 3; i++ {
		if _, err := chain.Append(map[string]int{"n": i}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if !chain.Valid() {
		t.Fatal("chain must be valid before tampering")
	}

	// Rewrite a middle block's payload directly.
	chain.blocks[2].Data = json.RawMessage(`{"n":99}`)

	if chain.Valid() {
		t.Error("tampered chain must be invalid")
	}
}

func TestBlocksReturnsCopy(t *testing.T) {
	chain := NewChain()
	chain.Append(map[string]string{"event": "x"})

	blocks := chain.Blocks()
	blocks[0].Hash = "forged"

	if !chain.Valid() {
		t.Error("mutating the returned slice must not affect the chain")
	}
}
