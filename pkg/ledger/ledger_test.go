package ledger

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestChain(t *testing.T, difficulty int) (*Chain, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.json")
	c, err := Open(path, difficulty)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, path
}

func attendancePayload(userID string) Payload {
	return Payload{
		"type":           "attendance",
		"user_id":        userID,
		"date":           "2026-08-29",
		"liveness_score": 0.91,
	}
}

func TestOpen_CreatesGenesis(t *testing.T) {
	c, _ := openTestChain(t, 2)

	if c.Len() != 1 {
		t.Fatalf("new chain length: got %d, want 1", c.Len())
	}

	genesis := c.Blocks()[0]
	if genesis.Index != 0 {
		t.Errorf("genesis index: got %d, want 0", genesis.Index)
	}
	if genesis.PreviousHash != "0" {
		t.Errorf("genesis previous hash: got %q, want \"0\"", genesis.PreviousHash)
	}
	if genesis.Data["type"] != "genesis" {
		t.Errorf("genesis payload type: got %v, want genesis", genesis.Data["type"])
	}
	if !strings.HasPrefix(genesis.Hash, "00") {
		t.Errorf("genesis hash %q does not satisfy difficulty 2", genesis.Hash)
	}
	if genesis.Hash != genesis.ComputeHash() {
		t.Error("genesis hash does not match its recomputed digest")
	}
}

func TestChain_AddBlock(t *testing.T) {
	c, _ := openTestChain(t, 2)

	hash, err := c.AddBlock(attendancePayload("u1"))
	if err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if !strings.HasPrefix(hash, "00") {
		t.Errorf("block hash %q does not satisfy difficulty 2", hash)
	}

	blocks := c.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("chain length: got %d, want 2", len(blocks))
	}
	if blocks[1].PreviousHash != blocks[0].Hash {
		t.Error("new block is not linked to its predecessor")
	}
	if blocks[1].Index != 1 {
		t.Errorf("block index: got %d, want 1", blocks[1].Index)
	}

	if ok, bad := c.Validate(); !ok {
		t.Errorf("fresh chain invalid at block %d", bad)
	}
}

func TestChain_Validate_DetectsDataTamper(t *testing.T) {
	c, _ := openTestChain(t, 1)
	if _, err := c.AddBlock(attendancePayload("u1")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddBlock(attendancePayload("u2")); err != nil {
		t.Fatal(err)
	}

	// Mutate the payload of block 1 behind the chain's back.
	c.blocks[1].Data["user_id"] = "intruder"

	ok, bad := c.Validate()
	if ok {
		t.Fatal("tampered chain validated")
	}
	if bad != 1 {
		t.Errorf("failing block: got %d, want 1", bad)
	}
}

func TestChain_Validate_DetectsBrokenLink(t *testing.T) {
	c, _ := openTestChain(t, 1)
	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := c.AddBlock(attendancePayload(u)); err != nil {
			t.Fatal(err)
		}
	}

	// Re-mine block 1 with altered data so its own digest is valid but
	// block 2's previous-hash link no longer matches.
	c.blocks[1].Data["user_id"] = "intruder"
	c.blocks[1].mine(1)

	ok, bad := c.Validate()
	if ok {
		t.Fatal("chain with broken link validated")
	}
	if bad != 2 {
		t.Errorf("failing block: got %d, want 2", bad)
	}
}

func TestChain_ReloadPreservesBlocks(t *testing.T) {
	c, path := openTestChain(t, 2)
	if _, err := c.AddBlock(attendancePayload("u1")); err != nil {
		t.Fatal(err)
	}
	want := c.Blocks()

	reloaded, err := Open(path, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reloaded.Blocks()

	if len(got) != len(want) {
		t.Fatalf("reloaded length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Hash != want[i].Hash {
			t.Errorf("block %d hash changed across reload", i)
		}
		if got[i].Nonce != want[i].Nonce {
			t.Errorf("block %d nonce changed across reload", i)
		}
		if got[i].Timestamp != want[i].Timestamp {
			t.Errorf("block %d timestamp changed across reload", i)
		}
	}

	if ok, bad := reloaded.Validate(); !ok {
		t.Errorf("reloaded chain invalid at block %d", bad)
	}

	// Appending after a reload keeps the chain linked.
	if _, err := reloaded.AddBlock(attendancePayload("u2")); err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if ok, bad := reloaded.Validate(); !ok {
		t.Errorf("chain invalid after post-reload append at block %d", bad)
	}
}

func TestChain_BlockByHash(t *testing.T) {
	c, _ := openTestChain(t, 1)
	hash, err := c.AddBlock(attendancePayload("u1"))
	if err != nil {
		t.Fatal(err)
	}

	b := c.BlockByHash(hash)
	if b == nil {
		t.Fatal("block not found by hash")
	}
	if b.Data["user_id"] != "u1" {
		t.Errorf("wrong block returned: %v", b.Data)
	}

	if c.BlockByHash("deadbeef") != nil {
		t.Error("unknown hash should return nil")
	}
}

func TestChain_AttendanceRecords(t *testing.T) {
	c, _ := openTestChain(t, 1)
	if _, err := c.AddBlock(attendancePayload("u1")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddBlock(Payload{"type": "audit", "note": "manual check"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddBlock(attendancePayload("u2")); err != nil {
		t.Fatal(err)
	}

	records := c.AttendanceRecords()
	if len(records) != 2 {
		t.Fatalf("attendance records: got %d, want 2", len(records))
	}
	if records[0]["user_id"] != "u1" || records[1]["user_id"] != "u2" {
		t.Errorf("wrong records: %v", records)
	}
}

func TestBlock_ComputeHash_Deterministic(t *testing.T) {
	b := &Block{
		Index:        1,
		Timestamp:    "2026-08-29 10:00:00.000000",
		Data:         attendancePayload("u1"),
		PreviousHash: "00abc",
		Nonce:        7,
	}

	first := b.ComputeHash()
	if first != b.ComputeHash() {
		t.Error("hash not deterministic")
	}

	b.Nonce = 8
	if b.ComputeHash() == first {
		t.Error("nonce change did not change the hash")
	}
}

func BenchmarkChain_AddBlock(b *testing.B) {
	path := filepath.Join(b.TempDir(), "ledger.json")
	c, err := Open(path, 1)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.AddBlock(attendancePayload("u1")); err != nil {
			b.Fatal(err)
		}
	}
}
