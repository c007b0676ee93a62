package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "NoteLedger:genesis:v1"

// ChainHasher maintains one note's hash chain:
// hash[n] = SHA-256(prev_hash || note_id || note_seq || entry_digest)
type ChainHasher struct {
	prevHash [32]byte
}

func NewChainHasher() *ChainHasher {
	return &ChainHasher{prevHash: GenesisHash()}
}

// GenesisHash is the chain tip of a note with no entries.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Compute returns the next hash without advancing the chain.
func (h *ChainHasher) Compute(noteID NoteID, noteSeq uint64, digest []byte) [32]byte {
	return chainHash(h.prevHash, noteID, noteSeq, digest)
}

// Advance moves the tip to hash.
func (h *ChainHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

func (h *ChainHasher) Tip() [32]byte {
	return h.prevHash
}

// Reset sets the tip, used when restoring from a snapshot.
func (h *ChainHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}

func chainHash(prev [32]byte, noteID NoteID, noteSeq uint64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(noteID))
	binary.BigEndian.PutUint64(buf[8:], noteSeq)
	hasher.Write(buf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}
