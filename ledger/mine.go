package ledger

import (
	"strings"
	"time"
)

// DefaultDifficulty is the number of leading zero hex characters required
// of every non-genesis block.
const DefaultDifficulty = 3

// GenesisDifficulty is the difficulty genesis blocks are mined at.
const GenesisDifficulty = 0

// MeetsDifficulty reports whether hash starts with difficulty '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// Mine searches nonces upwards from draft.Nonce until the block hash meets
// difficulty, and returns the sealed block. The search is unbounded.
func Mine(draft Block, difficulty int) Block {
	prefix := draft.canonicalPrefix()
	buf := make([]byte, 0, len(prefix)+21)
	nonce := draft.Nonce
	for {
		buf = appendNonce(append(buf[:0], prefix...), nonce)
		hash := Digest(buf)
		if MeetsDifficulty(hash, difficulty) {
			draft.Nonce = nonce
			draft.Hash = hash
			return draft
		}
		nonce++
	}
}

// NewGenesis mints the genesis block for a fresh chain.
func NewGenesis(at time.Time) Block {
	return Mine(Block{
		Index:        0,
		Timestamp:    at.UnixMilli(),
		Post:         NewTextPost("Genesis", "The first post on the chain."),
		PreviousHash: GenesisPreviousHash,
	}, GenesisDifficulty)
}
