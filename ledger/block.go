package ledger

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// GenesisPreviousHash is the previous hash carried by every genesis block.
const GenesisPreviousHash = "0"

// Block is a sealed ledger entry. Everything but Likes is fixed once Hash is
// set; Likes is excluded from the hash.
type Block struct {
	Index        uint64 `json:"index"`
	Timestamp    int64  `json:"timestamp"` // milliseconds since epoch
	Post         Post   `json:"post"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
	Nonce        uint64 `json:"nonce"`
	Likes        uint64 `json:"likes"`
}

// canonicalHeader holds the hashed fields preceding the nonce, in hash order.
type canonicalHeader struct {
	Index        uint64 `json:"index"`
	Timestamp    int64  `json:"timestamp"`
	Post         Post   `json:"post"`
	PreviousHash string `json:"previous_hash"`
}

// canonicalPrefix returns the canonical form up to and including the
// `"nonce":` key, so that mining only has to append the number.
func (b Block) canonicalPrefix() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// strings and integers only: Encode cannot fail
	_ = enc.Encode(canonicalHeader{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Post:         b.Post,
		PreviousHash: b.PreviousHash,
	})
	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = out[:len(out)-1]
	return append(out, `,"nonce":`...)
}

func appendNonce(dst []byte, nonce uint64) []byte {
	dst = strconv.AppendUint(dst, nonce, 10)
	return append(dst, '}')
}

// Canonical returns the exact bytes hashed for b.
func (b Block) Canonical() []byte {
	return appendNonce(b.canonicalPrefix(), b.Nonce)
}

// ComputeHash recomputes the digest of b's canonical form.
func (b Block) ComputeHash() string {
	return Digest(b.Canonical())
}

// IsGenesis reports whether b has the shape of a genesis block.
func (b Block) IsGenesis() bool {
	return b.Index == 0 && b.PreviousHash == GenesisPreviousHash
}

// cloneChain copies the block slice. Posts are immutable values apart from
// the MediaInfo pointer, which is never written after construction.
func cloneChain(chain []Block) []Block {
	if chain == nil {
		return nil
	}
	out := make([]Block, len(chain))
	copy(out, chain)
	return out
}
