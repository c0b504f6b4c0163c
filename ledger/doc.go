// Package ledger implements an append-only, hash-linked ledger of user posts
// sealed by proof-of-work.
//
// # Core Components
//
// Block: A single post together with its index, timestamp, link to the
// previous block, the nonce found by mining and the resulting hash. The like
// counter travels with the block but is never part of its hash.
//
// Mine: Searches nonces until the canonical form of a block hashes to a digest
// with the required number of leading zero characters.
//
// Validate: Walks a chain verifying genesis shape, index continuity,
// recomputed hashes, previous-hash links and proof-of-work.
//
// Ledger: The single owner of the in-memory chain. All mutations (append,
// like, replacement after reconciliation) go through one lock, and every
// mutation is persisted through the Storage collaborator.
//
// # Canonical Form
//
// The hash input is the compact JSON object
//
//	{"index":…,"timestamp":…,"post":{…},"previous_hash":"…","nonce":…}
//
// with keys in exactly that order, HTML characters left unescaped and no
// trailing newline. Likes and the hash itself are excluded so that likes can
// change without re-mining.
//
// # Usage
//
// Create a Ledger over a Storage, call Initialize to restore the persisted
// chain (or mint a genesis block), then Append posts and Like blocks. Verify
// can be called at any time to check the chain.
package ledger
