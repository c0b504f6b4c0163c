package reconcile

import "github.com/luca-patrignani/feedchain/ledger"

// Action is the outcome of the decision rule.
type Action int

const (
	// Keep leaves the local chain in place.
	Keep Action = iota
	// AdoptLonger replaces the local chain with a longer valid remote chain,
	// merging likes.
	AdoptLonger
	// AdoptVerbatim replaces an invalid local chain with the remote chain as is.
	AdoptVerbatim
)

func (a Action) String() string {
	switch a {
	case Keep:
		return "keep"
	case AdoptLonger:
		return "adopt-longer"
	case AdoptVerbatim:
		return "adopt-verbatim"
	default:
		return "unknown"
	}
}

// Decision is the chain to install, if any, and why.
type Decision struct {
	Action Action
	// Chain is nil when Action is Keep.
	Chain []ledger.Block
}

// Decide applies the decision rule to chains whose validity is already known.
func Decide(local, remote []ledger.Block, localValid, remoteValid bool) Decision {
	switch {
	case remoteValid && len(remote) > len(local):
		return Decision{Action: AdoptLonger, Chain: MergeLikes(local, remote)}
	case !localValid && remoteValid:
		return Decision{Action: AdoptVerbatim, Chain: append([]ledger.Block(nil), remote...)}
	default:
		return Decision{Action: Keep}
	}
}

// Reconcile validates both chains at difficulty and applies Decide.
func Reconcile(local, remote []ledger.Block, difficulty int) Decision {
	localValid := ledger.Validate(local, difficulty) == nil
	remoteValid := ledger.Validate(remote, difficulty) == nil
	return Decide(local, remote, localValid, remoteValid)
}

// MergeLikes returns a copy of remote where every block whose hash also
// appears in local carries the local like count. Other blocks keep their own.
func MergeLikes(local, remote []ledger.Block) []ledger.Block {
	likes := make(map[string]uint64, len(local))
	for _, b := range local {
		likes[b.Hash] = b.Likes
	}
	merged := make([]ledger.Block, len(remote))
	for i, b := range remote {
		if n, ok := likes[b.Hash]; ok {
			b.Likes = n
		}
		merged[i] = b
	}
	return merged
}
