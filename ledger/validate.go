package ledger

import "fmt"

// Validate checks the structure of chain: genesis shape, index continuity,
// recomputed hashes, previous-hash links and proof-of-work at difficulty for
// every block after genesis. It returns nil for a valid (or empty) chain and
// a *ValidationError for the first failing block otherwise.
func Validate(chain []Block, difficulty int) error {
	if len(chain) == 0 {
		return nil
	}

	genesis := chain[0]
	if !genesis.IsGenesis() {
		return &ValidationError{
			Index:  0,
			Reason: ErrBadGenesis,
			Detail: fmt.Sprintf("index %d, previous hash %q", genesis.Index, genesis.PreviousHash),
		}
	}
	if expected := genesis.ComputeHash(); genesis.Hash != expected {
		return &ValidationError{Index: 0, Reason: ErrHashMismatch, Detail: fmt.Sprintf("expected %s, got %s", expected, genesis.Hash)}
	}

	for i := 1; i < len(chain); i++ {
		if err := validateBlock(chain[i], chain[i-1], difficulty); err != nil {
			err.Index = i
			return err
		}
	}
	return nil
}

// validateBlock verifies current against its predecessor.
func validateBlock(current, previous Block, difficulty int) *ValidationError {
	if current.Index != previous.Index+1 {
		return &ValidationError{Reason: ErrIndexGap, Detail: fmt.Sprintf("expected %d, got %d", previous.Index+1, current.Index)}
	}

	if expected := current.ComputeHash(); current.Hash != expected {
		return &ValidationError{Reason: ErrHashMismatch, Detail: fmt.Sprintf("expected %s, got %s", expected, current.Hash)}
	}

	if current.PreviousHash != previous.Hash {
		return &ValidationError{Reason: ErrBrokenLink, Detail: fmt.Sprintf("expected %s, got %s", previous.Hash, current.PreviousHash)}
	}

	if !MeetsDifficulty(current.Hash, difficulty) {
		return &ValidationError{Reason: ErrInsufficientWork, Detail: fmt.Sprintf("difficulty %d", difficulty)}
	}

	return nil
}
