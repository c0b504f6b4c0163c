package ledger

import (
	"encoding/json"
	"fmt"
)

// EncodeChain serializes chain as a JSON array of blocks.
func EncodeChain(chain []Block) ([]byte, error) {
	if chain == nil {
		chain = []Block{}
	}
	return json.Marshal(chain)
}

// DecodeChain parses a JSON array of blocks. Blocks without a likes field
// decode with zero likes.
func DecodeChain(data []byte) ([]Block, error) {
	var chain []Block
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}
	return chain, nil
}
