package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// PackStakeRootUpdate builds calldata for updateStakeWithdrawalMerkleRoot(bytes32).
func PackStakeRootUpdate(root common.Hash) ([]byte, error) {
	return TokenABI.Pack("updateStakeWithdrawalMerkleRoot", [32]byte(root))
}

// PackClaimsRootUpdate builds calldata for updateClaimsMerkleRoot(bytes32).
func PackClaimsRootUpdate(root common.Hash) ([]byte, error) {
	return RealmABI.Pack("updateClaimsMerkleRoot", [32]byte(root))
}

// ReadDistributedTokens calls distributedTokens() on the token contract at the latest block.
func ReadDistributedTokens(ctx context.Context, caller ContractCaller, token common.Address) (*big.Int, error) {
	data, err := TokenABI.Pack("distributedTokens")
	if err != nil {
		return nil, fmt.Errorf("pack distributedTokens: %w", err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call distributedTokens: %w", err)
	}
	values, err := TokenABI.Unpack("distributedTokens", out)
	if err != nil {
		return nil, fmt.Errorf("unpack distributedTokens: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack distributedTokens: got %d values", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack distributedTokens: unexpected type %T", values[0])
	}
	return amount, nil
}
