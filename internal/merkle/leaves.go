package merkle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"realm-ledger/internal/domain"
)

// Packed leaf sizes. Field order and widths are part of every issued proof.
const (
	StakeLeafSize = common.AddressLength + 2 + 32 + 32 // address | uint16 realmId | uint256 amount | uint256 unlockTime
	ClaimLeafSize = common.AddressLength + 32          // address | uint256 amount
)

// EncodeStakeLeaf packs a stake leaf as abi.encodePacked(address, uint16, uint256, uint256).
func EncodeStakeLeaf(l domain.StakeLeaf) ([]byte, error) {
	amount, err := word(l.TotalStaked)
	if err != nil {
		return nil, fmt.Errorf("stake leaf %s/%d: %w", l.Address.Hex(), l.RealmID, err)
	}
	unlock, err := word(l.LatestUnlockTime)
	if err != nil {
		return nil, fmt.Errorf("stake leaf %s/%d unlockTime: %w", l.Address.Hex(), l.RealmID, err)
	}

	buf := make([]byte, 0, StakeLeafSize)
	buf = append(buf, l.Address.Bytes()...)
	buf = binary.BigEndian.AppendUint16(buf, l.RealmID)
	buf = append(buf, amount[:]...)
	buf = append(buf, unlock[:]...)
	return buf, nil
}

// EncodeClaimLeaf packs a claim leaf as abi.encodePacked(address, uint256).
func EncodeClaimLeaf(c domain.Claim) ([]byte, error) {
	amount, err := word(c.Amount)
	if err != nil {
		return nil, fmt.Errorf("claim leaf %s: %w", c.Address.Hex(), err)
	}

	buf := make([]byte, 0, ClaimLeafSize)
	buf = append(buf, c.Address.Bytes()...)
	buf = append(buf, amount[:]...)
	return buf, nil
}

// HashLeaf returns keccak256 of a packed leaf.
func HashLeaf(packed []byte) common.Hash {
	return crypto.Keccak256Hash(packed)
}

// StakeLeafHash encodes and hashes a stake leaf.
func StakeLeafHash(l domain.StakeLeaf) (common.Hash, error) {
	packed, err := EncodeStakeLeaf(l)
	if err != nil {
		return common.Hash{}, err
	}
	return HashLeaf(packed), nil
}

// ClaimLeafHash encodes and hashes a claim leaf.
func ClaimLeafHash(c domain.Claim) (common.Hash, error) {
	packed, err := EncodeClaimLeaf(c)
	if err != nil {
		return common.Hash{}, err
	}
	return HashLeaf(packed), nil
}

// BuildStakeTree sorts leaves by (address, realmId) and builds the global stake tree.
// The input slice is not modified.
func BuildStakeTree(leaves []domain.StakeLeaf) (*Tree, error) {
	sorted := make([]domain.StakeLeaf, len(leaves))
	copy(sorted, leaves)
	SortStakeLeaves(sorted)

	hashes := make([]common.Hash, len(sorted))
	for i, l := range sorted {
		h, err := StakeLeafHash(l)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	return New(hashes), nil
}

// BuildClaimTree sorts claims by address and builds a realm's claims tree.
// The input slice is not modified.
func BuildClaimTree(claims []domain.Claim) (*Tree, error) {
	sorted := make([]domain.Claim, len(claims))
	copy(sorted, claims)
	SortClaims(sorted)

	hashes := make([]common.Hash, len(sorted))
	for i, c := range sorted {
		h, err := ClaimLeafHash(c)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	return New(hashes), nil
}

// SortStakeLeaves orders leaves by (address ASC, realmId ASC).
func SortStakeLeaves(leaves []domain.StakeLeaf) {
	sort.SliceStable(leaves, func(i, j int) bool {
		if c := bytes.Compare(leaves[i].Address[:], leaves[j].Address[:]); c != 0 {
			return c < 0
		}
		return leaves[i].RealmID < leaves[j].RealmID
	})
}

// SortClaims orders claims by address ASC.
func SortClaims(claims []domain.Claim) {
	sort.SliceStable(claims, func(i, j int) bool {
		return bytes.Compare(claims[i].Address[:], claims[j].Address[:]) < 0
	})
}

// word converts an amount to a 32-byte big-endian word, rejecting negatives and overflow.
func word(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, nil
	}
	if v.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("negative amount %s", v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, fmt.Errorf("amount %s exceeds 256 bits", v)
	}
	return u.Bytes32(), nil
}
