package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Claim is one staker's claimable revenue in one realm. Amount is always > 0.
type Claim struct {
	Address common.Address `json:"address"`
	Amount  *big.Int       `json:"amount"`
}

// RealmClaims is the claims computation for one realm.
// TotalClaimableAmount <= TotalRevenueProcessed; the gap is truncation loss,
// strictly less than NumberOfClaimants when there are claimants.
type RealmClaims struct {
	RealmID               uint16      `json:"realmId"`
	TotalRevenueProcessed *big.Int    `json:"totalRevenueProcessed"`
	TotalClaimableAmount  *big.Int    `json:"totalClaimableAmount"`
	ClaimMerkleRoot       common.Hash `json:"claimMerkleRoot"`
	NumberOfClaimants     int         `json:"numberOfClaimants"`
	Claims                []Claim     `json:"claims"`
	LeafData              []Claim     `json:"leafData"`
	RevenueEvents         int         `json:"revenueEvents"`
	Error                 string      `json:"error,omitempty"` // set when revenue could not be fetched
}

// EmptyRealmClaims returns the "no data" entry for a realm.
func EmptyRealmClaims(realmID uint16) RealmClaims {
	return RealmClaims{
		RealmID:               realmID,
		TotalRevenueProcessed: new(big.Int),
		TotalClaimableAmount:  new(big.Int),
		Claims:                []Claim{},
		LeafData:              []Claim{},
	}
}

// ClaimsComputeResult is the payload of a ClaimsComputeResult document.
type ClaimsComputeResult struct {
	Realms        map[uint16]*RealmClaims `json:"realms"`
	StakeResultID string                  `json:"stakeResultId"` // stake document the claims were derived from
}
