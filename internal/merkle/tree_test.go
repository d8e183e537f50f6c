package merkle

import (
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realm-ledger/internal/domain"
)

func leafHashes(n int) []common.Hash {
	out := make([]common.Hash, n)
	for i := range out {
		out[i] = crypto.Keccak256Hash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestTree_EmptyRoot(t *testing.T) {
	tree := New(nil)

	assert.Equal(t, EmptyRoot, tree.Root())
	assert.Equal(t, 0, tree.Len())

	_, err := tree.ProofAt(0)
	assert.ErrorIs(t, err, ErrLeafNotFound)

	assert.False(t, Verify(nil, tree.Root(), common.Hash{}))
	assert.False(t, Verify(nil, EmptyRoot, crypto.Keccak256Hash([]byte("leaf-0"))))
}

func TestTree_SingleLeaf(t *testing.T) {
	leaves := leafHashes(1)
	tree := New(leaves)

	assert.Equal(t, leaves[0], tree.Root())

	proof, err := tree.Proof(leaves[0])
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, Verify(proof, tree.Root(), leaves[0]))
}

func TestTree_TwoLeavesSortedPair(t *testing.T) {
	leaves := leafHashes(2)

	forward := New([]common.Hash{leaves[0], leaves[1]})
	backward := New([]common.Hash{leaves[1], leaves[0]})

	assert.Equal(t, forward.Root(), backward.Root(), "pair order must not matter")
	assert.Equal(t, hashPair(leaves[0], leaves[1]), forward.Root())
}

func TestTree_OddNodePromoted(t *testing.T) {
	leaves := leafHashes(3)
	tree := New(leaves)

	want := hashPair(hashPair(leaves[0], leaves[1]), leaves[2])
	assert.Equal(t, want, tree.Root())
}

func TestTree_ProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 9, 16, 33} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			leaves := leafHashes(n)
			tree := New(leaves)

			for _, leaf := range leaves {
				proof, err := tree.Proof(leaf)
				require.NoError(t, err)
				assert.True(t, Verify(proof, tree.Root(), leaf))
			}
		})
	}
}

func TestTree_NonMemberFails(t *testing.T) {
	leaves := leafHashes(5)
	tree := New(leaves)
	outsider := crypto.Keccak256Hash([]byte("outsider"))

	_, err := tree.Proof(outsider)
	assert.ErrorIs(t, err, ErrLeafNotFound)

	// A member's proof must not validate a different leaf.
	proof, err := tree.Proof(leaves[2])
	require.NoError(t, err)
	assert.False(t, Verify(proof, tree.Root(), outsider))
}

func TestEncodeStakeLeaf_Layout(t *testing.T) {
	leaf := domain.StakeLeaf{
		Address:          common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		RealmID:          0x0102,
		TotalStaked:      big.NewInt(0x0a0b),
		LatestUnlockTime: big.NewInt(0x0c0d),
	}

	packed, err := EncodeStakeLeaf(leaf)
	require.NoError(t, err)
	require.Len(t, packed, StakeLeafSize)

	assert.Equal(t, byte(0xaa), packed[19])
	assert.Equal(t, []byte{0x01, 0x02}, packed[20:22])
	assert.Equal(t, []byte{0x0a, 0x0b}, packed[52:54])
	assert.Equal(t, []byte{0x0c, 0x0d}, packed[84:86])
}

func TestEncodeClaimLeaf_Layout(t *testing.T) {
	claim := domain.Claim{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Amount:  big.NewInt(42),
	}

	packed, err := EncodeClaimLeaf(claim)
	require.NoError(t, err)
	require.Len(t, packed, ClaimLeafSize)
	assert.Equal(t, byte(0xbb), packed[19])
	assert.Equal(t, byte(42), packed[51])
}

func TestEncodeLeaf_RejectsOutOfRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)

	_, err := EncodeClaimLeaf(domain.Claim{Amount: tooBig})
	assert.Error(t, err)

	_, err = EncodeClaimLeaf(domain.Claim{Amount: big.NewInt(-1)})
	assert.Error(t, err)
}

func TestBuildStakeTree_OrderIndependent(t *testing.T) {
	leaves := []domain.StakeLeaf{
		{Address: common.HexToAddress("0x03"), RealmID: 1, TotalStaked: big.NewInt(5), LatestUnlockTime: big.NewInt(10)},
		{Address: common.HexToAddress("0x01"), RealmID: 2, TotalStaked: big.NewInt(7), LatestUnlockTime: big.NewInt(11)},
		{Address: common.HexToAddress("0x01"), RealmID: 1, TotalStaked: big.NewInt(9), LatestUnlockTime: big.NewInt(12)},
		{Address: common.HexToAddress("0x02"), RealmID: 3, TotalStaked: big.NewInt(1), LatestUnlockTime: big.NewInt(13)},
	}

	base, err := BuildStakeTree(leaves)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.StakeLeaf, len(leaves))
		copy(shuffled, leaves)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		tree, err := BuildStakeTree(shuffled)
		require.NoError(t, err)
		assert.Equal(t, base.Root(), tree.Root())
	}

	// Input slice is left as given.
	assert.Equal(t, common.HexToAddress("0x03"), leaves[0].Address)
}

func TestBuildClaimTree_TwoClaims(t *testing.T) {
	a := domain.Claim{Address: common.HexToAddress("0x0a"), Amount: big.NewInt(42)}
	b := domain.Claim{Address: common.HexToAddress("0x0b"), Amount: big.NewInt(21)}

	tree, err := BuildClaimTree([]domain.Claim{b, a})
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())

	ha, err := ClaimLeafHash(a)
	require.NoError(t, err)
	hb, err := ClaimLeafHash(b)
	require.NoError(t, err)

	assert.Equal(t, []common.Hash{ha, hb}, tree.Leaves())
	assert.Equal(t, hashPair(ha, hb), tree.Root())

	proof, err := tree.Proof(hb)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{ha}, proof)
}

func TestBuildClaimTree_Empty(t *testing.T) {
	tree, err := BuildClaimTree(nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot, tree.Root())
}
