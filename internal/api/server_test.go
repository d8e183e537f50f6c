package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/merkle"
	"realm-ledger/internal/storage"
	"realm-ledger/internal/storage/memory"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type fixture struct {
	stakes  *memory.ResultStore[*domain.StakeComputeResult]
	claims  *memory.ResultStore[*domain.ClaimsComputeResult]
	pushes  *memory.PushResultStore
	archive *memory.Archive
	handler http.Handler
}

func newFixture(t *testing.T, withArchive bool) *fixture {
	t.Helper()
	f := &fixture{
		stakes: memory.NewStakeResultStore(),
		claims: memory.NewClaimsResultStore(),
		pushes: memory.NewPushResultStore(),
	}
	opts := Options{
		Stakes:    f.stakes,
		Claims:    f.claims,
		Pushes:    f.pushes,
		Scheduler: func() any { return map[string]any{"step": 3} },
	}
	if withArchive {
		f.archive = memory.NewArchive()
		opts.Archive = f.archive
	}
	srv, err := New(opts)
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func stakeLeaves() []domain.StakeLeaf {
	leaves := []domain.StakeLeaf{
		{Address: alice, RealmID: 1, TotalStaked: big.NewInt(100), LatestUnlockTime: big.NewInt(1000)},
		{Address: bob, RealmID: 1, TotalStaked: big.NewInt(50), LatestUnlockTime: big.NewInt(2000)},
		{Address: alice, RealmID: 2, TotalStaked: big.NewInt(7), LatestUnlockTime: big.NewInt(3000)},
	}
	merkle.SortStakeLeaves(leaves)
	return leaves
}

func (f *fixture) seedStakes(t *testing.T) *domain.StakeDocument {
	t.Helper()
	leaves := stakeLeaves()
	tree, err := merkle.BuildStakeTree(leaves)
	require.NoError(t, err)

	doc := &domain.StakeDocument{
		ID:             "stake-1",
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ConfigChecksum: "cfg",
		Data: &domain.StakeComputeResult{
			GlobalStakerMerkleRoot: tree.Root(),
			TokenStats: domain.TokenStats{
				TotalStaked:      big.NewInt(157),
				TotalDistributed: big.NewInt(0),
				NumberOfStakers:  2,
			},
			AllStakers: map[common.Address]*domain.StakerSnapshot{
				alice: {
					Address:                 alice,
					TotalStakedAcrossRealms: big.NewInt(107),
					PerRealm: map[uint16]domain.RealmStake{
						1: {TotalStaked: big.NewInt(100), LatestUnlockTime: big.NewInt(1000)},
						2: {TotalStaked: big.NewInt(7), LatestUnlockTime: big.NewInt(3000)},
					},
				},
			},
			LeafData: leaves,
			ToBlock:  12,
		},
	}
	require.NoError(t, f.stakes.Save(context.Background(), doc))
	return doc
}

func (f *fixture) seedClaims(t *testing.T) *domain.ClaimsDocument {
	t.Helper()
	leaf := []domain.Claim{
		{Address: alice, Amount: big.NewInt(42)},
		{Address: bob, Amount: big.NewInt(21)},
	}
	merkle.SortClaims(leaf)
	tree, err := merkle.BuildClaimTree(leaf)
	require.NoError(t, err)

	doc := &domain.ClaimsDocument{
		ID:             "claims-1",
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		ConfigChecksum: "cfg",
		Data: &domain.ClaimsComputeResult{
			StakeResultID: "stake-1",
			Realms: map[uint16]*domain.RealmClaims{
				1: {
					RealmID:               1,
					TotalRevenueProcessed: big.NewInt(64),
					TotalClaimableAmount:  big.NewInt(63),
					ClaimMerkleRoot:       tree.Root(),
					NumberOfClaimants:     2,
					Claims:                leaf,
					LeafData:              leaf,
				},
			},
		},
	}
	require.NoError(t, f.claims.Save(context.Background(), doc))
	return doc
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusOK, f.get(t, "/health", nil))
}

func TestLatest_NotFoundBeforeFirstCompute(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/stakes/latest", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/claims/latest", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/accounts/"+alice.Hex()+"/stake", nil))
}

func TestLatest_ReturnsStoredDocuments(t *testing.T) {
	f := newFixture(t, false)
	stake := f.seedStakes(t)
	claims := f.seedClaims(t)

	var gotStake domain.StakeDocument
	require.Equal(t, http.StatusOK, f.get(t, "/v1/stakes/latest", &gotStake))
	assert.Equal(t, stake.ID, gotStake.ID)
	assert.Equal(t, stake.Data.GlobalStakerMerkleRoot, gotStake.Data.GlobalStakerMerkleRoot)
	assert.Equal(t, 0, gotStake.Data.TokenStats.TotalStaked.Cmp(big.NewInt(157)))

	var gotClaims domain.ClaimsDocument
	require.Equal(t, http.StatusOK, f.get(t, "/v1/claims/latest", &gotClaims))
	assert.Equal(t, claims.ID, gotClaims.ID)
	assert.Equal(t, 2, gotClaims.Data.Realms[1].NumberOfClaimants)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	stake := f.seedStakes(t)
	f.seedClaims(t)
	require.NoError(t, f.pushes.Upsert(context.Background(), domain.KindStakesPush, &domain.PushDocument{
		ID:        domain.StakePushKey(stake.Data.GlobalStakerMerkleRoot),
		Timestamp: time.Now(),
		Data: &domain.PushResult{
			Key:        domain.StakePushKey(stake.Data.GlobalStakerMerkleRoot),
			MerkleRoot: stake.Data.GlobalStakerMerkleRoot,
			Success:    true,
			Status:     domain.PushStatusSuccess,
		},
	}))

	var resp StatusResponse
	require.Equal(t, http.StatusOK, f.get(t, "/status", &resp))
	assert.Equal(t, "running", resp.Status)
	require.NotNil(t, resp.Stakes)
	assert.Equal(t, stake.Data.GlobalStakerMerkleRoot, resp.Stakes.Root)
	assert.Equal(t, 2, resp.Stakes.Stakers)
	require.NotNil(t, resp.Claims)
	assert.True(t, resp.Claims.Comparable)
	assert.Equal(t, "stake-1", resp.Claims.StakeResultID)
	require.NotNil(t, resp.LastStakePush)
	assert.Equal(t, domain.PushStatusSuccess, resp.LastStakePush.Data.Status)
	assert.Nil(t, resp.LastClaimsPush)
	assert.NotNil(t, resp.Scheduler)
}

func TestAccountStake(t *testing.T) {
	f := newFixture(t, false)
	f.seedStakes(t)

	var resp AccountStakeResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+alice.Hex()+"/stake", &resp))
	require.NotNil(t, resp.StakeInfo)
	assert.Equal(t, 0, resp.StakeInfo.TotalStakedAcrossRealms.Cmp(big.NewInt(107)))
	assert.Len(t, resp.StakeInfo.PerRealm, 2)

	resp = AccountStakeResponse{}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+bob.Hex()+"/stake", &resp))
	assert.Nil(t, resp.StakeInfo)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/accounts/not-an-address/stake", nil))
}

func TestStakeProof_VerifiesAgainstRoot(t *testing.T) {
	f := newFixture(t, false)
	doc := f.seedStakes(t)

	for _, tc := range []struct {
		addr  common.Address
		realm string
	}{
		{alice, "1"},
		{bob, "1"},
		{alice, "2"},
	} {
		var resp StakeProofResponse
		require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+tc.addr.Hex()+"/stake-proof?realm="+tc.realm, &resp))
		assert.Equal(t, doc.Data.GlobalStakerMerkleRoot, resp.Root)
		assert.True(t, merkle.Verify(resp.Proof, resp.Root, resp.LeafHash))

		want, err := merkle.StakeLeafHash(resp.Leaf)
		require.NoError(t, err)
		assert.Equal(t, want, resp.LeafHash)
	}
}

func TestStakeProof_Errors(t *testing.T) {
	f := newFixture(t, false)
	path := "/v1/accounts/" + bob.Hex() + "/stake-proof"

	assert.Equal(t, http.StatusNotFound, f.get(t, path+"?realm=1", nil))

	f.seedStakes(t)
	assert.Equal(t, http.StatusBadRequest, f.get(t, path, nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, path+"?realm=70000", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, path+"?realm=2", nil))
}

func TestClaimProof_VerifiesAgainstRoot(t *testing.T) {
	f := newFixture(t, false)
	doc := f.seedClaims(t)

	var resp ClaimProofResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+alice.Hex()+"/claim-proof?realm=1", &resp))
	assert.Equal(t, doc.Data.Realms[1].ClaimMerkleRoot, resp.Root)
	assert.Equal(t, 0, resp.Amount.Cmp(big.NewInt(42)))
	assert.True(t, merkle.Verify(resp.Proof, resp.Root, resp.LeafHash))

	// served from the cached tree
	var again ClaimProofResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+alice.Hex()+"/claim-proof?realm=1", &again))
	assert.Equal(t, resp, again)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/accounts/"+alice.Hex()+"/claim-proof?realm=2", nil))
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/accounts/"+stranger.Hex()+"/claim-proof?realm=1", nil))
}

func TestPushes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"1-0xaa", "1-0xbb", "2-0xcc"} {
		require.NoError(t, f.pushes.Upsert(ctx, domain.KindClaimsPush, &domain.PushDocument{
			ID:        key,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Data:      &domain.PushResult{Key: key, Status: domain.PushStatusFailed},
		}))
	}

	var resp PushListResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/pushes/claims?limit=2", &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "2-0xcc", resp.Results[0].ID)
	assert.Equal(t, "1-0xbb", resp.Results[1].ID)

	resp = PushListResponse{}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/pushes/stakes", &resp))
	assert.Empty(t, resp.Results)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/pushes/other", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/pushes/claims?limit=0", nil))
}

func TestHistory_RequiresArchive(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/history/stakes", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/history/claims/1", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/history/pushes", nil))
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	stake := f.seedStakes(t)
	claims := f.seedClaims(t)
	require.NoError(t, f.archive.RecordStake(ctx, stake))
	require.NoError(t, f.archive.RecordClaims(ctx, claims))

	var stakes []storage.StakeRootRecord
	require.Equal(t, http.StatusOK, f.get(t, "/v1/history/stakes", &stakes))
	require.Len(t, stakes, 1)
	assert.Equal(t, stake.Data.GlobalStakerMerkleRoot, stakes[0].Root)

	var realm1 []storage.ClaimRootRecord
	require.Equal(t, http.StatusOK, f.get(t, "/v1/history/claims/1", &realm1))
	require.Len(t, realm1, 1)
	assert.Equal(t, uint32(2), realm1[0].Claimants)

	var realm2 []storage.ClaimRootRecord
	require.Equal(t, http.StatusOK, f.get(t, "/v1/history/claims/2", &realm2))
	assert.Empty(t, realm2)

	var pushes []storage.PushOutcomeRecord
	require.Equal(t, http.StatusOK, f.get(t, "/v1/history/pushes", &pushes))
	assert.Empty(t, pushes)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/history/claims/x", nil))
}
