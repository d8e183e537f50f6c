package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/merkle"
	"realm-ledger/internal/observability"
	"realm-ledger/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// ResultSummary identifies a stored compute result.
type ResultSummary struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ConfigChecksum string    `json:"configChecksum"`
}

// StakeSummary is the /status view of the latest stake result.
type StakeSummary struct {
	ResultSummary
	Root        common.Hash `json:"root"`
	TotalStaked *big.Int    `json:"totalStaked"`
	Stakers     int         `json:"stakers"`
	ToBlock     uint64      `json:"toBlock"`
}

// ClaimsSummary is the /status view of the latest claims result.
type ClaimsSummary struct {
	ResultSummary
	StakeResultID string                 `json:"stakeResultId"`
	Roots         map[uint16]common.Hash `json:"roots"`
	Comparable    bool                   `json:"comparable"` // produced under the latest stake result's configuration
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status         string               `json:"status"`
	Uptime         string               `json:"uptime"`
	Stakes         *StakeSummary        `json:"stakes"`
	Claims         *ClaimsSummary       `json:"claims"`
	LastStakePush  *domain.PushDocument `json:"lastStakePush"`
	LastClaimsPush *domain.PushDocument `json:"lastClaimsPush"`
	Scheduler      any                  `json:"scheduler,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}

	stakeDoc, err := s.stakes.Latest(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.internalError(w, "load latest stake result", err)
		return
	}
	if stakeDoc != nil && stakeDoc.Data != nil {
		resp.Stakes = &StakeSummary{
			ResultSummary: summary(stakeDoc.ID, stakeDoc.Timestamp, stakeDoc.ConfigChecksum),
			Root:          stakeDoc.Data.GlobalStakerMerkleRoot,
			TotalStaked:   stakeDoc.Data.TokenStats.TotalStaked,
			Stakers:       stakeDoc.Data.TokenStats.NumberOfStakers,
			ToBlock:       stakeDoc.Data.ToBlock,
		}
	}

	claimsDoc, err := s.claims.Latest(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.internalError(w, "load latest claims result", err)
		return
	}
	if claimsDoc != nil && claimsDoc.Data != nil {
		roots := make(map[uint16]common.Hash, len(claimsDoc.Data.Realms))
		for id, realm := range claimsDoc.Data.Realms {
			roots[id] = realm.ClaimMerkleRoot
		}
		resp.Claims = &ClaimsSummary{
			ResultSummary: summary(claimsDoc.ID, claimsDoc.Timestamp, claimsDoc.ConfigChecksum),
			StakeResultID: claimsDoc.Data.StakeResultID,
			Roots:         roots,
			Comparable:    domain.Comparable(stakeDoc, claimsDoc),
		}
	}

	if s.pushes != nil {
		if resp.LastStakePush, err = s.latestPush(r, domain.KindStakesPush); err != nil {
			s.internalError(w, "load last stake push", err)
			return
		}
		if resp.LastClaimsPush, err = s.latestPush(r, domain.KindClaimsPush); err != nil {
			s.internalError(w, "load last claims push", err)
			return
		}
	}

	if s.scheduler != nil {
		resp.Scheduler = s.scheduler()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) latestPush(r *http.Request, kind domain.Kind) (*domain.PushDocument, error) {
	doc, err := s.pushes.Latest(r.Context(), kind)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (s *Server) handleLatestStakes(w http.ResponseWriter, r *http.Request) {
	doc, err := s.stakes.Latest(r.Context())
	if err != nil {
		s.storeError(w, "stake result", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleLatestClaims(w http.ResponseWriter, r *http.Request) {
	doc, err := s.claims.Latest(r.Context())
	if err != nil {
		s.storeError(w, "claims result", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PushListResponse lists recent push results of one target.
type PushListResponse struct {
	Target  string                 `json:"target"`
	Results []*domain.PushDocument `json:"results"`
}

func (s *Server) handlePushes(w http.ResponseWriter, r *http.Request) {
	if s.pushes == nil {
		writeError(w, http.StatusNotFound, "push results not available")
		return
	}
	target := chi.URLParam(r, "target")
	var kind domain.Kind
	switch target {
	case "stakes":
		kind = domain.KindStakesPush
	case "claims":
		kind = domain.KindClaimsPush
	default:
		writeError(w, http.StatusBadRequest, "target must be stakes or claims")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docs, err := s.pushes.List(r.Context(), kind, limit)
	if err != nil {
		s.internalError(w, "list push results", err)
		return
	}
	if docs == nil {
		docs = []*domain.PushDocument{}
	}
	writeJSON(w, http.StatusOK, PushListResponse{Target: target, Results: docs})
}

// AccountStakeResponse is the stake view of one address.
type AccountStakeResponse struct {
	Address   common.Address         `json:"address"`
	ResultID  string                 `json:"resultId"`
	StakeInfo *domain.StakerSnapshot `json:"stakeInfo"`
}

func (s *Server) handleAccountStake(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	doc, err := s.stakes.Latest(r.Context())
	if err != nil {
		s.storeError(w, "stake result", err)
		return
	}

	resp := AccountStakeResponse{Address: addr, ResultID: doc.ID}
	if doc.Data != nil {
		resp.StakeInfo = doc.Data.AllStakers[addr]
	}
	writeJSON(w, http.StatusOK, resp)
}

// StakeProofResponse carries a stake leaf and its inclusion proof.
type StakeProofResponse struct {
	ResultID string           `json:"resultId"`
	Root     common.Hash      `json:"root"`
	Leaf     domain.StakeLeaf `json:"leaf"`
	LeafHash common.Hash      `json:"leafHash"`
	Proof    []common.Hash    `json:"proof"`
}

func (s *Server) handleStakeProof(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	realmID, ok := realmParam(w, r.URL.Query().Get("realm"))
	if !ok {
		return
	}

	doc, err := s.stakes.Latest(r.Context())
	if err != nil {
		s.storeError(w, "stake result", err)
		return
	}
	if doc.Data == nil {
		writeError(w, http.StatusNotFound, "stake result has no data")
		return
	}

	var leaf *domain.StakeLeaf
	for i := range doc.Data.LeafData {
		if doc.Data.LeafData[i].Address == addr && doc.Data.LeafData[i].RealmID == realmID {
			leaf = &doc.Data.LeafData[i]
			break
		}
	}
	if leaf == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no stake for %s in realm %d", addr.Hex(), realmID))
		return
	}

	tree, err := s.tree("stakes:"+doc.ID, func() (*merkle.Tree, error) {
		return merkle.BuildStakeTree(doc.Data.LeafData)
	})
	if err != nil {
		s.internalError(w, "build stake tree", err)
		return
	}
	leafHash, err := merkle.StakeLeafHash(*leaf)
	if err != nil {
		s.internalError(w, "hash stake leaf", err)
		return
	}
	proof, err := tree.Proof(leafHash)
	if err != nil {
		s.internalError(w, "stake proof", err)
		return
	}

	writeJSON(w, http.StatusOK, StakeProofResponse{
		ResultID: doc.ID,
		Root:     tree.Root(),
		Leaf:     *leaf,
		LeafHash: leafHash,
		Proof:    nonNil(proof),
	})
}

// ClaimProofResponse carries a claim and its inclusion proof.
type ClaimProofResponse struct {
	ResultID string         `json:"resultId"`
	RealmID  uint16         `json:"realmId"`
	Root     common.Hash    `json:"root"`
	Address  common.Address `json:"address"`
	Amount   *big.Int       `json:"amount"`
	LeafHash common.Hash    `json:"leafHash"`
	Proof    []common.Hash  `json:"proof"`
}

func (s *Server) handleClaimProof(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	realmID, ok := realmParam(w, r.URL.Query().Get("realm"))
	if !ok {
		return
	}

	doc, err := s.claims.Latest(r.Context())
	if err != nil {
		s.storeError(w, "claims result", err)
		return
	}
	var realm *domain.RealmClaims
	if doc.Data != nil {
		realm = doc.Data.Realms[realmID]
	}
	if realm == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("realm %d not in claims result", realmID))
		return
	}

	var claim *domain.Claim
	for i := range realm.LeafData {
		if realm.LeafData[i].Address == addr {
			claim = &realm.LeafData[i]
			break
		}
	}
	if claim == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no claim for %s in realm %d", addr.Hex(), realmID))
		return
	}

	tree, err := s.tree(fmt.Sprintf("claims:%s:%d", doc.ID, realmID), func() (*merkle.Tree, error) {
		return merkle.BuildClaimTree(realm.LeafData)
	})
	if err != nil {
		s.internalError(w, "build claims tree", err)
		return
	}
	leafHash, err := merkle.ClaimLeafHash(*claim)
	if err != nil {
		s.internalError(w, "hash claim leaf", err)
		return
	}
	proof, err := tree.Proof(leafHash)
	if err != nil {
		s.internalError(w, "claim proof", err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimProofResponse{
		ResultID: doc.ID,
		RealmID:  realmID,
		Root:     tree.Root(),
		Address:  addr,
		Amount:   claim.Amount,
		LeafHash: leafHash,
		Proof:    nonNil(proof),
	})
}

func (s *Server) handleStakeHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.archive.StakeRoots(r.Context(), limit)
	if err != nil {
		s.internalError(w, "stake history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleClaimHistory(w http.ResponseWriter, r *http.Request) {
	realmID, ok := realmParam(w, chi.URLParam(r, "realm"))
	if !ok {
		return
	}
	limit, ok := s.historyLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.archive.ClaimRoots(r.Context(), realmID, limit)
	if err != nil {
		s.internalError(w, "claims history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handlePushHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.archive.PushOutcomes(r.Context(), limit)
	if err != nil {
		s.internalError(w, "push history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

// tree returns a cached tree or builds and caches it. Keys embed immutable document ids.
func (s *Server) tree(key string, build func() (*merkle.Tree, error)) (*merkle.Tree, error) {
	if v, ok := s.trees.Get(key); ok {
		observability.RecordProofCache(true)
		return v.(*merkle.Tree), nil
	}
	observability.RecordProofCache(false)

	t, err := build()
	if err != nil {
		return nil, err
	}
	s.trees.Add(key, t)
	return t, nil
}

func (s *Server) historyLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "history archive not configured")
		return 0, false
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return limit, true
}

func (s *Server) storeError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no "+what+" computed yet")
		return
	}
	s.internalError(w, "load "+what, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.WithError(err).WithField("op", op).Error("api request failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func summary(id string, ts time.Time, checksum string) ResultSummary {
	return ResultSummary{ID: id, Timestamp: ts, ConfigChecksum: checksum}
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func realmParam(w http.ResponseWriter, raw string) (uint16, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "realm is required")
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid realm %q", raw))
		return 0, false
	}
	return uint16(id), true
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
