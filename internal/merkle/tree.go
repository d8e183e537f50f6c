// Package merkle builds sorted-pair keccak256 Merkle trees.
//
// Pairs are ordered bytewise before hashing at every level, so a proof is a
// plain list of sibling hashes with no left/right flags. An odd node at the end
// of a level is promoted unchanged. This matches the verification done by the
// token and realm contracts.
package merkle

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrLeafNotFound is returned when a proof is requested for a leaf outside the tree.
var ErrLeafNotFound = errors.New("leaf not in tree")

// EmptyRoot is the root of a tree without leaves.
var EmptyRoot = common.Hash{}

// Tree is an immutable Merkle tree. layers[0] holds the leaves.
type Tree struct {
	layers [][]common.Hash
	index  map[common.Hash]int
}

// New builds a tree over leaf hashes in the given order.
func New(leaves []common.Hash) *Tree {
	t := &Tree{index: make(map[common.Hash]int, len(leaves))}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	for i, l := range level {
		if _, dup := t.index[l]; !dup {
			t.index[l] = i
		}
	}
	t.layers = append(t.layers, level)

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.layers = append(t.layers, next)
		level = next
	}

	return t
}

// Root returns the tree root, or EmptyRoot for an empty tree.
func (t *Tree) Root() common.Hash {
	top := t.layers[len(t.layers)-1]
	if len(top) == 0 {
		return EmptyRoot
	}
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.layers[0])
}

// Leaves returns a copy of the leaf hashes.
func (t *Tree) Leaves() []common.Hash {
	out := make([]common.Hash, len(t.layers[0]))
	copy(out, t.layers[0])
	return out
}

// Proof returns the sibling path for leaf. Returns ErrLeafNotFound if absent.
func (t *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	idx, ok := t.index[leaf]
	if !ok {
		return nil, ErrLeafNotFound
	}
	return t.ProofAt(idx)
}

// ProofAt returns the sibling path for the leaf at position idx.
func (t *Tree) ProofAt(idx int) ([]common.Hash, error) {
	if idx < 0 || idx >= t.Len() {
		return nil, ErrLeafNotFound
	}

	proof := make([]common.Hash, 0, len(t.layers))
	for _, level := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		idx /= 2
	}
	return proof, nil
}

// Verify checks a proof against root using the sorted-pair rule.
// Nothing is a member of the empty tree.
func Verify(proof []common.Hash, root, leaf common.Hash) bool {
	if root == EmptyRoot {
		return false
	}
	h := leaf
	for _, p := range proof {
		h = hashPair(h, p)
	}
	return h == root
}

// hashPair hashes two nodes in bytewise order.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}
