package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/pkg/errors"
)

// Domain separators keep leaf hashes and interior node hashes in disjoint preimage spaces, so a
// crafted leaf can never collide with an interior node.
const (
	leafDomain byte = 0x00
	nodeDomain byte = 0x01
)

var ErrNoLeaves = errors.New("cannot build a tree with no leaves")

// LeafHash commits to a single event. The builder and the registry verifier must agree on this
// encoding bit-for-bit; any divergence produces silent false-negative verifications.
func LeafHash(eventType string, eventId types.Hash32, timestamp time.Time, payload []byte) types.Hash32 {
	digest := sha256.New()
	digest.Write([]byte{leafDomain})

	writeLengthPrefixed(digest.Write, []byte(eventType))
	digest.Write(eventId[:])

	tsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(tsBytes, uint64(timestamp.UnixMilli()))
	digest.Write(tsBytes)

	writeLengthPrefixed(digest.Write, payload)

	var h types.Hash32
	copy(h[:], digest.Sum(nil))
	return h
}

func NodeHash(left, right types.Hash32) types.Hash32 {
	digest := sha256.New()
	digest.Write([]byte{nodeDomain})
	digest.Write(left[:])
	digest.Write(right[:])

	var h types.Hash32
	copy(h[:], digest.Sum(nil))
	return h
}

// Tree is a binary merkle tree over event leaves. An odd node at any level is paired with a copy
// of itself (duplicate-last rule): every level then pairs fully, so an inclusion proof carries
// exactly one sibling per level and the raw leaf index supplies the left/right bit for each fold
// step. The event count stored on-chain binds the leaf width, closing the usual duplicate-last
// ambiguity between trees of different sizes.
type Tree struct {
	levels [][]types.Hash32
}

func NewTree(leaves []types.Hash32) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([]types.Hash32, len(leaves))
	copy(level, leaves)

	levels := [][]types.Hash32{level}
	for len(level) > 1 {
		next := make([]types.Hash32, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // Duplicate-last
			if i+1 < len(level) {
				right = level[i+1]
			}

			next = append(next, NodeHash(left, right))
		}

		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}, nil
}

func (t *Tree) Root() types.Hash32 {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Prove returns the sibling hash at every level for the leaf at the given index. The proof
// verifies against Root() via VerifyInclusion with the same index.
func (t *Tree) Prove(index uint64) ([]types.Hash32, error) {
	if index >= uint64(len(t.levels[0])) {
		return nil, errors.Errorf("leaf index %d out of range (tree has %d leaves)", index, len(t.levels[0]))
	}

	path := make([]types.Hash32, 0, len(t.levels)-1)
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= uint64(len(level)) {
			sibling = idx // Odd node: the sibling is its own duplicate
		}

		path = append(path, level[sibling])
		idx >>= 1
	}

	return path, nil
}

// VerifyInclusion folds the proof path into the leaf, using the index's bits (least-significant
// first) to decide concatenation order per level: bit 0 means the current hash is the left
// operand. A false return means "not provably included", never "system error".
func VerifyInclusion(root, leaf types.Hash32, path []types.Hash32, index uint64) bool {
	current := leaf
	for _, sibling := range path {
		if index&1 == 0 {
			current = NodeHash(current, sibling)
		} else {
			current = NodeHash(sibling, current)
		}

		index >>= 1
	}

	// A truncated proof must not verify for an interior node
	if index != 0 {
		return false
	}

	return current == root
}

func writeLengthPrefixed(write func([]byte) (int, error), data []byte) {
	lenBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(data)))
	write(lenBytes)
	write(data)
}
