package sync

import (
	"encoding/binary"
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

const (
	// DefaultReplicationFactor is the number of ring entries per member.
	DefaultReplicationFactor = 200
)

// Ring is a consistent hash ring mapping keys onto a fixed set of members.
// Keys map to the same member for the lifetime of the ring, so work for one
// key is always routed the same way.
type Ring struct {
	hashRing *treemap.Map

	// minEntryValue is used to cache the value of min entry in hashRing.
	// Using treemap.Map.Min() is O(log n).
	minEntryValue interface{}
}

// NewRing returns a new consistent hash ring with the set of entries that have
// replicationFactor entries in the ring
func NewRing(entries map[string]interface{}, replicationFactor uint) *Ring {
	hashRing := treemap.NewWith(utils.Int64Comparator)
	for k, v := range entries {
		keyHash, _ := murmur3.Sum128([]byte(k))
		keyHashBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(keyHashBytes, keyHash)
		for i := 0; i < int(replicationFactor); i++ {
			hasher := murmur3.New128()
			hasher.Write(keyHashBytes)
			indexBytes := make([]byte, 4)
			binary.LittleEndian.PutUint32(indexBytes, uint32(i))
			hasher.Write(indexBytes)
			hash, _ := hasher.Sum128()
			hashRing.Put(int64(hash), v)
		}
	}

	_, minEntryValue := hashRing.Min()

	return &Ring{
		hashRing:      hashRing,
		minEntryValue: minEntryValue,
	}
}

// NewIndexRing returns a ring whose members are the indexes [0, size).
func NewIndexRing(size uint) *Ring {
	entries := make(map[string]interface{}, size)
	for i := 0; i < int(size); i++ {
		entries[fmt.Sprintf("member%d", i)] = i
	}
	return NewRing(entries, DefaultReplicationFactor)
}

// Shard consistently hashes the key and returns the sharded entry value
func (r *Ring) Shard(key []byte) interface{} {
	hasher := murmur3.New128()
	hasher.Write(key)
	raw, _ := hasher.Sum128()
	hash := int64(raw)
	_, shard := r.hashRing.Ceiling(hash)
	if shard != nil {
		return shard
	}
	return r.minEntryValue
}

// ShardIndex is Shard for rings created with NewIndexRing.
func (r *Ring) ShardIndex(key []byte) int {
	return r.Shard(key).(int)
}
