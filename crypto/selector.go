package crypto

import "hash/fnv"

// SDKSelector derives a contract-SDK unit selector: FNV-1a(name) truncated
// to 4 bytes, little-endian, per spec §4.5/§9. Built-in (system-contract)
// selectors use Selector (BLAKE3) instead. Both kinds are keys of the same
// per-template handler table (execution/contracts.go), so dispatch does
// not tell the two selector spaces apart.
// FNV-1a itself is stdlib (hash/fnv): no pack repo wraps it in a
// third-party hashing library, so stdlib is the idiomatic choice here.
func SDKSelector(name string) [4]byte {
	h := fnv.New32a()
	h.Write([]byte(name))
	sum := h.Sum32()
	var sel [4]byte
	sel[0] = byte(sum)
	sel[1] = byte(sum >> 8)
	sel[2] = byte(sum >> 16)
	sel[3] = byte(sum >> 24)
	return sel
}
