package aggregate

import "github.com/spaolacci/murmur3"

// Partition maps orderRef to one of n partitions. The mapping is stable
// across runs and processes, so every write for an order goes through the
// same worker.
func Partition(orderRef string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(orderRef)) % uint32(n))
}
