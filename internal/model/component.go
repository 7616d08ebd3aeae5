package model

// Unattributed is the reserved component id assigned to paths no
// attributor claims.
const Unattributed = "unattributed"

// Component aggregates the entries attributed to one component id,
// along with the byte size used for packing and the stability score
// assigned by the oracle.
type Component struct {
	ID         string
	Size       uint64
	Stability  float64
	PathCount  int
}
