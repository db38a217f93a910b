package registry

// ManagerCapacity is a client manager's current load, as input to Plan.
type ManagerCapacity struct {
	ClientID       string
	StartedClients int
	MaxClients     int // 0 means unlimited
}

// Allocation is Plan's per-manager result: how many additional clients
// that manager should start.
type Allocation struct {
	ClientID string
	Count    int
}

// Plan computes a per-manager allocation for `total` desired additional
// load clients: round-robin increment, skipping managers already at
// capacity, until either total is reached or a full pass makes no
// progress (in which case the shortfall is reported via the second
// return value).
func Plan(managers []ManagerCapacity, total int) ([]Allocation, int) {
	if total <= 0 || len(managers) == 0 {
		return nil, total
	}

	started := make([]int, len(managers))
	for i, m := range managers {
		started[i] = m.StartedClients
	}

	remaining := total
	for remaining > 0 {
		progressed := false
		for i, m := range managers {
			if remaining == 0 {
				break
			}
			if m.MaxClients > 0 && started[i] >= m.MaxClients {
				continue
			}
			started[i]++
			remaining--
			progressed = true
		}
		if !progressed {
			break
		}
	}

	allocations := make([]Allocation, 0, len(managers))
	for i, m := range managers {
		delta := started[i] - m.StartedClients
		if delta > 0 {
			allocations = append(allocations, Allocation{ClientID: m.ClientID, Count: delta})
		}
	}
	return allocations, remaining
}
