package loadbalance

// LeastPending picks the endpoint with the fewest calls in flight. Ties go to
// the lowest index, so an idle pool keeps reusing its first transport.
type LeastPending struct{}

func (LeastPending) Pick(endpoints []Endpoint) (int, error) {
	if len(endpoints) == 0 {
		return 0, ErrNoEndpoint
	}
	best, bestPending := 0, endpoints[0].Pending()
	for i := 1; i < len(endpoints); i++ {
		if p := endpoints[i].Pending(); p < bestPending {
			best, bestPending = i, p
		}
	}
	return best, nil
}

func (LeastPending) Name() string {
	return "least_pending"
}
