package model

// Task is the runtime pairing of one account with at most one proxy.
// The proxy is fixed for the whole task lifetime.
type Task struct {
	ID         string
	Account    Account
	Proxy      *ProxyEndpoint
	BatchIndex int
	Index      int
	// Attempt is 1 for the main pass and 2 for the retry pass.
	Attempt int
}

// ProxyRegion returns the region of the task proxy or empty if the task runs without one.
func (t Task) ProxyRegion() string {
	if t.Proxy == nil {
		return ""
	}
	return t.Proxy.Region
}
