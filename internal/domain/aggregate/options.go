package aggregate

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithRetention sets the policy used by Prune.
func WithRetention(policy RetentionPolicy) Option {
	return func(a *Aggregator) {
		if policy != nil {
			a.retention = policy
		}
	}
}
