// Gatekeeper is the admission control service of the benchmarking platform.
//
// It decides whether a user may call a metered endpoint, enforcing per-minute,
// per-hour and per-day call limits and monthly and daily spend budgets.
//
// Usage:
//
//	# Start the admission API with defaults and GATEKEEPER_* overrides
//	gatekeeper run
//
//	# Start with a configuration file
//	gatekeeper run --config /etc/gatekeeper/config.yaml
//
//	# Configure a limit
//	gatekeeper limits set --env production --endpoint run-comparison --per-minute 5 --per-hour 100 --per-day 1000
//
//	# Ask for one admission decision
//	gatekeeper check --user user-42 --endpoint run-comparison
//
//	# Inspect a budget
//	gatekeeper budget show --user user-42 --output json
package main

func main() {
	Execute()
}
