// Command filter-control protects a detector from over-exposure by moving
// attenuation filters in response to per-frame pixel counts.
//
// Usage:
//
//	# Run the controller
//	filter-control run --config /etc/filter-control/config.yaml
//
//	# Validate a configuration file
//	filter-control check-config --config config.yaml
//
//	# Show version information
//	filter-control version
package main

func main() {
	Execute()
}
