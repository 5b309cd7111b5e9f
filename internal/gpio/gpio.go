// Package gpio drives the heartbeat output line with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single digital output line.
type Output interface {
	// Set drives the line high (true) or low (false).
	Set(high bool) error

	// Close releases GPIO resources and leaves the line safe.
	Close() error
}

// DefaultChip is the character device used when none is configured.
const DefaultChip = "gpiochip0"

// Nop is an Output that does nothing. Used when no heartbeat line is
// configured.
type Nop struct{}

func (Nop) Set(bool) error { return nil }
func (Nop) Close() error   { return nil }
