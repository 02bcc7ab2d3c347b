package commands

// Broadcaster publishes positions to observers after moves and sequence frames
type Broadcaster interface {
	Positions(positions []float64)
}

type noopBroadcaster struct{}

var _ Broadcaster = noopBroadcaster{}

// Positions implements Broadcaster.
func (noopBroadcaster) Positions([]float64) {}

// BroadcasterFunc adapts a function to a Broadcaster
type BroadcasterFunc func(positions []float64)

// Positions implements Broadcaster.
func (f BroadcasterFunc) Positions(positions []float64) {
	f(positions)
}
