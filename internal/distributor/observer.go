package distributor

// Pass names which round of a fetch produced an event.
type Pass string

const (
	PassPrimary      Pass = "primary"
	PassVerification Pass = "verification"
)

// Observer receives fetch events; implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ShardSettled(pass Pass, res ShardResult)
	RecordDelivered(pass Pass)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) ShardSettled(Pass, ShardResult) {}
func (NoopObserver) RecordDelivered(Pass)           {}
