package metadata

// QueueType selects one of the device's command queues. A command list belongs to exactly one
// queue type for its whole life.
type QueueType int

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueCopy

	QueueTypeCount
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "Graphics"
	case QueueCompute:
		return "Compute"
	case QueueCopy:
		return "Copy"
	default:
		return "Unknown"
	}
}

// FrameInterpolationQueue names the extra queues reserved for frame interpolation. Each one
// aliases a main queue when the hardware lacks enough distinct families.
type FrameInterpolationQueue int

const (
	FrameInterpolationPresent FrameInterpolationQueue = iota
	FrameInterpolationAsyncCompute
	FrameInterpolationImageAcquire
)
