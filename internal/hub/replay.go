package hub

// replayRing is a bounded FIFO of recent non-system traffic. New
// agent-observers receive its contents on attach, before live frames. The
// hub's lock guards it; the ring itself is not safe for concurrent use.
type replayRing struct {
	frames   [][]byte
	capacity int
}

func newReplayRing(capacity int) *replayRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &replayRing{capacity: capacity}
}

// add appends a frame, evicting the oldest when full.
func (r *replayRing) add(data []byte) {
	if len(r.frames) == r.capacity {
		copy(r.frames, r.frames[1:])
		r.frames[len(r.frames)-1] = data
		return
	}
	r.frames = append(r.frames, data)
}

// snapshot returns the buffered frames oldest-first.
func (r *replayRing) snapshot() [][]byte {
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *replayRing) len() int {
	return len(r.frames)
}
