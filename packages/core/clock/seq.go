package clock

// seqCounter hands out the monotonically increasing tie-breaker that orders
// events sharing the same fire_at. It is the Clock's adaptation of a Lamport
// logical clock: every insertion is a "local event" in Lamport terms, so a
// plain increment-and-read is all the calendar needs (there is no remote
// timestamp to merge with single-writer access to the heap). Callers must
// already hold the Clock's lock.
type seqCounter struct {
	next uint64
}

// nextSeq returns the next sequence number, starting at 0 for the first call.
func (c *seqCounter) nextSeq() uint64 {
	v := c.next
	c.next++
	return v
}
