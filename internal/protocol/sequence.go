package protocol

// SeqTracker estimates datagram loss from the gap between expected and
// observed sequence numbers, modulo the sequence space. Gaps at or above
// the sanity bound are reported as a stream reset, not loss: a node
// restart looks like a huge gap and must not pollute loss statistics.
type SeqTracker struct {
	space  int
	sanity int
	last   int
	primed bool
}

// NewSeqTracker builds a tracker over the given sequence space with the
// given loss sanity bound (both configurable; 65536 and 1000 in the
// shipped config).
func NewSeqTracker(space, sanity int) *SeqTracker {
	return &SeqTracker{space: space, sanity: sanity}
}

// Observe records one received sequence number and returns the loss
// estimate for the gap before it. reset reports an implausible gap.
// The first observation primes the tracker and reports nothing.
func (t *SeqTracker) Observe(seq int) (loss int, reset bool) {
	seq = ((seq % t.space) + t.space) % t.space
	if !t.primed {
		t.primed = true
		t.last = seq
		return 0, false
	}
	expected := (t.last + 1) % t.space
	gap := ((seq - expected) % t.space + t.space) % t.space
	t.last = seq
	if gap == 0 {
		return 0, false
	}
	if gap < t.sanity {
		return gap, false
	}
	return 0, true
}

// Reset forgets the last observed sequence; the next Observe primes.
func (t *SeqTracker) Reset() {
	t.primed = false
}
