/*
Package queue provides a bounded FIFO queue for packet buffering.

The queue is a fixed-capacity ring buffer with drop-tail admission: when it is
full, Push refuses the new value and reports false so the caller can account
for the loss. Values already queued are never reordered or evicted.

	q, _ := queue.New[*Packet](3)
	if !q.Push(p) {
		// queue full: drop p
	}
	for !q.Empty() {
		p, _ := q.Pop()
		forward(p)
	}

Clear empties the queue in FIFO order, handing each value to a callback; it is
used at teardown to release whatever is still waiting.
*/
package queue
