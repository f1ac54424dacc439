package sandbox

// Accountant tracks a bounded memory pool. Every request has the shape
// (old size, new size); a zero new size frees the block.
//
// The counter is owned by a single session and mutated only by the
// goroutine running that session.
type Accountant struct {
	limit     int64
	available int64
}

// NewAccountant creates an accountant with limit bytes available.
func NewAccountant(limit int64) *Accountant {
	return &Accountant{limit: limit, available: limit}
}

// Realloc accounts for a block changing from oldSize to newSize bytes.
// Growth beyond the available pool fails with ErrOutOfMemory and leaves
// the counter untouched.
func (a *Accountant) Realloc(oldSize, newSize int64) error {
	if newSize == 0 {
		a.available += oldSize
		return nil
	}
	if newSize > oldSize && a.available < newSize-oldSize {
		return ErrOutOfMemory
	}
	a.available -= newSize - oldSize
	return nil
}

// Available returns the bytes left in the pool.
func (a *Accountant) Available() int64 {
	return a.available
}

// Limit returns the configured ceiling.
func (a *Accountant) Limit() int64 {
	return a.limit
}

// InUse returns the bytes currently charged.
func (a *Accountant) InUse() int64 {
	return a.limit - a.available
}
