package memento

import "sync"

// latchTable holds one mutex per block and implements the three
// [LockMode] policies for acquiring the range of blocks a mutation or
// query might touch (spec §5). Grounded on the teacher's lock.go, which
// documents a similar lock-ordering discipline for its own registry
// mutex; the per-block latch array itself is this package's own design
// since the teacher cache has no notion of adjacent "blocks" at all.
type latchTable struct {
	mus []sync.Mutex
}

func newLatchTable(nBlocks uint64) *latchTable {
	return &latchTable{mus: make([]sync.Mutex, nBlocks)}
}

// acquireRange locks every block latch that a run starting at home slot
// h might touch: h's own block, plus a fixed lookahead window of blocks
// a long run or a large shift could spill into. Latches are always
// acquired in ascending block order, so two concurrent callers never
// deadlock against each other.
//
// The lookahead window is fixed: a single very long run (or a shift
// cascading across many empty blocks) can touch more blocks than the
// window covers, and no caller widens the window or re-acquires latches
// when that happens.
const latchLookahead = 4

func (lt *latchTable) acquireRange(home uint64, mode LockMode) (unlock func(), err error) {
	if mode == NoLock || len(lt.mus) == 0 {
		return func() {}, nil
	}

	start := blockOf(home)
	end := start + latchLookahead
	if end >= uint64(len(lt.mus)) {
		end = uint64(len(lt.mus)) - 1
	}

	switch mode {
	case WaitForLock:
		for b := start; b <= end; b++ {
			lt.mus[b].Lock()
		}
		return lt.unlockFunc(start, end), nil

	case TryOnce:
		acquired := start
		for b := start; b <= end; b++ {
			if !lt.mus[b].TryLock() {
				for u := start; u < b; u++ {
					lt.mus[u].Unlock()
				}
				return nil, newErr(CodeCouldntLock, "acquireRange", ErrCouldntLock)
			}
			acquired = b
		}
		return lt.unlockFunc(start, acquired), nil

	default:
		return nil, newErr(CodeInvalid, "acquireRange", nil)
	}
}

func (lt *latchTable) unlockFunc(start, end uint64) func() {
	return func() {
		for b := start; b <= end; b++ {
			lt.mus[b].Unlock()
		}
	}
}
