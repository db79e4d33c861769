package schedule

import (
	"sort"
	"sync"
)

// missionLane is the FIFO of pending tasks for one mission within a
// single priority class, ordered by (arrival, task_id) ascending —
// selection algorithm step 2.
type missionLane struct {
	tasks []*QueuedTask
}

func (l *missionLane) insert(qt *QueuedTask) {
	l.tasks = append(l.tasks, qt)
	sort.SliceStable(l.tasks, func(i, j int) bool {
		a, b := l.tasks[i], l.tasks[j]
		if !a.SubmitTime.Equal(b.SubmitTime) {
			return a.SubmitTime.Before(b.SubmitTime)
		}
		return a.Task.TaskID < b.Task.TaskID
	})
}

func (l *missionLane) popFront() *QueuedTask {
	if len(l.tasks) == 0 {
		return nil
	}
	qt := l.tasks[0]
	l.tasks = l.tasks[1:]
	return qt
}

// classBucket holds every pending task of one priority class, grouped
// by mission, and round-robins across missions on Pop — selection
// algorithm step 3 ("round-robin across missions rather than draining
// one mission's tasks first").
type classBucket struct {
	mu     sync.Mutex
	order  []string // mission ids currently holding queued tasks, ring order
	lanes  map[string]*missionLane
	cursor int
}

func newClassBucket() *classBucket {
	return &classBucket{lanes: make(map[string]*missionLane)}
}

func (b *classBucket) push(qt *QueuedTask) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lane, ok := b.lanes[qt.MissionID]
	if !ok {
		lane = &missionLane{}
		b.lanes[qt.MissionID] = lane
		b.order = append(b.order, qt.MissionID)
	}
	lane.insert(qt)
}

func (b *classBucket) pop() *QueuedTask {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.order)
	for i := 0; i < n; i++ {
		idx := (b.cursor + i) % n
		mid := b.order[idx]
		lane := b.lanes[mid]
		qt := lane.popFront()
		if qt == nil {
			continue
		}
		if len(lane.tasks) == 0 {
			delete(b.lanes, mid)
			b.order = append(b.order[:idx], b.order[idx+1:]...)
			if idx < b.cursor {
				b.cursor--
			}
		} else {
			b.cursor = (idx + 1) % len(b.order)
		}
		return qt
	}
	return nil
}

// requeueFront puts qt back at the head of its mission's lane, used
// when an optimistically reserved dispatch fails and selection must
// re-run (step 4).
func (b *classBucket) requeueFront(qt *QueuedTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lane, ok := b.lanes[qt.MissionID]
	if !ok {
		lane = &missionLane{}
		b.lanes[qt.MissionID] = lane
		b.order = append(b.order, qt.MissionID)
	}
	lane.tasks = append([]*QueuedTask{qt}, lane.tasks...)
}

func (b *classBucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, lane := range b.lanes {
		total += len(lane.tasks)
	}
	return total
}

// Queue holds one classBucket per priority class and implements the
// full selection algorithm's ordering (steps 1-3); step 4's
// optimistic-reserve/requeue-on-failure is the caller's responsibility
// via Requeue.
type Queue struct {
	buckets map[string]*classBucket
}

// NewQueue constructs an empty Queue with a bucket per priority class.
func NewQueue() *Queue {
	q := &Queue{buckets: make(map[string]*classBucket)}
	for _, p := range priorityClasses {
		q.buckets[string(p)] = newClassBucket()
	}
	return q
}

// Push enqueues qt into its priority class's bucket.
func (q *Queue) Push(qt *QueuedTask) {
	b, ok := q.buckets[string(qt.Priority)]
	if !ok {
		b = newClassBucket()
		q.buckets[string(qt.Priority)] = b
	}
	b.push(qt)
}

// Pop returns the next task to dispatch: the highest non-empty
// priority class, round-robined across its missions.
func (q *Queue) Pop() *QueuedTask {
	for _, p := range priorityClasses {
		if qt := q.buckets[string(p)].pop(); qt != nil {
			return qt
		}
	}
	return nil
}

// Requeue returns qt to the head of its class/mission lane.
func (q *Queue) Requeue(qt *QueuedTask) {
	q.buckets[string(qt.Priority)].requeueFront(qt)
}

// Len returns the total number of queued tasks across all classes.
func (q *Queue) Len() int {
	total := 0
	for _, b := range q.buckets {
		total += b.len()
	}
	return total
}
