// The dequeuer drives the worker polling loops: it retrieves messages from
// the durable queues and hands them to a worker role for processing.
package dequeuer

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
)

const defaultSleepFactor = 2

// 10ms * 2^10 ~ 10 seconds between attempts
var maxMultiplier = math.Pow(2, 10)

// A Poller receives at most one message from its queue and fully processes
// it, including acknowledgment. Poll returns queue.ErrNoMessages when the
// long poll elapsed with nothing to do. Poller implementations may be
// shared between dequeuers and must be threadsafe.
type Poller interface {
	Poll(ctx context.Context) error
}

// A Pool contains a set of dequeuers, all polling for the same worker role.
type Pool struct {
	Dequeuers              []*Dequeuer
	Name                   string
	receivedShutdownSignal bool
	mu                     sync.Mutex
	wg                     sync.WaitGroup
}

type Dequeuer struct {
	ID     int
	P      Poller
	cancel context.CancelFunc
	// Base for the exponential backoff after a failed poll.
	sleepFactor float64
}

func NewPool(name string) *Pool {
	return &Pool{
		Name: name,
	}
}

var emptyPool = errors.New("No dequeuers left to remove")
var poolShutdown = errors.New("Cannot add dequeuer because the pool is shutting down")

// AddDequeuer adds a Dequeuer to the Pool and starts it. p is the worker
// role the new Dequeuer polls for.
func (po *Pool) AddDequeuer(p Poller) error {
	po.mu.Lock()
	defer po.mu.Unlock()
	if po.receivedShutdownSignal {
		return poolShutdown
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dequeuer{
		ID:          len(po.Dequeuers) + 1,
		P:           p,
		cancel:      cancel,
		sleepFactor: defaultSleepFactor,
	}
	po.Dequeuers = append(po.Dequeuers, d)
	po.wg.Add(1)
	go d.Work(ctx, po.Name, &po.wg)
	return nil
}

// RemoveDequeuer removes a dequeuer from the pool and signals it to stop
// after it finishes its current message.
func (po *Pool) RemoveDequeuer() error {
	po.mu.Lock()
	defer po.mu.Unlock()
	if len(po.Dequeuers) == 0 {
		return emptyPool
	}
	d := po.Dequeuers[0]
	po.Dequeuers = append(po.Dequeuers[:0], po.Dequeuers[1:]...)
	d.cancel()
	return nil
}

// Shutdown stops all dequeuers in the pool and waits for in-flight
// messages to finish processing.
func (po *Pool) Shutdown() error {
	po.mu.Lock()
	po.receivedShutdownSignal = true
	l := len(po.Dequeuers)
	po.mu.Unlock()
	for i := 0; i < l; i++ {
		if err := po.RemoveDequeuer(); err != nil {
			return err
		}
	}
	po.wg.Wait()
	return nil
}

// jitter returns a value that's around the given val, but not exactly it.
// The jitter is randomly chosen between 0.8 and 1.2 times the given value,
// evenly distributed.
func jitter(val float64) float64 {
	return val*0.8 + rand.Float64()*0.2*2*val
}

// Work polls until the dequeuer is removed from its pool. Empty polls retry
// immediately since the receive itself long-polls; failed polls back off
// exponentially so a broken downstream dependency doesn't turn the loop
// into a hot spin.
func (d *Dequeuer) Work(ctx context.Context, name string, wg *sync.WaitGroup) {
	defer wg.Done()
	failCount := 0
	var waitDuration time.Duration
	for {
		select {
		case <-ctx.Done():
			log.Printf("%s dequeuer %d quitting\n", name, d.ID)
			return

		case <-time.After(waitDuration):
			start := time.Now()
			err := d.P.Poll(ctx)
			go metrics.Time("poll.latency", time.Since(start))
			switch {
			case err == nil:
				failCount = 0
				waitDuration = 0
				go metrics.Increment("poll." + name + ".success")
			case err == queue.ErrNoMessages:
				failCount = 0
				waitDuration = 0
				go metrics.Increment("poll." + name + ".empty")
			case err == context.Canceled || err == context.DeadlineExceeded:
				// Shutdown raced the receive; loop around and let the
				// ctx.Done branch exit.
				waitDuration = 0
			default:
				log.Printf("%s dequeuer %d: error processing message: %s", name, d.ID, err)
				go metrics.Increment("poll." + name + ".error")
				failCount++
				multiplier := math.Pow(d.sleepFactor, float64(failCount))
				if multiplier > maxMultiplier {
					multiplier = maxMultiplier
				}
				waitDuration = 10 * time.Duration(jitter(multiplier)) * time.Millisecond
			}
		}
	}
}
