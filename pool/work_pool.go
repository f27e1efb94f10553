package pool

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

type Task interface {
	Execute(ctx context.Context)
}

type Pool interface {
	AddTask(task Task)
	Run(ctx context.Context)
}

var _ Pool = (*WorkPool)(nil)

// WorkPool runs its tasks with at most size of them in flight.
type WorkPool struct {
	Logger logrus.FieldLogger

	size  int64
	sem   *semaphore.Weighted
	tasks []Task
}

func NewWorkPool(maxWorkers int) *WorkPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkPool{
		Logger: logrus.StandardLogger(),
		size:   int64(maxWorkers),
		sem:    semaphore.NewWeighted(int64(maxWorkers)),
		tasks:  make([]Task, 0),
	}
}

func (p *WorkPool) AddTask(task Task) {
	p.tasks = append(p.tasks, task)
}

// Run blocks until every task has executed. Once ctx is done the remaining
// tasks are executed inline so that each of them still settles.
func (p *WorkPool) Run(ctx context.Context) {
	for i, task := range p.tasks {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.Logger.Debugf("pool: failed to acquire semaphore: %v", err)
			for _, rest := range p.tasks[i:] {
				rest.Execute(ctx)
			}
			break
		}

		go func(task Task) {
			defer p.sem.Release(1)
			task.Execute(ctx)
		}(task)
	}

	// wait for the in-flight workers regardless of ctx
	if err := p.sem.Acquire(context.Background(), p.size); err != nil {
		p.Logger.Errorf("pool: failed to drain workers: %v", err)
		return
	}
	p.sem.Release(p.size)
}
