// Package workflow runs the concurrent completion tasks behind one fan-out
// parent message.
package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
)

var (
	// ErrNoTasks is the only construction failure a coordinator can report.
	ErrNoTasks = errors.New("workflow requires at least one task")

	// ErrCancelled is the fixed reason attached to tasks stopped by the
	// user. It is the only way a cancelled task ever reports back.
	ErrCancelled = errors.New("cancelled by user")
)

// Completion is the result of one finished task.
type Completion struct {
	Content      string
	TokensInput  int
	TokensOutput int
}

// CompletionClient executes a single completion call against a resolved
// handle. The call must honor ctx cancellation.
type CompletionClient interface {
	Complete(ctx context.Context, handle provider.Handle, history []*chat.Message, prompt string) (Completion, error)
}

// Reporter receives task outcomes. Calls arrive from task goroutines in no
// particular order; implementations must be safe for concurrent use.
type Reporter interface {
	TaskFinished(parentID, taskID string, result Completion)
	TaskFailed(parentID, taskID string, err error)
}

// Task is one unit of the fan-out: one model's attempt at the shared prompt.
// Handle must already be resolved; the coordinator never touches the
// registry.
type Task struct {
	ID      string
	Handle  provider.Handle
	History []*chat.Message
	Prompt  string
}

// Coordinator owns the in-flight tasks of a single workflow parent. It is
// created by Start and must not be reused after cancellation or settlement.
type Coordinator struct {
	parentID string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Start launches one goroutine per task and returns without waiting on any
// of them. Outcomes arrive exclusively through the reporter: a failing task
// never disturbs its siblings and never surfaces here.
func Start(ctx context.Context, parentID string, tasks []Task, client CompletionClient, reporter Reporter) (*Coordinator, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c := &Coordinator{parentID: parentID, cancel: cancel}

	for _, task := range tasks {
		c.wg.Add(1)
		go func(task Task) {
			defer c.wg.Done()
			result, err := client.Complete(taskCtx, task.Handle, task.History, task.Prompt)
			if taskCtx.Err() != nil {
				// A transport response that races the cancellation is
				// discarded, not applied.
				reporter.TaskFailed(parentID, task.ID, ErrCancelled)
				return
			}
			if err != nil {
				reporter.TaskFailed(parentID, task.ID, err)
				return
			}
			reporter.TaskFinished(parentID, task.ID, result)
		}(task)
	}

	return c, nil
}

// ParentID identifies the workflow parent this coordinator serves.
func (c *Coordinator) ParentID() string {
	return c.parentID
}

// Cancel signals every in-flight task to stop. Cancellation is best-effort:
// the underlying network call may still complete, in which case its result
// is reported as cancelled.
func (c *Coordinator) Cancel() {
	c.cancel()
}

// Wait blocks until every task goroutine has reported.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
