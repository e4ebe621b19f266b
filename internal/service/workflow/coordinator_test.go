package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/litechat/backend/internal/model/chat"
	"github.com/litechat/backend/internal/provider"
)

// clientFunc adapts a function to CompletionClient.
type clientFunc func(ctx context.Context, handle provider.Handle, history []*chat.Message, prompt string) (Completion, error)

func (f clientFunc) Complete(ctx context.Context, handle provider.Handle, history []*chat.Message, prompt string) (Completion, error) {
	return f(ctx, handle, history, prompt)
}

// recordingReporter captures outcomes keyed by task id.
type recordingReporter struct {
	mu       sync.Mutex
	finished map[string]Completion
	failed   map[string]error
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{
		finished: make(map[string]Completion),
		failed:   make(map[string]error),
	}
}

func (r *recordingReporter) TaskFinished(_, taskID string, result Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[taskID] = result
}

func (r *recordingReporter) TaskFailed(_, taskID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[taskID] = err
}

func TestStartRequiresTasks(t *testing.T) {
	_, err := Start(context.Background(), "parent", nil, clientFunc(nil), newRecordingReporter())
	require.ErrorIs(t, err, ErrNoTasks)
}

func TestStartReportsEveryTask(t *testing.T) {
	reporter := newRecordingReporter()
	client := clientFunc(func(_ context.Context, handle provider.Handle, _ []*chat.Message, prompt string) (Completion, error) {
		return Completion{Content: handle.ModelID + ": " + prompt, TokensOutput: 1}, nil
	})

	tasks := []Task{
		{ID: "t1", Handle: provider.Handle{ModelID: "gpt-x"}, Prompt: "hi"},
		{ID: "t2", Handle: provider.Handle{ModelID: "gpt-y"}, Prompt: "hi"},
		{ID: "t3", Handle: provider.Handle{ModelID: "gpt-z"}, Prompt: "hi"},
	}

	c, err := Start(context.Background(), "parent", tasks, client, reporter)
	require.NoError(t, err)
	c.Wait()

	require.Len(t, reporter.finished, 3)
	require.Empty(t, reporter.failed)
	require.Equal(t, "gpt-y: hi", reporter.finished["t2"].Content)
}

func TestTaskFailureDoesNotAbortSiblings(t *testing.T) {
	reporter := newRecordingReporter()
	boom := errors.New("quota exceeded")
	client := clientFunc(func(_ context.Context, handle provider.Handle, _ []*chat.Message, _ string) (Completion, error) {
		if handle.ModelID == "broken" {
			return Completion{}, boom
		}
		return Completion{Content: "ok"}, nil
	})

	tasks := []Task{
		{ID: "t1", Handle: provider.Handle{ModelID: "good"}},
		{ID: "t2", Handle: provider.Handle{ModelID: "broken"}},
		{ID: "t3", Handle: provider.Handle{ModelID: "good"}},
	}

	c, err := Start(context.Background(), "parent", tasks, client, reporter)
	require.NoError(t, err)
	c.Wait()

	require.Len(t, reporter.finished, 2)
	require.Len(t, reporter.failed, 1)
	require.ErrorIs(t, reporter.failed["t2"], boom)
}

func TestCancelReportsCancelledForUnfinishedTasks(t *testing.T) {
	reporter := newRecordingReporter()
	started := make(chan struct{}, 2)
	client := clientFunc(func(ctx context.Context, _ provider.Handle, _ []*chat.Message, _ string) (Completion, error) {
		started <- struct{}{}
		<-ctx.Done()
		return Completion{}, ctx.Err()
	})

	tasks := []Task{
		{ID: "t1", Handle: provider.Handle{ModelID: "gpt-x"}},
		{ID: "t2", Handle: provider.Handle{ModelID: "gpt-y"}},
	}

	c, err := Start(context.Background(), "parent", tasks, client, reporter)
	require.NoError(t, err)

	<-started
	<-started
	c.Cancel()
	c.Wait()

	require.Empty(t, reporter.finished)
	require.Len(t, reporter.failed, 2)
	require.ErrorIs(t, reporter.failed["t1"], ErrCancelled)
	require.ErrorIs(t, reporter.failed["t2"], ErrCancelled)
}

func TestLateResultAfterCancelIsDiscarded(t *testing.T) {
	reporter := newRecordingReporter()
	release := make(chan struct{})
	client := clientFunc(func(_ context.Context, _ provider.Handle, _ []*chat.Message, _ string) (Completion, error) {
		// Ignores cancellation and produces a response anyway.
		<-release
		return Completion{Content: "too late"}, nil
	})

	c, err := Start(context.Background(), "parent",
		[]Task{{ID: "t1", Handle: provider.Handle{ModelID: "gpt-x"}}}, client, reporter)
	require.NoError(t, err)

	c.Cancel()
	close(release)
	c.Wait()

	require.Empty(t, reporter.finished, "post-cancel completion must not be applied")
	require.ErrorIs(t, reporter.failed["t1"], ErrCancelled)
}

func TestCompletionsInterleave(t *testing.T) {
	reporter := newRecordingReporter()
	gate := make(chan struct{})
	client := clientFunc(func(_ context.Context, handle provider.Handle, _ []*chat.Message, _ string) (Completion, error) {
		if handle.ModelID == "slow" {
			<-gate
		}
		return Completion{Content: handle.ModelID}, nil
	})

	tasks := []Task{
		{ID: "slow", Handle: provider.Handle{ModelID: "slow"}},
		{ID: "fast", Handle: provider.Handle{ModelID: "fast"}},
	}
	c, err := Start(context.Background(), "parent", tasks, client, reporter)
	require.NoError(t, err)

	// The fast task settles while the slow one is still blocked.
	require.Eventually(t, func() bool {
		reporter.mu.Lock()
		defer reporter.mu.Unlock()
		_, ok := reporter.finished["fast"]
		return ok
	}, time.Second, 5*time.Millisecond)

	close(gate)
	c.Wait()
	require.Len(t, reporter.finished, 2)
}
