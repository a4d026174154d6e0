package runtime_test

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fibersched/fibersched/runtime"
	"github.com/fibersched/fibersched/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunReturnsMainResult(t *testing.T) {
	result, err := runtime.Run(func(cs *scope.Scope) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestRunPropagatesMainError(t *testing.T) {
	_, err := runtime.Run(func(cs *scope.Scope) (any, error) {
		return nil, errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected \"boom\", got %v", err)
	}
}

func TestRunSurfacesChildTaskFault(t *testing.T) {
	_, err := runtime.Run(func(cs *scope.Scope) (any, error) {
		cs.Spawn(func(*scope.Scope) error { return errors.New("task failed") })
		rt := runtime.Current()
		sleepOp := rt.Clock.SleepOp(5 * time.Millisecond)
		runtime.Perform(sleepOp)
		return nil, nil
	})
	if err == nil || err.Error() != "task failed" {
		t.Fatalf("expected \"task failed\", got %v", err)
	}
}

func TestSpawnAndPerformHelpersUseCurrentScope(t *testing.T) {
	var ran bool
	result, err := runtime.Run(func(cs *scope.Scope) (any, error) {
		runtime.Spawn(func(*scope.Scope) error {
			ran = true
			return nil
		})
		runtime.Perform(runtime.Current().Clock.SleepOp(5 * time.Millisecond))
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Fatalf("expected \"done\", got %v", result)
	}
	if !ran {
		t.Fatal("expected spawned task to have run")
	}
}

func TestNowAdvancesAcrossSleep(t *testing.T) {
	var before, after time.Time
	_, err := runtime.Run(func(cs *scope.Scope) (any, error) {
		before = runtime.Now()
		runtime.Perform(runtime.Current().Clock.SleepOp(10 * time.Millisecond))
		after = runtime.Now()
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !after.After(before) {
		t.Fatalf("expected time to advance, before=%v after=%v", before, after)
	}
}
