package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
)

func waitForTerminal(t *testing.T, runner *Runner, id uuid.UUID) domain.BulkJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := runner.Status(id)
		if err != nil {
			t.Fatalf("status returned error: %v", err)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return domain.BulkJob{}
}

func TestSubmitImportCompletes(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		return domain.ImportResult{
			EntityType:   "user",
			Status:       domain.ImportSuccess,
			TotalRows:    2,
			SuccessCount: 2,
		}, nil
	})

	job := waitForTerminal(t, runner, id)
	if job.State != domain.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.State)
	}
	if job.Result == nil || job.Result.SuccessCount != 2 {
		t.Fatalf("expected result attached, got %+v", job.Result)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected timestamps, got %+v", job)
	}
}

func TestSubmitImportAbortedRunStillCompletes(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		result := domain.ImportResult{EntityType: "user", Status: domain.ImportAborted, AbortReason: "bad header"}
		return result, fmt.Errorf("%w: bad header", domain.ErrPipelineAbort)
	})

	job := waitForTerminal(t, runner, id)
	if job.State != domain.JobCompleted {
		t.Fatalf("aborted run must still complete, got %s", job.State)
	}
	if job.Result == nil || job.Result.Status != domain.ImportAborted {
		t.Fatalf("expected ABORTED result, got %+v", job.Result)
	}
}

func TestSubmitImportFailure(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		return domain.ImportResult{}, errors.New("storage unavailable")
	})

	job := waitForTerminal(t, runner, id)
	if job.State != domain.JobFailed {
		t.Fatalf("expected FAILED, got %s", job.State)
	}
	if job.Error != "storage unavailable" {
		t.Fatalf("expected error captured, got %q", job.Error)
	}
}

func TestSubmitImportPanicBecomesFailure(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		panic("boom")
	})

	job := waitForTerminal(t, runner, id)
	if job.State != domain.JobFailed {
		t.Fatalf("panic must fail the job, not the process; got %s", job.State)
	}
	if job.Error == "" {
		t.Fatalf("expected panic captured in the error")
	}
}

func TestCancelRunningJob(t *testing.T) {
	runner := NewRunner(NewStore())
	started := make(chan struct{})

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		close(started)
		<-ctx.Done()
		return domain.ImportResult{}, ctx.Err()
	})

	<-started
	if err := runner.Cancel(id); err != nil {
		t.Fatalf("cancel returned error: %v", err)
	}

	job := waitForTerminal(t, runner, id)
	if job.State != domain.JobCancelled {
		t.Fatalf("expected CANCELLED, got %s", job.State)
	}
}

func TestCancelTerminalJobFails(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		return domain.ImportResult{Status: domain.ImportSuccess}, nil
	})
	waitForTerminal(t, runner, id)

	if err := runner.Cancel(id); err == nil {
		t.Fatalf("cancelling a terminal job must fail")
	}
}

func TestIdenticalSubmissionsAreIndependentJobs(t *testing.T) {
	runner := NewRunner(NewStore())
	run := func(ctx context.Context) (domain.ImportResult, error) {
		return domain.ImportResult{Status: domain.ImportSuccess}, nil
	}

	first := runner.SubmitImport("user", run)
	second := runner.SubmitImport("user", run)
	if first == second {
		t.Fatalf("identical submissions must get distinct identifiers")
	}
	waitForTerminal(t, runner, first)
	waitForTerminal(t, runner, second)
}

func TestSubmitExportCompletes(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitExport("team", func(ctx context.Context) (string, error) {
		return "name,displayName\nplatform,Platform\n", nil
	})

	job := waitForTerminal(t, runner, id)
	if job.State != domain.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.State)
	}
	if job.Kind != domain.JobExport {
		t.Fatalf("expected EXPORT kind, got %s", job.Kind)
	}
	if job.ExportData == "" {
		t.Fatalf("expected export data attached")
	}
}

func TestRemoveJob(t *testing.T) {
	runner := NewRunner(NewStore())

	id := runner.SubmitImport("user", func(ctx context.Context) (domain.ImportResult, error) {
		return domain.ImportResult{Status: domain.ImportSuccess}, nil
	})
	waitForTerminal(t, runner, id)

	if err := runner.Remove(id); err != nil {
		t.Fatalf("remove returned error: %v", err)
	}
	if _, err := runner.Status(id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after remove, got: %v", err)
	}
}

func TestStoreKeepsTerminalResultsImmutable(t *testing.T) {
	store := NewStore()
	id := uuid.New()
	store.Insert(domain.BulkJob{ID: id, State: domain.JobCompleted})

	if err := store.Update(id, func(job *domain.BulkJob) {
		job.State = domain.JobFailed
	}); err != nil {
		t.Fatalf("update returned error: %v", err)
	}

	job, err := store.Get(id)
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if job.State != domain.JobCompleted {
		t.Fatalf("terminal result mutated to %s", job.State)
	}
}
