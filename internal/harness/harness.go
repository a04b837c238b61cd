package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/partnum/internal/allocator"
	"github.com/roach88/partnum/internal/assign"
	"github.com/roach88/partnum/internal/identity"
	"github.com/roach88/partnum/internal/part"
	"github.com/roach88/partnum/internal/store"
	"github.com/roach88/partnum/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and batch ID.
type Harness struct {
	store *store.Store
	orch  *assign.Orchestrator
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Run setup steps (untraced)
// 3. Run flow steps, tracing every file outcome and checking expectations
// 4. Evaluate assertions against the final store
//
// Run only returns an error for infrastructure failures. Failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	backend, err := store.OpenSQLite(":memory:", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open test store: %w", err)
	}

	st, err := store.Open(ctx, backend, store.WithClock(testutil.NewDeterministicClock()))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load test store: %w", err)
	}
	defer st.Close()

	batchGen := testutil.NewFixedBatchGenerator(scenario.BatchID)
	normalizer := identity.New(identity.Rules{
		StripSeparators:    scenario.Config.StripSeparators,
		StripVersionSuffix: scenario.Config.StripVersionSuffix,
	})
	var allocOpts []allocator.Option
	if scenario.Config.AllocatorSpace > 0 {
		allocOpts = append(allocOpts, allocator.WithSpace(scenario.Config.AllocatorSpace))
	}
	if scenario.Config.MaxSaltedAttempts > 0 {
		allocOpts = append(allocOpts, allocator.WithMaxSaltedAttempts(scenario.Config.MaxSaltedAttempts))
	}

	orch, err := assign.New(ctx, st, normalizer,
		assign.WithAllocator(allocator.New(allocOpts...)),
		assign.WithBatchIDGenerator(batchGen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	h := &Harness{store: st, orch: orch}

	result := NewResult()
	result.BatchID = batchGen.Generate()

	scratch := NewResult()
	for i, step := range scenario.Setup {
		if err := h.runStep(ctx, fmt.Sprintf("setup[%d]", i), step, scratch); err != nil {
			return nil, err
		}
	}
	if !scratch.Pass {
		return nil, fmt.Errorf("setup failed: %v", scratch.Errors)
	}

	for i, step := range scenario.Flow {
		if err := h.runStep(ctx, fmt.Sprintf("flow[%d]", i), step, result); err != nil {
			return nil, err
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}

	slog.Debug("scenario complete", "name", scenario.Name, "pass", result.Pass, "events", len(result.Trace))
	return result, nil
}

// runStep executes one step, appends its trace events to result and
// checks the step's expectations.
func (h *Harness) runStep(ctx context.Context, where string, step Step, result *Result) error {
	events, stepErr := h.execute(ctx, step)

	if stepErr != nil {
		var pe *part.Error
		if !errors.As(stepErr, &pe) {
			return fmt.Errorf("%s: %w", where, stepErr)
		}
		code := string(pe.Code)
		result.AddTrace(TraceEvent{Op: step.Op(), File: stepSubject(step), Error: code})
		switch {
		case step.ExpectError == "":
			result.AddError(fmt.Sprintf("%s: unexpected error %s: %v", where, code, stepErr))
		case step.ExpectError != code:
			result.AddError(fmt.Sprintf("%s: expected error %s, got %s", where, step.ExpectError, code))
		}
		return nil
	}

	if step.ExpectError != "" {
		result.AddError(fmt.Sprintf("%s: expected error %s, step succeeded", where, step.ExpectError))
	}

	var traced []TraceEvent
	for _, e := range events {
		traced = append(traced, result.AddTrace(e))
	}
	for _, exp := range step.Expect {
		i := slices.IndexFunc(traced, func(e TraceEvent) bool { return e.File == exp.File })
		if i < 0 {
			result.AddError(fmt.Sprintf("%s: no outcome for %s", where, exp.File))
			continue
		}
		for _, msg := range matchExpect(exp, traced[i]) {
			result.AddError(fmt.Sprintf("%s: %s: %s", where, exp.File, msg))
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) ([]TraceEvent, error) {
	switch step.Op() {
	case OpResolve, OpStatus:
		files := step.Resolve
		call := h.orch.ResolveOrCreate
		if step.Op() == OpStatus {
			files = step.Status
			call = h.orch.Status
		}
		descs := make([]part.Descriptor, len(files))
		for i, f := range files {
			descs[i] = part.Descriptor{Filename: f}
		}
		batch, err := call(ctx, descs)
		if err != nil {
			return nil, err
		}
		events := make([]TraceEvent, len(batch.Results))
		for i, r := range batch.Results {
			events[i] = resultEvent(step.Op(), r)
		}
		return events, nil

	case OpRevise:
		var (
			rec *part.Record
			err error
		)
		if step.Revise.Identity != "" {
			rec, err = h.orch.CreateRevisionForIdentity(ctx, part.LogicalIdentity(step.Revise.Identity), step.Revise.Revision)
		} else {
			rec, err = h.orch.CreateRevision(ctx, step.Revise.File, step.Revise.Revision)
		}
		if err != nil {
			return nil, err
		}
		return []TraceEvent{{
			Op:         OpRevise,
			File:       stepSubject(step),
			Identity:   string(rec.Identity),
			PartNumber: rec.FullPartNumber(),
			Base:       rec.Base,
			Revision:   rec.CurrentRevision(),
		}}, nil

	case OpAdopt:
		res, err := h.orch.Adopt(ctx, step.Adopt.File, step.Adopt.PartNumber)
		if err != nil {
			return nil, err
		}
		return []TraceEvent{resultEvent(OpAdopt, res)}, nil
	}
	return nil, fmt.Errorf("step has no operation")
}

func resultEvent(op string, r part.Result) TraceEvent {
	e := TraceEvent{
		Op:         op,
		File:       r.Filename,
		Identity:   string(r.Identity),
		PartNumber: r.FullPartNumber,
		Existing:   r.ExistingPartNumber,
		Base:       r.BasePartNumber,
		Revision:   r.Revision,
		IsNew:      r.IsNew,
		HasMapping: r.HasMapping,
		IsRenamed:  r.IsRenamedFile,
		Originals:  r.OriginalFilenames,
	}
	if r.Err != nil {
		e.Warning = string(part.CodeOf(r.Err))
	}
	return e
}

func stepSubject(step Step) string {
	switch step.Op() {
	case OpRevise:
		if step.Revise.Identity != "" {
			return step.Revise.Identity
		}
		return step.Revise.File
	case OpAdopt:
		return step.Adopt.File
	case OpResolve:
		return fmt.Sprintf("(%d files)", len(step.Resolve))
	case OpStatus:
		return fmt.Sprintf("(%d files)", len(step.Status))
	}
	return ""
}

// matchExpect returns a message per expected field that differs.
func matchExpect(exp Expect, got TraceEvent) []string {
	var msgs []string
	check := func(field string, want, have any) {
		if fmt.Sprint(want) != fmt.Sprint(have) {
			msgs = append(msgs, fmt.Sprintf("%s: expected %v, got %v", field, want, have))
		}
	}
	if exp.Identity != nil {
		check("identity", *exp.Identity, got.Identity)
	}
	if exp.Base != nil {
		check("base", *exp.Base, got.Base)
	}
	if exp.Revision != nil {
		check("revision", *exp.Revision, got.Revision)
	}
	if exp.PartNumber != nil {
		check("part_number", *exp.PartNumber, got.PartNumber)
	}
	if exp.Existing != nil {
		check("existing_part_number", *exp.Existing, got.Existing)
	}
	if exp.IsNew != nil {
		check("is_new", *exp.IsNew, got.IsNew)
	}
	if exp.HasMapping != nil {
		check("has_mapping", *exp.HasMapping, got.HasMapping)
	}
	if exp.IsRenamedFile != nil {
		check("is_renamed_file", *exp.IsRenamedFile, got.IsRenamed)
	}
	if exp.OriginalFilenames != nil {
		check("original_filenames", exp.OriginalFilenames, got.Originals)
	}
	if exp.Warning != "" {
		check("warning", exp.Warning, got.Warning)
	}
	return msgs
}
