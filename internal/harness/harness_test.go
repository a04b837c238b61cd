package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		Flow: []Step{
			{
				Resolve: []string{"bracket.sldprt"},
				Expect: []Expect{{
					File:       "bracket.sldprt",
					PartNumber: ptr("703958945001"),
					IsNew:      ptr(true),
				}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertRecordCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "test-batch-default", result.BatchID)

	require.Len(t, result.Trace, 1)
	ev := result.Trace[0]
	assert.Equal(t, 1, ev.Seq)
	assert.Equal(t, OpResolve, ev.Op)
	assert.Equal(t, "bracket", ev.Identity)
	assert.Equal(t, "703958945", ev.Base)
	assert.Equal(t, 1, ev.Revision)
}

func TestRun_WithSetup(t *testing.T) {
	scenario := &Scenario{
		Name:        "with_setup",
		Description: "Setup steps are not traced",
		Setup:       []Step{{Resolve: []string{"gear.sldprt"}}},
		Flow: []Step{
			{
				Resolve: []string{"gear.sldprt"},
				Expect:  []Expect{{File: "gear.sldprt", IsNew: ptr(false), HasMapping: ptr(true)}},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 1)
}

func TestRun_SetupFailureIsFatal(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_setup",
		Description: "Setup must succeed",
		Setup:       []Step{{Revise: &ReviseStep{Identity: "ghost"}}},
		Flow:        []Step{{Resolve: []string{"a.prt"}}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup failed")
}

func TestRun_ExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "Wrong expectations are reported",
		Flow: []Step{
			{
				Resolve: []string{"bracket.sldprt"},
				Expect: []Expect{
					{File: "bracket.sldprt", Revision: ptr(2), HasMapping: ptr(true)},
					{File: "missing.sldprt"},
				},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "revision: expected 2, got 1")
	assert.Contains(t, result.Errors[1], "has_mapping: expected true, got false")
	assert.Contains(t, result.Errors[2], "no outcome for missing.sldprt")
}

func TestRun_WithErrorExpect(t *testing.T) {
	scenario := &Scenario{
		Name:        "error_expect",
		Description: "Expected errors pass and are traced",
		Flow: []Step{
			{Revise: &ReviseStep{Identity: "shaft"}, ExpectError: "UNKNOWN_IDENTITY"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "UNKNOWN_IDENTITY", result.Trace[0].Error)
	assert.Equal(t, "shaft", result.Trace[0].File)
}

func TestRun_ErrorMismatch(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name:    "unexpected error",
			step:    Step{Revise: &ReviseStep{Identity: "shaft"}},
			wantErr: "unexpected error UNKNOWN_IDENTITY",
		},
		{
			name:    "wrong code",
			step:    Step{Revise: &ReviseStep{Identity: "shaft"}, ExpectError: "REVISION_OVERFLOW"},
			wantErr: "expected error REVISION_OVERFLOW, got UNKNOWN_IDENTITY",
		},
		{
			name:    "missing error",
			step:    Step{Resolve: []string{"a.prt"}, ExpectError: "ALLOCATION_EXHAUSTED"},
			wantErr: "expected error ALLOCATION_EXHAUSTED, step succeeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(&Scenario{Name: "e", Description: "e", Flow: []Step{tt.step}})
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "deterministic",
		Description: "Same scenario, same trace",
		BatchID:     "batch-fixed",
		Flow: []Step{
			{Resolve: []string{"bracket.sldprt", "housing.sldasm", "gear.sldprt"}},
			{Revise: &ReviseStep{File: "housing.sldasm"}},
			{Resolve: []string{"575995594001.sldasm"}},
		},
	}

	r1, err := Run(scenario)
	require.NoError(t, err)
	r2, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, r1.Render(scenario.Name), r2.Render(scenario.Name))
	assert.Equal(t, "batch-fixed", r1.BatchID)
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	scenario := &Scenario{
		Name:        "fresh",
		Description: "Every run starts empty",
		Flow: []Step{
			{
				Resolve: []string{"bracket.sldprt"},
				Expect:  []Expect{{File: "bracket.sldprt", IsNew: ptr(true)}},
			},
		},
		Assertions: []Assertion{{Type: AssertRecordCount, Count: 1}},
	}

	for range 2 {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}

func TestRun_AllocatorConfig(t *testing.T) {
	scenario := &Scenario{
		Name:        "tiny_space",
		Description: "A one-number space fits one part",
		Config:      ScenarioConfig{AllocatorSpace: 1},
		Flow: []Step{
			{
				Resolve: []string{"a.prt"},
				Expect:  []Expect{{File: "a.prt", Base: ptr("000000000")}},
			},
			{Resolve: []string{"b.prt"}, ExpectError: "ALLOCATION_EXHAUSTED"},
		},
		Assertions: []Assertion{{Type: AssertRecordCount, Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestResult_AddTrace(t *testing.T) {
	result := NewResult()
	e1 := result.AddTrace(TraceEvent{Op: OpResolve, File: "a.prt", Base: "000000001"})
	e2 := result.AddTrace(TraceEvent{Op: OpRevise, File: "a.prt", Error: "REVISION_OVERFLOW"})

	assert.Equal(t, 1, e1.Seq)
	assert.Equal(t, 2, e2.Seq)

	last, ok := result.LastEvent("a.prt")
	require.True(t, ok)
	assert.Equal(t, 1, last.Seq, "failed steps are skipped")

	_, ok = result.LastEvent("b.prt")
	assert.False(t, ok)
}

func TestTraceEvent_String(t *testing.T) {
	tests := []struct {
		name  string
		event TraceEvent
		want  string
	}{
		{
			name:  "new",
			event: TraceEvent{Seq: 1, Op: OpResolve, File: "a.prt", Identity: "a", PartNumber: "000000001001", Revision: 1, IsNew: true},
			want:  `[1] resolve a.prt -> 000000001001 identity="a" rev=1 new`,
		},
		{
			name: "renamed",
			event: TraceEvent{
				Seq: 2, Op: OpResolve, File: "000000001001.prt", Identity: "a", PartNumber: "000000001001",
				Revision: 1, HasMapping: true, IsRenamed: true, Originals: []string{"a.prt", "x/a.prt"},
			},
			want: `[2] resolve 000000001001.prt -> 000000001001 identity="a" rev=1 mapped renamed originals=[a.prt,x/a.prt]`,
		},
		{
			name: "renamed after an older revision",
			event: TraceEvent{
				Seq: 2, Op: OpResolve, File: "000000001001.prt", Identity: "a", PartNumber: "000000001002",
				Existing: "000000001001", Revision: 2, HasMapping: true, IsRenamed: true, Originals: []string{"a.prt"},
			},
			want: `[2] resolve 000000001001.prt -> 000000001002 identity="a" rev=2 mapped renamed originals=[a.prt] existing=000000001001`,
		},
		{
			name:  "existing equal to part number is not repeated",
			event: TraceEvent{Seq: 1, Op: OpResolve, File: "a.prt", Identity: "a", PartNumber: "000000001001", Existing: "000000001001", Revision: 1, HasMapping: true},
			want:  `[1] resolve a.prt -> 000000001001 identity="a" rev=1 mapped`,
		},
		{
			name:  "warning",
			event: TraceEvent{Seq: 3, Op: OpStatus, File: "999999999001.prt", Identity: "999999999001", IsRenamed: true, Warning: "ORPHANED_PART_NUMBER"},
			want:  `[3] status 999999999001.prt -> - identity="999999999001" renamed warning=ORPHANED_PART_NUMBER`,
		},
		{
			name:  "error",
			event: TraceEvent{Seq: 4, Op: OpAdopt, File: "b.prt", Error: "BASE_CONFLICT"},
			want:  `[4] adopt b.prt !! BASE_CONFLICT`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.String())
		})
	}
}
