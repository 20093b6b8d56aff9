package internal

import (
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func newTestReducer(t *testing.T) *Reducer {
	t.Helper()
	return NewReducer(DefaultRegistry(), newTestExtractor(t))
}

func TestReducer_ChatMessageIdempotent(t *testing.T) {
	r := newTestReducer(t)
	s := CreateTestState("s1")
	ev := ChatMessageReceived{Message: CreateTestAgentMessage("m1", "file_reader", "📖 FileReader: Found 12 pages")}

	once := r.Apply(s, ev)
	twice := r.Apply(once, ev)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("applying twice changed state:\nonce  %+v\ntwice %+v", once, twice)
	}
	if len(twice.Transcript) != 1 {
		t.Errorf("Transcript length = %d, want 1", len(twice.Transcript))
	}
}

func TestReducer_DirectiveExtraction(t *testing.T) {
	r := newTestReducer(t)
	s := r.Apply(CreateTestState("s1"), ChatMessageReceived{
		Message: CreateTestAgentMessage("m1", "file_reader", "📖 FileReader: Found 12 pages"),
	})

	got := s.Agent("file_reader")
	if got.Status != StatusComplete || got.Progress != 100 || got.LastResult != "Found 12 pages" {
		t.Errorf("file_reader = %+v, want complete/100/Found 12 pages", got)
	}
	if !reflect.DeepEqual(s.Progress.CompletedAgents, []string{"file_reader"}) {
		t.Errorf("CompletedAgents = %v", s.Progress.CompletedAgents)
	}
}

func TestReducer_ProgressAggregation(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1"),
		AgentStarted{Agent: "file_reader", Step: 1, Total: 5},
		AgentStarted{Agent: "trade_mapper", Step: 2, Total: 5},
	)
	want := WorkflowProgress{Active: true, CurrentStep: 2, TotalSteps: 5}
	if !reflect.DeepEqual(s.Progress, want) {
		t.Errorf("Progress = %+v, want %+v", s.Progress, want)
	}

	s = r.Apply(s, WorkflowCompleted{})
	if s.Progress.Active || s.Progress.CurrentStep != 5 {
		t.Errorf("after WorkflowCompleted Progress = %+v, want inactive at step 5", s.Progress)
	}
}

func TestReducer_TotalStepsNeverShrinks(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1"),
		AgentStarted{Agent: "file_reader", Step: 1, Total: 6},
		AgentStarted{Agent: "trade_mapper", Step: 2, Total: 4},
		AgentStarted{Agent: "scope_analyst"},
	)
	if s.Progress.TotalSteps != 6 || s.Progress.CurrentStep != 2 {
		t.Errorf("Progress = %+v, want total 6 step 2", s.Progress)
	}
}

func TestReducer_EstimatorScenario(t *testing.T) {
	r := newTestReducer(t)
	n := newTestNormalizer()
	frames := []string{
		`{"type":"agent_processing_start","session_id":"s1","agent_name":"estimator","step":3,"total":6}`,
		`{"type":"agent_processing_complete","session_id":"s1","agent_name":"estimator","result_summary":"$12,450 total"}`,
	}
	s := CreateTestState("s1")
	for _, raw := range frames {
		ev, err := n.NormalizeFrame(mustFrame(t, raw), "s1")
		if err != nil {
			t.Fatalf("NormalizeFrame() error = %v", err)
		}
		s = r.Apply(s, ev)
	}

	got := s.Agent("estimator")
	if got.Status != StatusComplete || got.Progress != 100 || got.LastResult != "$12,450 total" {
		t.Errorf("estimator = %+v, want complete/100/$12,450 total", got)
	}
	if got.StepNumber != 3 || got.TotalSteps != 6 {
		t.Errorf("estimator steps = %d/%d, want 3/6", got.StepNumber, got.TotalSteps)
	}
}

// allowedTransition encodes idle -> processing -> {complete|error}, where
// steps may be skipped and a new start re-opens a finished agent
func allowedTransition(from, to AgentStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusIdle:
		return to != StatusIdle
	case StatusSkipped:
		return to == StatusProcessing || to == StatusComplete || to == StatusError
	case StatusProcessing:
		return to == StatusComplete || to == StatusError
	case StatusComplete, StatusError:
		return to == StatusProcessing
	}
	return false
}

func TestReducer_StatusSequenceInvariant(t *testing.T) {
	r := newTestReducer(t)
	agents := DefaultRegistry().IDs()
	rng := rand.New(rand.NewSource(42))

	randomEvent := func() Event {
		agent := agents[rng.Intn(len(agents))]
		switch rng.Intn(6) {
		case 0:
			return AgentStarted{Agent: agent, Step: rng.Intn(6) + 1, Total: 6}
		case 1:
			return AgentCompleted{Agent: agent, Result: "ok"}
		case 2:
			return AgentFailed{Agent: agent, Message: "boom"}
		case 3:
			return AgentSkipped{Agent: agent}
		case 4:
			return AgentSubstepProgress{Agent: agent, Substep: "working", Progress: rng.Intn(150) - 10}
		default:
			return WorkflowCompleted{}
		}
	}

	for run := 0; run < 200; run++ {
		s := CreateTestState("s1")
		for i := 0; i < 40; i++ {
			next := r.Apply(s, randomEvent())
			for _, id := range agents {
				from, to := s.Agent(id).Status, next.Agent(id).Status
				if !allowedTransition(from, to) {
					t.Fatalf("run %d: %s moved %s -> %s", run, id, from, to)
				}
				if p := next.Agent(id).Progress; p < 0 || p > 100 {
					t.Fatalf("run %d: %s progress %d out of range", run, id, p)
				}
			}
			s = next
		}
	}
}

func TestReducer_TerminalTransitions(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1"),
		AgentStarted{Agent: "takeoff"},
		AgentCompleted{Agent: "takeoff", Result: "done"},
		AgentFailed{Agent: "takeoff", Message: "late failure"},
	)
	if got := s.Agent("takeoff"); got.Status != StatusComplete || got.LastResult != "done" {
		t.Errorf("complete -> error should be ignored, got %+v", got)
	}

	s = r.ApplyAll(s, AgentStarted{Agent: "takeoff"}, AgentFailed{Agent: "takeoff", Message: "timeout"})
	if got := s.Agent("takeoff"); got.Status != StatusError || got.LastResult != "timeout" {
		t.Errorf("restart then fail = %+v, want error/timeout", got)
	}
}

func TestReducer_Skipped(t *testing.T) {
	r := newTestReducer(t)
	s := r.Apply(CreateTestState("s1"), AgentSkipped{Agent: "trade_mapper"})
	if got := s.Agent("trade_mapper").Status; got != StatusSkipped {
		t.Errorf("idle -> skipped: status = %s", got)
	}

	s = r.ApplyAll(s, AgentStarted{Agent: "estimator"}, AgentSkipped{Agent: "estimator"})
	if got := s.Agent("estimator").Status; got != StatusProcessing {
		t.Errorf("processing agent must not be skipped, status = %s", got)
	}
}

func TestReducer_SubstepProgress(t *testing.T) {
	r := newTestReducer(t)
	s := r.Apply(CreateTestState("s1"), AgentSubstepProgress{Agent: "scope_analyst", Substep: "Sheet 1", Progress: 250})
	got := s.Agent("scope_analyst")
	if got.Status != StatusProcessing || got.Progress != 100 || got.Substep != "Sheet 1" {
		t.Errorf("substep on idle agent = %+v", got)
	}

	s = r.Apply(s, AgentSubstepProgress{Agent: "scope_analyst", Substep: "Sheet 2", Progress: -1})
	if got := s.Agent("scope_analyst"); got.Progress != 100 || got.Substep != "Sheet 2" {
		t.Errorf("unknown progress should keep value, got %+v", got)
	}

	s = r.ApplyAll(s, AgentCompleted{Agent: "scope_analyst"}, AgentSubstepProgress{Agent: "scope_analyst", Substep: "late", Progress: 10})
	if got := s.Agent("scope_analyst"); got.Status != StatusComplete || got.Substep != "" {
		t.Errorf("substep after completion should be ignored, got %+v", got)
	}
}

func TestReducer_DoesNotMutateInput(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1", CreateTestMessage("u1", RoleUser, "hi")),
		AgentStarted{Agent: "file_reader", Step: 1, Total: 6},
		BrainAllocationAssigned{Allocations: map[string]string{"file_reader": "model-a"}},
	)
	snapshot := CreateTestState("s1", CreateTestMessage("u1", RoleUser, "hi"))
	snapshot = r.ApplyAll(snapshot,
		AgentStarted{Agent: "file_reader", Step: 1, Total: 6},
		BrainAllocationAssigned{Allocations: map[string]string{"file_reader": "model-a"}},
	)

	events := []Event{
		ChatMessageReceived{Message: CreateTestAgentMessage("m1", "file_reader", "📖 FileReader: Found 12 pages")},
		AgentCompleted{Agent: "file_reader"},
		BrainAllocationAssigned{Allocations: map[string]string{"file_reader": "model-b"}},
		WorkflowStateChanged{CompletedAgents: []string{"takeoff"}},
		TranscriptCleared{},
	}
	for _, ev := range events {
		_ = r.Apply(s, ev)
		if !reflect.DeepEqual(s, snapshot) {
			t.Fatalf("Apply(%s) mutated its input", EventName(ev))
		}
	}
}

func TestReducer_ResetDirective(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1", CreateTestMessage("old", RoleUser, "previous run")),
		AgentCompleted{Agent: "file_reader", Result: "x"},
		BrainAllocationAssigned{Allocations: map[string]string{"estimator": "model-a"}},
		ProcessingStatusChanged{Processing: true},
	)

	s = r.Apply(s, ChatMessageReceived{Message: CreateTestAgentMessage("start", "System", "Starting multi-agent analysis\nStep 1/6: file_reader")})

	if len(s.Transcript) != 1 || s.Transcript[0].ID != "start" {
		t.Fatalf("Transcript = %+v, want only the triggering message", s.Transcript)
	}
	if got := s.Agent("file_reader").Status; got != StatusProcessing {
		t.Errorf("file_reader status = %s, want processing from the step directive", got)
	}
	if s.Brains["estimator"] != "model-a" || !s.Processing.Processing {
		t.Error("reset must keep brain allocation and processing indicator")
	}
	if len(s.Progress.CompletedAgents) != 0 || s.Progress.CurrentStep != 1 {
		t.Errorf("Progress = %+v, want fresh run at step 1", s.Progress)
	}
}

func TestReducer_TranscriptCleared(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1", CreateTestMessage("a", RoleUser, "x")),
		AgentStarted{Agent: "custom_agent"},
		TranscriptCleared{},
	)
	if len(s.Transcript) != 0 {
		t.Errorf("Transcript length = %d, want 0", len(s.Transcript))
	}
	for id, st := range s.Pipeline {
		if st.Status != StatusIdle {
			t.Errorf("%s status = %s, want idle", id, st.Status)
		}
	}
	if _, ok := s.Pipeline["custom_agent"]; !ok {
		t.Error("known agents outside the registry should be reset, not dropped")
	}
}

func TestReducer_MessageAppendedSkipsMining(t *testing.T) {
	r := newTestReducer(t)
	msg := CreateTestMessage("u1", RoleUser, "📖 FileReader: pretend")
	s := r.ApplyAll(CreateTestState("s1"), MessageAppended{Message: msg}, MessageAppended{Message: msg})
	if len(s.Transcript) != 1 {
		t.Errorf("Transcript length = %d, want 1", len(s.Transcript))
	}
	if got := s.Agent("file_reader").Status; got != StatusIdle {
		t.Errorf("local messages must not be mined, status = %s", got)
	}
}

func TestReducer_MessageConfirmed(t *testing.T) {
	r := newTestReducer(t)
	local := CreateTestMessage("local", RoleUser, "hello")
	server := CreateTestMessage("srv", RoleUser, "hello")
	reply := CreateTestMessage("reply", RoleAssistant, "hi")

	tests := []struct {
		name    string
		initial []Message
		wantIDs []string
	}{
		{"replaces in place", []Message{local, reply}, []string{"srv", "reply"}},
		{"drops local when server copy present", []Message{local, server}, []string{"srv"}},
		{"appends when local is gone", []Message{reply}, []string{"reply", "srv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := r.Apply(CreateTestState("s1", tt.initial...), MessageConfirmed{LocalID: "local", Message: server})
			var ids []string
			for _, m := range s.Transcript {
				ids = append(ids, m.ID)
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestReducer_Banners(t *testing.T) {
	r := newTestReducer(t)
	t1 := TestEpoch.Add(time.Second)
	t2 := TestEpoch.Add(2 * time.Second)

	s := r.ApplyAll(CreateTestState("s1"),
		ManagerThinking{Text: "first", ExpiresAt: t1},
		ManagerThinking{Text: "second", ExpiresAt: t2},
	)
	if s.Banners.Thinking == nil || s.Banners.Thinking.Text != "second" {
		t.Fatalf("Thinking = %+v, want last write", s.Banners.Thinking)
	}

	s = r.Apply(s, BannerExpired{Kind: BannerThinking, ExpiresAt: t1})
	if s.Banners.Thinking == nil {
		t.Fatal("stale expiry must not clear the replacement banner")
	}
	s = r.Apply(s, BannerExpired{Kind: BannerThinking, ExpiresAt: t2})
	if s.Banners.Thinking != nil {
		t.Error("matching expiry should clear the banner")
	}

	s = r.ApplyAll(s,
		UserDecisionRequested{Prompt: "Continue?", Options: []string{"yes"}, ExpiresAt: t1},
		ErrorRecoveryReported{Message: "retrying", Severity: "warning", ExpiresAt: t1},
		BannerExpired{Kind: BannerDecision},
	)
	if s.Banners.Decision != nil {
		t.Error("zero-instant expiry should dismiss the decision")
	}
	if s.Banners.ErrorRecovery == nil || s.Banners.ErrorRecovery.Message != "retrying" {
		t.Errorf("ErrorRecovery = %+v", s.Banners.ErrorRecovery)
	}
}

func TestReducer_WorkflowStateChanged(t *testing.T) {
	r := newTestReducer(t)
	inactive := false
	s := r.ApplyAll(CreateTestState("s1"),
		AgentStarted{Agent: "file_reader", Step: 1, Total: 6},
		WorkflowStateChanged{Active: &inactive, CurrentStep: 4, CompletedAgents: []string{"file_reader", "file_reader", "takeoff"}},
	)
	want := WorkflowProgress{Active: false, CurrentStep: 4, TotalSteps: 6, CompletedAgents: []string{"file_reader", "takeoff"}}
	if !reflect.DeepEqual(s.Progress, want) {
		t.Errorf("Progress = %+v, want %+v", s.Progress, want)
	}
}

func TestReducer_BrainAllocation(t *testing.T) {
	r := newTestReducer(t)
	s := r.ApplyAll(CreateTestState("s1"),
		BrainAllocationAssigned{Allocations: map[string]string{"FileReader": "model-a", "estimator": "model-b"}},
		BrainAllocationAssigned{Allocations: map[string]string{"estimator": "model-c"}},
	)
	want := map[string]string{"file_reader": "model-a", "estimator": "model-c"}
	if !reflect.DeepEqual(s.Brains, want) {
		t.Errorf("Brains = %v, want %v", s.Brains, want)
	}
}
