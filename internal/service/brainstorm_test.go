package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/session"
	"github.com/mvanek/agentswarm/internal/domain/solution"
)

const sessionTaskDesc = "Implement pagination for the listing endpoint with cursor tokens and stable ordering"

func goodScores() solution.Scores {
	return solution.Scores{Quality: 0.8, Performance: 0.8, Security: 0.8, Maintainability: 0.8, Compliance: 0.8}
}

func newTestBrainstorm(fleet map[string]agent.Agent) *BrainstormService {
	cfg := config.Defaults()
	dev := NewDeviationService(cfg.Deviation, nil)
	eval := newEvaluator(&fakeProject{})
	return NewBrainstormService(fleet, dev, eval, nil, nil, nil, nil, nil, cfg.Brainstorm)
}

func fleetOf(agents ...*fakeAgent) map[string]agent.Agent {
	fleet := make(map[string]agent.Agent, len(agents))
	for _, a := range agents {
		fleet[a.id] = a
	}
	return fleet
}

func TestSessionCollectsAllAgents(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "frontend-agent", spec: "frontend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", solText: sessionTaskDesc, scores: goodScores()},
	)
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("status %s, want completed", sess.Status)
	}
	if !sess.AllCompleted() {
		t.Fatal("not all participants completed")
	}
	if len(sess.Solutions) != 3 {
		t.Fatalf("solutions %d, want 3", len(sess.Solutions))
	}
	for agentID, dev := range sess.Deviations {
		if dev == nil {
			t.Fatalf("agent %s has no deviation verdict", agentID)
		}
	}
	for _, sol := range sess.Solutions {
		if sol.TaskID != "task-1" {
			t.Fatalf("solution carries variation task id %s", sol.TaskID)
		}
	}
}

func TestSessionToleratesFailingAgent(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", proposeErr: errors.New("model is on fire")},
	)
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !sess.AllCompleted() {
		t.Fatal("failing agent must still be marked completed")
	}
	if len(sess.Solutions) != 1 {
		t.Fatalf("solutions %d, want 1 from the surviving agent", len(sess.Solutions))
	}
}

func TestSessionDeadlineYieldsPartialResults(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", solText: sessionTaskDesc, scores: goodScores(), delay: time.Second},
	)
	bs := newTestBrainstorm(fleet)
	bs.cfg.SessionTimeout = 50 * time.Millisecond

	start := time.Now()
	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("session overran its deadline: %v", elapsed)
	}
	if len(sess.Solutions) != 1 {
		t.Fatalf("solutions %d, want 1 partial result", len(sess.Solutions))
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("status %s, want completed despite the straggler", sess.Status)
	}
}

func TestSessionWithNoFinishersIsCancelled(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores(), delay: time.Second},
		&fakeAgent{id: "qa-agent", spec: "qa", solText: sessionTaskDesc, scores: goodScores(), delay: time.Second},
	)
	bs := newTestBrainstorm(fleet)
	bs.cfg.SessionTimeout = 50 * time.Millisecond

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(sess.Solutions) != 0 {
		t.Fatalf("solutions %d, want none", len(sess.Solutions))
	}
	if sess.Status != session.StatusCancelled {
		t.Fatalf("status %s, want cancelled when nobody finished in time", sess.Status)
	}
}

func TestConsolidateFiltersDeviatingSolutions(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", scores: goodScores(),
			solText: "Repaint bicycle shed exterior choosing between cerulean or vermilion options"},
	)
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ranked, err := bs.Consolidate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("ranked %d, want 1 after filtering the off-topic solution", len(ranked))
	}
	if ranked[0].Solution.AgentID != "backend-agent" {
		t.Fatalf("kept %s, want backend-agent", ranked[0].Solution.AgentID)
	}
	if ranked[0].Score <= 0 {
		t.Fatalf("rank score %.3f", ranked[0].Score)
	}
}

func TestConsolidateKeepsBestWhenAllDeviate(t *testing.T) {
	offTopic := "Repaint bicycle shed exterior choosing between cerulean or vermilion options"
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: offTopic, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", solText: offTopic + " with pagination tokens", scores: goodScores()},
	)
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ranked, err := bs.Consolidate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("ranked %d, want exactly the single most relevant survivor", len(ranked))
	}
}

func TestConsolidateRankOrdersByCombinedScore(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", solText: sessionTaskDesc,
			scores: solution.Scores{Quality: 0.3, Performance: 0.3, Security: 0.3, Maintainability: 0.3, Compliance: 0.3}},
	)
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ranked, err := bs.Consolidate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked %d, want 2", len(ranked))
	}
	if ranked[0].Solution.AgentID != "backend-agent" {
		t.Fatalf("equal relevance must rank by score: got %s first", ranked[0].Solution.AgentID)
	}
}

func TestCancelSessionLeavesTerminalStatus(t *testing.T) {
	fleet := fleetOf(&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()})
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := bs.Cancel(sess.ID); err == nil {
		t.Fatal("cancelling a finished session must fail")
	}
	if _, err := bs.Session("nope"); err == nil {
		t.Fatal("unknown session must not resolve")
	}
}

func TestCancelledSessionDropsLateResults(t *testing.T) {
	fleet := fleetOf(&fakeAgent{
		id: "backend-agent", spec: "backend",
		solText: sessionTaskDesc, scores: goodScores(),
		delay: 100 * time.Millisecond,
	})
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSessionAsync(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSessionAsync: %v", err)
	}
	if err := bs.Cancel(sess.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Let the in-flight agent finish and try to report.
	time.Sleep(300 * time.Millisecond)

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if sess.Status != session.StatusCancelled {
		t.Fatalf("status %s, want cancelled", sess.Status)
	}
	if len(sess.Solutions) != 0 || len(sess.Deviations) != 0 || len(sess.Completed) != 0 {
		t.Fatalf("cancelled session mutated: %d solutions, %d deviations, %d completions",
			len(sess.Solutions), len(sess.Deviations), len(sess.Completed))
	}
}

func TestRefineIfNeededSkipsRelevantSessions(t *testing.T) {
	fleet := fleetOf(&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()})
	bs := newTestBrainstorm(fleet)
	bs.refinement = newTestRefinement(fleet, config.Defaults().Refinement)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	refined, err := bs.RefineIfNeeded(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("RefineIfNeeded: %v", err)
	}
	if refined != nil {
		t.Fatal("fully relevant session must not be refined")
	}
}

func TestRefineIfNeededRetriesDeviatingAgentWithFeedback(t *testing.T) {
	offTopic := "Repaint bicycle shed exterior choosing between cerulean or vermilion options"
	fleet := fleetOf(&fakeAgent{
		id: "backend-agent", spec: "backend",
		solText: offTopic, retryText: sessionTaskDesc,
		scores: goodScores(),
	})
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Deviations["backend-agent"].Level != session.DeviationHigh {
		t.Fatalf("setup: first proposal not deviating: %+v", sess.Deviations["backend-agent"])
	}

	refined, err := bs.RefineIfNeeded(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("RefineIfNeeded: %v", err)
	}
	if refined == nil {
		t.Fatal("feedback retry produced nothing")
	}
	if refined.Title != sessionTaskDesc {
		t.Fatalf("refined title %q, want the on-topic retry", refined.Title)
	}
	if sess.Solutions["backend-agent"].Title != sessionTaskDesc {
		t.Fatal("session record not replaced by the improved retry")
	}
	if sess.Deviations["backend-agent"].Level == session.DeviationHigh {
		t.Fatal("deviation verdict not re-checked after the retry")
	}
}

func TestSelectedAgentSubset(t *testing.T) {
	fleet := fleetOf(
		&fakeAgent{id: "backend-agent", spec: "backend", solText: sessionTaskDesc, scores: goodScores()},
		&fakeAgent{id: "qa-agent", spec: "qa", solText: sessionTaskDesc, scores: goodScores()},
	)
	bs := newTestBrainstorm(fleet)

	sess, err := bs.StartSession(context.Background(), testTask(sessionTaskDesc), []string{"qa-agent"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(sess.AgentIDs) != 1 || sess.AgentIDs[0] != "qa-agent" {
		t.Fatalf("participants %v", sess.AgentIDs)
	}

	_, err = bs.StartSession(context.Background(), testTask(sessionTaskDesc), []string{"unknown-agent"})
	if err == nil {
		t.Fatal("session with no matching agents must fail")
	}
}
