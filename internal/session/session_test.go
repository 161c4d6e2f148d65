package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/pickleball-live/internal/engine"
	"github.com/courtside/pickleball-live/internal/live"
	"github.com/courtside/pickleball-live/internal/store"
)

type fakeRepo struct {
	updated    chan store.MatchUpdate
	finalized  chan store.FinalScore
	failWrites bool
	details    store.MatchDetails
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		updated:   make(chan store.MatchUpdate, 16),
		finalized: make(chan store.FinalScore, 4),
	}
}

func (f *fakeRepo) ReadMatchDetails(ctx context.Context, matchID string) (store.MatchDetails, error) {
	return f.details, nil
}

func (f *fakeRepo) UpdateMatch(ctx context.Context, matchID string, upd store.MatchUpdate) (store.Match, error) {
	if f.failWrites {
		return store.Match{}, errors.New("boom")
	}
	f.updated <- upd
	return store.Match{ID: matchID}, nil
}

func (f *fakeRepo) FinalizeMatch(ctx context.Context, matchID string, final store.FinalScore) (store.Match, error) {
	if f.failWrites {
		return store.Match{}, errors.New("boom")
	}
	f.finalized <- final
	return store.Match{ID: matchID, Status: store.StatusFinished}, nil
}

func newTestState(t *testing.T) engine.State {
	t.Helper()
	s, err := engine.NewLiveState("t1", "t2", "t1", []string{"p1", "p2"}, []string{"p3", "p4"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return s
}

func dispatch(t *testing.T, sn *Session, a Action) Result {
	t.Helper()
	reply := make(chan Result, 1)
	sn.Inbox() <- Dispatch{Action: a, Reply: reply}
	select {
	case res := <-reply:
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dispatch result")
		return Result{} // unreachable
	}
}

func recvEvent(t *testing.T, ch <-chan live.Event, within time.Duration) live.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return evt
	case <-time.After(within):
		t.Fatalf("timed out waiting for live event")
		return live.Event{} // unreachable
	}
}

func recvUpdate(t *testing.T, ch <-chan store.MatchUpdate, within time.Duration) store.MatchUpdate {
	t.Helper()
	select {
	case upd := <-ch:
		return upd
	case <-time.After(within):
		t.Fatalf("timed out waiting for repository write")
		return store.MatchUpdate{} // unreachable
	}
}

func getView(t *testing.T, sn *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	sn.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func TestSession_PointPublishesAndPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()
	sub := broker.Subscribe("m1")
	defer sub.Cancel()

	sn := New(ctx, "m1", newTestState(t), repo, broker, zap.NewNop(), nil)

	res := dispatch(t, sn, Action{Type: ActionPoint})
	if res.Err != nil {
		t.Fatalf("unexpected err: %v", res.Err)
	}
	if res.Version != 1 {
		t.Fatalf("want version 1, got %d", res.Version)
	}
	if res.State.Team1Score != 1 {
		t.Fatalf("want 1-0, got %d-%d", res.State.Team1Score, res.State.Team2Score)
	}

	evt := recvEvent(t, sub.C, time.Second)
	if evt.Type != live.ScoreUpdate || evt.MatchID != "m1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Payload.Team1Score != 1 || evt.Payload.Version != 1 {
		t.Fatalf("payload mismatch: %+v", evt.Payload)
	}

	upd := recvUpdate(t, repo.updated, time.Second)
	if upd.Team1Score == nil || *upd.Team1Score != 1 {
		t.Fatalf("persisted payload must carry the full score, got %+v", upd)
	}
	if upd.Status == nil || *upd.Status != store.StatusLive {
		t.Fatalf("persisted status must be live")
	}

	sn.Inbox() <- Shutdown{}
}

func TestSession_UndoRestoresExactState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()
	sn := New(ctx, "m1", newTestState(t), repo, broker, zap.NewNop(), nil)

	before := getView(t, sn).State

	dispatch(t, sn, Action{Type: ActionPoint})
	dispatch(t, sn, Action{Type: ActionSideOut})

	res := dispatch(t, sn, Action{Type: ActionUndo})
	if res.Err != nil || res.NothingToUndo {
		t.Fatalf("unexpected result: %+v", res)
	}
	res = dispatch(t, sn, Action{Type: ActionUndo})
	if res.Err != nil || res.NothingToUndo {
		t.Fatalf("unexpected result: %+v", res)
	}

	after := res.State
	if after.Team1Score != before.Team1Score || after.Team2Score != before.Team2Score {
		t.Fatalf("score not restored: %d-%d", after.Team1Score, after.Team2Score)
	}
	if after.Positions != before.Positions {
		t.Fatalf("positions not restored: %+v", after.Positions)
	}
	if after.ServerTeamID != before.ServerTeamID || after.ServerNumber != before.ServerNumber {
		t.Fatalf("server not restored")
	}
	if after.FirstSideOutDone != before.FirstSideOutDone {
		t.Fatalf("firstSideOutDone not restored")
	}

	if getView(t, sn).HistoryDepth != 0 {
		t.Fatalf("history should be empty")
	}
}

func TestSession_UndoOnEmptyIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()
	sn := New(ctx, "m1", newTestState(t), repo, broker, zap.NewNop(), nil)

	res := dispatch(t, sn, Action{Type: ActionUndo})
	if res.Err != nil {
		t.Fatalf("undo on empty must not be an error, got %v", res.Err)
	}
	if !res.NothingToUndo {
		t.Fatalf("expected nothing-to-undo signal")
	}
	if res.Version != 0 {
		t.Fatalf("noop must not bump the version, got %d", res.Version)
	}

	select {
	case upd := <-repo.updated:
		t.Fatalf("noop must not persist, got %+v", upd)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_UndoFromPendingGameOver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()

	st := newTestState(t)
	st.Team1Score = 10
	st.Team2Score = 9
	sn := New(ctx, "m1", st, repo, broker, zap.NewNop(), nil)

	res := dispatch(t, sn, Action{Type: ActionPoint})
	if res.State.Phase != engine.PhaseGameOverPending {
		t.Fatalf("sanity: expected pending game over, got %v", res.State.Phase)
	}

	res = dispatch(t, sn, Action{Type: ActionUndo})
	if res.State.Phase != engine.PhaseLive {
		t.Fatalf("undo must return to live, got %v", res.State.Phase)
	}
	if res.State.Team1Score != 10 || res.State.Team2Score != 9 {
		t.Fatalf("score not restored: %d-%d", res.State.Team1Score, res.State.Team2Score)
	}
}

func TestSession_ConfirmRejectsInvalidScore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()

	st := newTestState(t)
	st.Team1Score = 10
	sn := New(ctx, "m1", st, repo, broker, zap.NewNop(), nil)
	dispatch(t, sn, Action{Type: ActionPoint}) // 11-0, pending

	res := dispatch(t, sn, Action{Type: ActionConfirm, FinalTeam1Score: 11, FinalTeam2Score: 10})
	if !errors.Is(res.Err, engine.ErrInvalidFinalScore) {
		t.Fatalf("want ErrInvalidFinalScore, got %v", res.Err)
	}
	if res.State.Phase != engine.PhaseGameOverPending {
		t.Fatalf("rejected confirm must leave the pending state, got %v", res.State.Phase)
	}

	select {
	case final := <-repo.finalized:
		t.Fatalf("rejected confirm must not finalize, got %+v", final)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ConfirmFinalizesAndAnnounces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()
	sub := broker.Subscribe("m1")
	defer sub.Cancel()

	st := newTestState(t)
	st.Team1Score = 10
	st.Team2Score = 5
	sn := New(ctx, "m1", st, repo, broker, zap.NewNop(), nil)

	dispatch(t, sn, Action{Type: ActionPoint}) // 11-5, pending
	recvEvent(t, sub.C, time.Second)           // drain the score update

	res := dispatch(t, sn, Action{Type: ActionConfirm, FinalTeam1Score: 11, FinalTeam2Score: 5})
	if res.Err != nil {
		t.Fatalf("unexpected err: %v", res.Err)
	}
	if res.State.Phase != engine.PhaseFinished || res.State.WinnerID != "t1" {
		t.Fatalf("unexpected final state: %+v", res.State)
	}

	evt := recvEvent(t, sub.C, time.Second)
	if evt.Type != live.MatchUpdate {
		t.Fatalf("want MATCH_UPDATE, got %v", evt.Type)
	}
	if evt.Payload.Status != string(store.StatusFinished) || evt.Payload.WinnerID != "t1" {
		t.Fatalf("payload mismatch: %+v", evt.Payload)
	}

	select {
	case final := <-repo.finalized:
		if final.Team1 != 11 || final.Team2 != 5 {
			t.Fatalf("unexpected final score: %+v", final)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for finalize")
	}
}

func TestSession_UndoAfterConfirmIsRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()

	st := newTestState(t)
	st.Team1Score = 10
	st.Team2Score = 5
	sn := New(ctx, "m1", st, repo, broker, zap.NewNop(), nil)

	dispatch(t, sn, Action{Type: ActionPoint}) // 11-5, pending
	recvUpdate(t, repo.updated, time.Second)   // drain the point write

	res := dispatch(t, sn, Action{Type: ActionConfirm, FinalTeam1Score: 11, FinalTeam2Score: 5})
	if res.Err != nil {
		t.Fatalf("unexpected err: %v", res.Err)
	}
	if getView(t, sn).HistoryDepth != 0 {
		t.Fatalf("confirm must discard the undo history")
	}

	res = dispatch(t, sn, Action{Type: ActionUndo})
	if !errors.Is(res.Err, engine.ErrMatchFinished) {
		t.Fatalf("undo after confirm: want ErrMatchFinished, got %v", res.Err)
	}
	if res.State.Phase != engine.PhaseFinished || res.State.WinnerID != "t1" {
		t.Fatalf("confirmed result must stand: %+v", res.State)
	}
	if res.State.Team1Score != 11 || res.State.Team2Score != 5 {
		t.Fatalf("confirmed score must stand: %d-%d", res.State.Team1Score, res.State.Team2Score)
	}

	// No live-status write may follow finalization.
	select {
	case upd := <-repo.updated:
		t.Fatalf("rejected undo must not persist, got %+v", upd)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ConfirmNotifiesFinished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()

	st := newTestState(t)
	st.Team1Score = 10
	finished := make(chan struct{})
	sn := New(ctx, "m1", st, repo, broker, zap.NewNop(), func() { close(finished) })

	dispatch(t, sn, Action{Type: ActionPoint}) // 11-0, pending
	dispatch(t, sn, Action{Type: ActionConfirm, FinalTeam1Score: 11, FinalTeam2Score: 0})

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("session never announced its own finish")
	}
}

func TestSession_WriteFailureDoesNotRollBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	repo.failWrites = true
	broker := live.NewBroker()
	sn := New(ctx, "m1", newTestState(t), repo, broker, zap.NewNop(), nil)

	res := dispatch(t, sn, Action{Type: ActionPoint})
	if res.Err != nil {
		t.Fatalf("local transition must succeed, got %v", res.Err)
	}

	// Give the failing write time to land, then check local state held.
	time.Sleep(50 * time.Millisecond)
	view := getView(t, sn)
	if view.State.Team1Score != 1 || view.Version != 1 {
		t.Fatalf("local state rolled back: %+v", view)
	}
}

func TestSession_SingleScorekeeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	broker := live.NewBroker()
	sn := New(ctx, "m1", newTestState(t), repo, broker, zap.NewNop(), nil)

	claim := func(id string) bool {
		reply := make(chan bool, 1)
		sn.Inbox() <- ClaimScorekeeper{ClientID: id, Reply: reply}
		return <-reply
	}

	if !claim("a") {
		t.Fatalf("first claim must be granted")
	}
	if claim("b") {
		t.Fatalf("second claim must be rejected")
	}
	if !claim("a") {
		t.Fatalf("re-claim by the holder must be granted")
	}

	sn.Inbox() <- ReleaseScorekeeper{ClientID: "a"}
	if !claim("b") {
		t.Fatalf("claim after release must be granted")
	}
}

func TestSession_AdoptsExternalFinalization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	repo.details = store.MatchDetails{Match: store.Match{
		ID:         "m1",
		Status:     store.StatusFinished,
		Team1Score: 11,
		Team2Score: 4,
		WinnerID:   "t1",
	}}
	broker := live.NewBroker()
	sn := New(ctx, "m1", newTestState(t), repo, broker, zap.NewNop(), nil)

	// An admin panel finalized the match elsewhere and announced it.
	broker.Publish(live.Event{Type: live.MatchUpdate, MatchID: "m1"})

	deadline := time.Now().Add(time.Second)
	for {
		view := getView(t, sn)
		if view.State.Phase == engine.PhaseFinished {
			if view.State.WinnerID != "t1" || view.State.Team1Score != 11 {
				t.Fatalf("adopted state mismatch: %+v", view.State)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never adopted the external finalization")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
