package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
)

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubOrderingAndReconnect(t *testing.T) {
	hub := NewSSEHub(nil)
	channel := ChannelForRun("run-1")

	clientA := hub.NewSSEClient()
	hub.AddChannel(clientA, channel)

	hub.OnUpdate(types.PipelineRun{ID: "run-1", Stage: types.StageTranscribing})
	hub.OnUpdate(types.PipelineRun{ID: "run-1", Stage: types.StageDone, Done: true})

	gotFirst := recvMessage(t, clientA.Outbound, time.Second)
	gotSecond := recvMessage(t, clientA.Outbound, time.Second)
	if gotFirst.Event != SSEEventRunUpdated {
		t.Fatalf("first event: want=%s got=%s", SSEEventRunUpdated, gotFirst.Event)
	}
	if gotSecond.Event != SSEEventRunFinished {
		t.Fatalf("second event: want=%s got=%s", SSEEventRunFinished, gotSecond.Event)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	select {
	case _, ok := <-clientA.Outbound:
		if ok {
			t.Fatalf("clientA outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for clientA channel close")
	}

	clientB := hub.NewSSEClient()
	hub.AddChannel(clientB, channel)
	hub.OnUpdate(types.PipelineRun{ID: "run-1", Stage: types.StageFailed, Done: true})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != SSEEventRunFinished {
		t.Fatalf("reconnect event: want=%s got=%s", SSEEventRunFinished, got.Event)
	}
}

func TestSSEHubAllRunsChannel(t *testing.T) {
	hub := NewSSEHub(nil)
	all := hub.NewSSEClient()
	hub.AddChannel(all, ChannelAllRuns)
	hub.AddChannel(all, ChannelForRun("run-2"))
	other := hub.NewSSEClient()
	hub.AddChannel(other, ChannelForRun("run-3"))

	hub.OnUpdate(types.PipelineRun{ID: "run-2", Stage: types.StageIdle})

	got := recvMessage(t, all.Outbound, time.Second)
	if got.Channel != ChannelForRun("run-2") {
		t.Fatalf("channel: want=%s got=%s", ChannelForRun("run-2"), got.Channel)
	}
	select {
	case m := <-all.Outbound:
		t.Fatalf("client subscribed twice must get one copy, got extra %+v", m)
	case m := <-other.Outbound:
		t.Fatalf("unrelated run client got %+v", m)
	default:
	}
}

func TestSSEHubFinishedEventSurvivesFullBuffer(t *testing.T) {
	hub := NewSSEHub(nil)
	slow := hub.NewSSEClient()
	hub.AddChannel(slow, ChannelForRun("run-4"))

	for i := 0; i < cap(slow.Outbound)+5; i++ {
		hub.OnUpdate(types.PipelineRun{ID: "run-4", Stage: types.StageGeneratingVideo})
	}
	if len(slow.Outbound) != cap(slow.Outbound) {
		t.Fatalf("buffer: want=%d got=%d", cap(slow.Outbound), len(slow.Outbound))
	}
	hub.OnUpdate(types.PipelineRun{ID: "run-4", Stage: types.StageDone, Done: true, Succeeded: true})

	var last SSEMessage
	for n := len(slow.Outbound); n > 0; n-- {
		last = recvMessage(t, slow.Outbound, time.Second)
	}
	if last.Event != SSEEventRunFinished {
		t.Fatalf("last event: want=%s got=%s", SSEEventRunFinished, last.Event)
	}
	if len(slow.Outbound) != 0 {
		t.Fatalf("finished event delivered more than once: %d left", len(slow.Outbound))
	}
}

func TestServeHTTPStopsOnFinish(t *testing.T) {
	hub := NewSSEHub(nil)
	client := hub.NewSSEClient()
	client.StopOnFinish = true
	hub.AddChannel(client, ChannelForRun("run-9"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer hub.CloseClient(client)
		hub.ServeHTTP(w, r, client)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type: got=%q", ct)
	}

	hub.OnUpdate(types.PipelineRun{ID: "run-9", Stage: types.StageStitching})
	hub.OnUpdate(types.PipelineRun{ID: "run-9", Stage: types.StageDone, Done: true, Succeeded: true})

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	if strings.Join(events, ",") != "RunUpdated,RunFinished" {
		t.Fatalf("events: got=%v", events)
	}
}
