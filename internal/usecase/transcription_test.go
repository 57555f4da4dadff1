package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

func TestTranscriptionAggregatorStreamsIntoOneEntry(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var updates [][]domain.SubtitleEntry
	aggregator := NewTranscriptionAggregator(0, nil, func(entries []domain.SubtitleEntry) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, entries)
	}, zerolog.Nop())

	aggregator.HandleStream(context.Background(), segmentStream("seg-1", "Hel", "lo wor", "ld"))

	entries := aggregator.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %+v", entries)
	}
	if entries[0].Text != "Hello world" || entries[0].ID != "seg-1" || entries[0].Speaker != domain.SpeakerAI {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 3 {
		t.Fatalf("expected one update per chunk, got %d", len(updates))
	}
	if updates[0][0].Text != "Hel" || updates[1][0].Text != "Hello wor" {
		t.Fatalf("expected progressive text, got %+v", updates)
	}
}

func TestTranscriptionAggregatorLimitNeverExceedsTwenty(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(100, nil, nil, zerolog.Nop())
	for i := 0; i < 30; i++ {
		aggregator.HandleStream(context.Background(), segmentStream(fmt.Sprintf("seg-%d", i), "line"))
	}
	entries := aggregator.Entries()
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
	if entries[0].ID != "seg-10" {
		t.Fatalf("expected oldest entries dropped, first is %q", entries[0].ID)
	}
}

func TestTranscriptionAggregatorMergesRepeatedSegment(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())

	aggregator.HandleStream(context.Background(), segmentStream("seg-1", "draft"))
	aggregator.HandleStream(context.Background(), segmentStream("seg-2", "other"))
	aggregator.HandleStream(context.Background(), segmentStream("seg-1", "final text"))

	entries := aggregator.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].ID != "seg-1" || entries[0].Text != "final text" {
		t.Fatalf("expected seg-1 updated in place, got %+v", entries[0])
	}
}

func TestTranscriptionAggregatorCapsLog(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	for i := 0; i < 45; i++ {
		aggregator.HandleStream(context.Background(), segmentStream(fmt.Sprintf("seg-%d", i), "line"))
		if n := len(aggregator.Entries()); n > 20 {
			t.Fatalf("log exceeded cap: %d", n)
		}
		if i%3 == 0 {
			aggregator.HandleStream(context.Background(), segmentStream(fmt.Sprintf("seg-%d", i), "line again"))
		}
	}

	entries := aggregator.Entries()
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
	if entries[0].ID != "seg-25" || entries[19].ID != "seg-44" {
		t.Fatalf("expected most recent entries kept, got first=%s last=%s", entries[0].ID, entries[19].ID)
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		if seen[entry.ID] {
			t.Fatalf("duplicate id %s", entry.ID)
		}
		seen[entry.ID] = true
	}
}

func TestTranscriptionAggregatorRejectsUntaggedStreams(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	stream := newChunkStream(ports.TextStreamInfo{ID: "chat", Attributes: map[string]string{"other": "x"}}, "hi")

	aggregator.HandleStream(context.Background(), stream)

	if len(aggregator.Entries()) != 0 {
		t.Fatalf("untagged stream must be ignored")
	}
	if stream.index != 0 {
		t.Fatalf("untagged stream must not be read")
	}
}

func TestTranscriptionAggregatorGeneratesIDWithoutSegment(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	info := ports.TextStreamInfo{Attributes: map[string]string{AttrTranscribedTrackID: "TR_1"}}

	aggregator.HandleStream(context.Background(), newChunkStream(info, "one"))
	aggregator.HandleStream(context.Background(), newChunkStream(info, "two"))

	entries := aggregator.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].ID == entries[1].ID {
		t.Fatalf("generated ids must be unique")
	}
	if !strings.HasPrefix(entries[0].ID, "gen-") {
		t.Fatalf("unexpected generated id %q", entries[0].ID)
	}
}

func TestTranscriptionAggregatorSuppressesEmptyPlaceholder(t *testing.T) {
	t.Parallel()

	calls := 0
	aggregator := NewTranscriptionAggregator(0, nil, func([]domain.SubtitleEntry) { calls++ }, zerolog.Nop())

	aggregator.HandleStream(context.Background(), segmentStream("seg-1"))

	if len(aggregator.Entries()) != 0 || calls != 0 {
		t.Fatalf("empty stream must not create an entry")
	}
}

func TestTranscriptionAggregatorFallsBackToReadAll(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	stream := segmentStream("seg-1", "Hel", "lo")
	stream.failAfter = 1
	stream.nextErr = errors.New("stream reset")

	aggregator.HandleStream(context.Background(), stream)

	entries := aggregator.Entries()
	if len(entries) != 1 || entries[0].Text != "Hello" {
		t.Fatalf("expected full text from fallback, got %+v", entries)
	}
	if stream.readAllCalls != 1 {
		t.Fatalf("expected one fallback read, got %d", stream.readAllCalls)
	}
	if _, ok := aggregator.Pending("seg-1"); ok {
		t.Fatalf("accumulator must be released after the message")
	}
}

func TestTranscriptionAggregatorDropsMessageWhenFallbackFails(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	stream := segmentStream("seg-1", "Hel", "lo")
	stream.failAfter = 1
	stream.nextErr = errors.New("stream reset")
	stream.readErr = errors.New("still broken")

	aggregator.HandleStream(context.Background(), stream)

	entries := aggregator.Entries()
	if len(entries) != 1 || entries[0].Text != "Hel" {
		t.Fatalf("expected partial text kept, got %+v", entries)
	}
}

func TestTranscriptionAggregatorRecoversFromPanickingResolver(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, func(ports.TextStreamInfo) string {
		panic("resolver exploded")
	}, nil, zerolog.Nop())

	aggregator.HandleStream(context.Background(), segmentStream("seg-1", "text"))

	if len(aggregator.Entries()) != 0 {
		t.Fatalf("expected message dropped")
	}
}

func TestTranscriptionAggregatorInterleavedStreamsOnSameSegment(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	interim := newPushStream("stream-a", "seg-1")
	final := newPushStream("stream-b", "seg-1")

	handle := func(stream *pushStream) <-chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			aggregator.HandleStream(context.Background(), stream)
		}()
		return done
	}

	interimDone := handle(interim)
	interim.send(t, "Hel")
	waitForEntryText(t, aggregator, "Hel")

	finalDone := handle(final)
	final.send(t, "Hello")
	waitForEntryText(t, aggregator, "Hello")

	interim.send(t, "lo")
	interim.close()
	waitClosed(t, interimDone)
	if text, ok := aggregator.Pending("seg-1"); !ok || text != "Hello" {
		t.Fatalf("finishing the older stream must keep the newer accumulator, got %q (ok=%v)", text, ok)
	}

	final.send(t, " world")
	waitForEntryText(t, aggregator, "Hello world")
	final.close()
	waitClosed(t, finalDone)

	entries := aggregator.Entries()
	if len(entries) != 1 || entries[0].Text != "Hello world" {
		t.Fatalf("expected one merged entry, got %+v", entries)
	}
	if _, ok := aggregator.Pending("seg-1"); ok {
		t.Fatalf("accumulator must be released once both streams finish")
	}
}

func TestTranscriptionAccumulator(t *testing.T) {
	t.Parallel()

	aggregator := NewTranscriptionAggregator(0, nil, nil, zerolog.Nop())
	aggregator.Begin("seg-1", "You")
	aggregator.Append("seg-1", "abc")
	aggregator.Append("seg-1", "def")

	text, ok := aggregator.Pending("seg-1")
	if !ok || text != "abcdef" {
		t.Fatalf("unexpected pending text %q (ok=%v)", text, ok)
	}

	aggregator.Commit("seg-1", "replaced")
	aggregator.Finish("seg-1")
	aggregator.Append("seg-1", "ignored")

	entries := aggregator.Entries()
	if len(entries) != 1 || entries[0].Text != "replaced" || entries[0].Speaker != "You" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestResolveSpeaker(t *testing.T) {
	t.Parallel()

	participants := []domain.ParticipantState{
		{Identity: "cand", Name: "Casey", IsLocal: true, Tracks: []domain.TrackState{{SID: "TR_local", Kind: domain.TrackKindAudio}}},
		{Identity: "agent-1", Name: "Interviewer", Tracks: []domain.TrackState{{SID: "TR_agent", Kind: domain.TrackKindAudio}}},
		{Identity: "observer", Tracks: []domain.TrackState{{SID: "TR_obs", Kind: domain.TrackKindAudio}}},
	}

	tests := []struct {
		name string
		info ports.TextStreamInfo
		want string
	}{
		{name: "local track", info: trackInfo("TR_local", "agent-1"), want: domain.SpeakerLocal},
		{name: "remote track", info: trackInfo("TR_agent", "agent-1"), want: "Interviewer"},
		{name: "remote without name", info: trackInfo("TR_obs", ""), want: "observer"},
		{name: "local sender", info: ports.TextStreamInfo{ParticipantIdentity: "cand"}, want: domain.SpeakerLocal},
		{name: "known sender", info: ports.TextStreamInfo{ParticipantIdentity: "agent-1"}, want: "Interviewer"},
		{name: "unknown sender", info: ports.TextStreamInfo{ParticipantIdentity: "ghost"}, want: domain.SpeakerAI},
		{name: "unknown track falls back to sender", info: trackInfo("TR_gone", "cand"), want: domain.SpeakerLocal},
		{name: "nothing to go on", info: ports.TextStreamInfo{}, want: domain.SpeakerAI},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := resolveSpeaker(tt.info, participants, "cand"); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func segmentStream(segmentID string, chunks ...string) *fakeTextStream {
	return newChunkStream(ports.TextStreamInfo{
		ID:         "stream-" + segmentID,
		Topic:      "lk.transcription",
		Attributes: map[string]string{AttrSegmentID: segmentID},
	}, chunks...)
}

func trackInfo(trackID string, sender string) ports.TextStreamInfo {
	return ports.TextStreamInfo{
		ParticipantIdentity: sender,
		Attributes:          map[string]string{AttrTranscribedTrackID: trackID},
	}
}

// pushStream delivers chunks as the test sends them.
type pushStream struct {
	info   ports.TextStreamInfo
	chunks chan string

	mu       sync.Mutex
	received strings.Builder
}

func newPushStream(streamID string, segmentID string) *pushStream {
	return &pushStream{
		info: ports.TextStreamInfo{
			ID:         streamID,
			Topic:      "lk.transcription",
			Attributes: map[string]string{AttrSegmentID: segmentID},
		},
		chunks: make(chan string),
	}
}

func (p *pushStream) Info() ports.TextStreamInfo { return p.info }

func (p *pushStream) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case chunk, ok := <-p.chunks:
		if !ok {
			return "", io.EOF
		}
		p.mu.Lock()
		p.received.WriteString(chunk)
		p.mu.Unlock()
		return chunk, nil
	}
}

func (p *pushStream) ReadAll(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received.String(), nil
}

func (p *pushStream) send(t *testing.T, chunk string) {
	t.Helper()
	select {
	case p.chunks <- chunk:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream %s did not take chunk %q", p.info.ID, chunk)
	}
}

func (p *pushStream) close() { close(p.chunks) }

func waitForEntryText(t *testing.T, aggregator *TranscriptionAggregator, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries := aggregator.Entries(); len(entries) == 1 && entries[0].Text == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected entry text %q, got %+v", want, aggregator.Entries())
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream handler did not return")
	}
}
