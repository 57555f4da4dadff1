package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

// Stream attributes set by the interviewer agent on transcription streams.
const (
	AttrTranscribedTrackID = "lk.transcribed_track_id"
	AttrSegmentID          = "lk.segment_id"
)

const (
	defaultSubtitleLimit   = 20
	fallbackReadTimeout    = 5 * time.Second
	generatedSegmentPrefix = "gen-"
)

// SpeakerResolver labels the speaker of a transcription stream.
type SpeakerResolver func(info ports.TextStreamInfo) string

type segmentAccumulator struct {
	speaker string
	text    strings.Builder
}

// TranscriptionAggregator folds transcription streams into a bounded caption log.
type TranscriptionAggregator struct {
	limit    int
	speakers SpeakerResolver
	onChange func([]domain.SubtitleEntry)
	newID    func() string
	logger   zerolog.Logger

	mu      sync.Mutex
	entries []domain.SubtitleEntry
	pending map[string]*segmentAccumulator
}

func NewTranscriptionAggregator(limit int, speakers SpeakerResolver, onChange func([]domain.SubtitleEntry), logger zerolog.Logger) *TranscriptionAggregator {
	if limit <= 0 || limit > defaultSubtitleLimit {
		limit = defaultSubtitleLimit
	}
	if speakers == nil {
		speakers = func(ports.TextStreamInfo) string { return domain.SpeakerAI }
	}
	return &TranscriptionAggregator{
		limit:    limit,
		speakers: speakers,
		onChange: onChange,
		newID:    func() string { return generatedSegmentPrefix + uuid.NewString() },
		logger:   logger.With().Str("module", "usecase.transcription").Logger(),
		pending:  make(map[string]*segmentAccumulator),
	}
}

// HandleStream consumes one transcription stream. Failures drop the message.
func (a *TranscriptionAggregator) HandleStream(ctx context.Context, stream ports.TextStream) {
	info := stream.Info()
	defer func() {
		if recovered := recover(); recovered != nil {
			a.logger.Error().Interface("panic", recovered).Str("stream_id", info.ID).Msg("transcription handler panicked")
		}
	}()

	trackID := info.Attributes[AttrTranscribedTrackID]
	segmentID := info.Attributes[AttrSegmentID]
	if trackID == "" && segmentID == "" {
		a.logger.Debug().Str("stream_id", info.ID).Str("topic", info.Topic).Msg("ignoring stream without transcription attributes")
		return
	}

	id := segmentID
	if id == "" {
		id = a.newID()
	}
	acc := a.begin(id, a.speakers(info))
	defer a.finish(id, acc)

	err := pumpTextStream(ctx, stream, func(chunk string) {
		a.write(id, acc, chunk, false)
	})
	if err == nil || ctx.Err() != nil {
		return
	}

	a.logger.Warn().Err(err).Str("segment_id", id).Msg("streaming read failed, reading to completion")
	text, err := readAllWithTimeout(ctx, stream, fallbackReadTimeout)
	if err != nil {
		a.logger.Warn().Err(err).Str("segment_id", id).Msg("transcription message dropped")
		return
	}
	a.write(id, acc, text, true)
}

// Begin starts a fresh accumulation for id, discarding any previous one.
func (a *TranscriptionAggregator) Begin(id string, speaker string) {
	a.begin(id, speaker)
}

// Append adds a chunk to the current accumulator for id and publishes the entry.
func (a *TranscriptionAggregator) Append(id string, chunk string) {
	a.write(id, a.current(id), chunk, false)
}

// Commit replaces the accumulated text with a complete message body.
func (a *TranscriptionAggregator) Commit(id string, text string) {
	a.write(id, a.current(id), text, true)
}

// Finish drops the accumulator for id. The entry itself stays in the log.
func (a *TranscriptionAggregator) Finish(id string) {
	a.finish(id, a.current(id))
}

func (a *TranscriptionAggregator) begin(id string, speaker string) *segmentAccumulator {
	acc := &segmentAccumulator{speaker: speaker}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[id] = acc
	return acc
}

func (a *TranscriptionAggregator) current(id string) *segmentAccumulator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending[id]
}

// write applies text to one stream's accumulator. Concurrent streams on the
// same segment each keep their own text; the entry shows the last writer's.
func (a *TranscriptionAggregator) write(id string, acc *segmentAccumulator, text string, replace bool) {
	if acc == nil {
		return
	}
	a.mu.Lock()
	if replace {
		acc.text.Reset()
	}
	acc.text.WriteString(text)
	changed := a.upsertLocked(id, acc.speaker, acc.text.String())
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	if changed {
		a.notify(snapshot)
	}
}

// finish releases acc unless a newer stream on the same segment replaced it.
func (a *TranscriptionAggregator) finish(id string, acc *segmentAccumulator) {
	if acc == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending[id] == acc {
		delete(a.pending, id)
	}
}

// Pending returns the text accumulated so far for id.
func (a *TranscriptionAggregator) Pending(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.pending[id]
	if !ok {
		return "", false
	}
	return acc.text.String(), true
}

// Entries returns a copy of the caption log, oldest first.
func (a *TranscriptionAggregator) Entries() []domain.SubtitleEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *TranscriptionAggregator) upsertLocked(id string, speaker string, text string) bool {
	for i := range a.entries {
		if a.entries[i].ID == id {
			if a.entries[i].Text == text && a.entries[i].Speaker == speaker {
				return false
			}
			a.entries[i].Text = text
			a.entries[i].Speaker = speaker
			return true
		}
	}
	if text == "" {
		return false
	}
	a.entries = append(a.entries, domain.SubtitleEntry{ID: id, Speaker: speaker, Text: text})
	if overflow := len(a.entries) - a.limit; overflow > 0 {
		a.entries = append(a.entries[:0:0], a.entries[overflow:]...)
	}
	return true
}

func (a *TranscriptionAggregator) snapshotLocked() []domain.SubtitleEntry {
	out := make([]domain.SubtitleEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *TranscriptionAggregator) notify(entries []domain.SubtitleEntry) {
	if a.onChange != nil {
		a.onChange(entries)
	}
}

// resolveSpeaker attributes a transcription stream to a caption label.
// Unresolvable streams are labelled as the interviewer.
func resolveSpeaker(info ports.TextStreamInfo, participants []domain.ParticipantState, localIdentity string) string {
	if trackID := info.Attributes[AttrTranscribedTrackID]; trackID != "" {
		for _, p := range participants {
			for _, track := range p.Tracks {
				if track.SID != trackID {
					continue
				}
				if p.IsLocal || p.Identity == localIdentity {
					return domain.SpeakerLocal
				}
				return p.DisplayName()
			}
		}
	}

	sender := info.ParticipantIdentity
	if sender == "" {
		return domain.SpeakerAI
	}
	if sender == localIdentity {
		return domain.SpeakerLocal
	}
	for _, p := range participants {
		if p.Identity != sender {
			continue
		}
		if p.IsLocal {
			return domain.SpeakerLocal
		}
		return p.DisplayName()
	}
	return domain.SpeakerAI
}
