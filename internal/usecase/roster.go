package usecase

import (
	"cmp"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"

	"liveinterview/internal/domain"
)

const DefaultAgentIdentityPattern = `^(agent|ai[-_]?interviewer|interviewer)([-_:].*)?$`

// participantKindAgent is what the transport reports for agent workers.
const participantKindAgent = "agent"

var interviewerMetadataValues = []string{"ai", "agent", "interview", "interviewer", "ai_interviewer"}

// InterviewerClassifier decides whether a participant is the AI interviewer.
// The roster and the agent-presence check both use it.
type InterviewerClassifier struct {
	identity *regexp.Regexp
}

func NewInterviewerClassifier(pattern string) (*InterviewerClassifier, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultAgentIdentityPattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid agent identity pattern: %w", err)
	}
	return &InterviewerClassifier{identity: re}, nil
}

func (c *InterviewerClassifier) IsInterviewer(p domain.ParticipantState) bool {
	if strings.EqualFold(p.Kind, participantKindAgent) {
		return true
	}
	if c != nil && c.identity != nil && c.identity.MatchString(p.Identity) {
		return true
	}
	return metadataDeclaresInterviewer(p.Metadata)
}

func metadataDeclaresInterviewer(metadata string) bool {
	metadata = strings.TrimSpace(metadata)
	if metadata == "" || metadata[0] != '{' {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(metadata), &fields); err != nil {
		return false
	}
	for _, key := range []string{"kind", "type", "role"} {
		value, ok := fields[key].(string)
		if !ok {
			continue
		}
		if lo.Contains(interviewerMetadataValues, strings.ToLower(strings.TrimSpace(value))) {
			return true
		}
	}
	return false
}

// ClassifyParticipant assigns the tile role for p.
func ClassifyParticipant(p domain.ParticipantState, localIdentity string, classifier *InterviewerClassifier) domain.ParticipantRole {
	if classifier.IsInterviewer(p) {
		return domain.ParticipantRoleAI
	}
	if p.IsLocal || (localIdentity != "" && p.Identity == localIdentity) {
		return domain.ParticipantRoleCandidate
	}
	return domain.ParticipantRoleOther
}

// ProjectRoster builds display tiles: AI first, local candidate last, others
// in between ordered by id. The result depends only on its arguments.
func ProjectRoster(
	participants []domain.ParticipantState,
	localIdentity string,
	media domain.MediaToggles,
	classifier *InterviewerClassifier,
) []domain.ParticipantTile {
	tiles := lo.Map(participants, func(p domain.ParticipantState, _ int) domain.ParticipantTile {
		isLocal := p.IsLocal || (localIdentity != "" && p.Identity == localIdentity)
		tile := domain.ParticipantTile{
			ID:          p.Identity,
			DisplayName: p.DisplayName(),
			Role:        ClassifyParticipant(p, localIdentity, classifier),
			IsLocal:     isLocal,
			IsSpeaking:  p.IsSpeaking,
			HasAudio:    hasUnmuted(p.Tracks, domain.TrackKindAudio),
			HasVideo:    hasUnmuted(p.Tracks, domain.TrackKindVideo),
		}
		if isLocal {
			tile.HasAudio = media.Microphone
			tile.HasVideo = media.Camera
		}
		if tile.HasVideo {
			if track, ok := lo.Find(p.Tracks, func(t domain.TrackState) bool {
				return t.Kind == domain.TrackKindVideo && (isLocal || !t.Muted)
			}); ok {
				tile.VideoSurface = track.SID
			}
		}
		return tile
	})

	slices.SortStableFunc(tiles, func(a, b domain.ParticipantTile) int {
		if c := cmp.Compare(tileRank(a), tileRank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return tiles
}

func tileRank(tile domain.ParticipantTile) int {
	switch {
	case tile.Role == domain.ParticipantRoleAI:
		return 0
	case tile.IsLocal:
		return 2
	default:
		return 1
	}
}

func hasUnmuted(tracks []domain.TrackState, kind domain.TrackKind) bool {
	return lo.SomeBy(tracks, func(t domain.TrackState) bool {
		return t.Kind == kind && !t.Muted
	})
}
