// Package pipeline runs persona operations against stored profiles: it loads
// a profile, applies the engine under the profile's write lock, stores the
// result and appends to the interaction and feedback logs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/storage"
	"github.com/kalambet/twin/internal/text"
)

// DefaultInteractionLimit caps Interactions when the caller passes no limit.
const DefaultInteractionLimit = 50

// Profiles is the profile access the pipeline needs. Implemented by
// profile.Manager.
type Profiles interface {
	Create(ctx context.Context, userRef, bio string) (persona.Profile, error)
	Get(ctx context.Context, id string) (persona.Profile, error)
	Update(ctx context.Context, id string, fn func(persona.Profile) (persona.Profile, error)) (persona.Profile, error)
}

// Log is the append-only record keeping and listing the pipeline needs.
// Implemented by storage.Store.
type Log interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
	ListInteractions(ctx context.Context, profileID string, limit int) ([]storage.Interaction, error)
	SaveFeedback(ctx context.Context, f storage.FeedbackRecord) error
	ListFeedback(ctx context.Context, profileID string) ([]storage.FeedbackRecord, error)
	ListDeployedProfiles(ctx context.Context) ([]storage.DeployedProfile, error)
	ListProfileIDs(ctx context.Context) ([]string, error)
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	engine   *persona.Engine
	catalog  *catalog.Catalog
	profiles Profiles
	log      Log
	logger   *slog.Logger
}

// New creates a Pipeline. A nil logger uses slog.Default().
func New(engine *persona.Engine, cat *catalog.Catalog, profiles Profiles, log Log, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		engine:   engine,
		catalog:  cat,
		profiles: profiles,
		log:      log,
		logger:   logger,
	}
}

// CreateProfile stores a new, untrained profile.
func (p *Pipeline) CreateProfile(ctx context.Context, userRef, bio string) (persona.Profile, error) {
	return p.profiles.Create(ctx, userRef, bio)
}

// Profile returns the stored profile with id.
func (p *Pipeline) Profile(ctx context.Context, id string) (persona.Profile, error) {
	prof, err := p.profiles.Get(ctx, id)
	return prof, translate(err)
}

// ProfileIDs lists every stored profile.
func (p *Pipeline) ProfileIDs(ctx context.Context) ([]string, error) {
	return p.log.ListProfileIDs(ctx)
}

// NextQuestion returns the next training question for the profile. hint is
// free text whose words may select questions by trigger.
func (p *Pipeline) NextQuestion(ctx context.Context, id, hint string) (catalog.Question, error) {
	prof, err := p.Profile(ctx, id)
	if err != nil {
		return catalog.Question{}, err
	}
	return p.engine.NextQuestion(prof, hint)
}

// SubmitAnswer records an answer. An empty or unknown emotion tag falls back
// to the emotion detected in the answer itself.
func (p *Pipeline) SubmitAnswer(ctx context.Context, id string, questionID int, answer, emotion string) (persona.Profile, error) {
	tag := text.ParseEmotion(emotion)
	if tag == text.EmotionNone {
		tag = text.DetectEmotion(answer)
	}
	out, err := p.profiles.Update(ctx, id, func(prof persona.Profile) (persona.Profile, error) {
		return p.engine.SubmitAnswer(prof, questionID, answer, tag)
	})
	if err != nil {
		return persona.Profile{}, translate(err)
	}
	p.logger.Debug("answer recorded", "profile_id", id, "question_id", questionID, "progress", out.TrainingProgress)
	return out, nil
}

// Chat runs one turn of a user talking to their own twin.
func (p *Pipeline) Chat(ctx context.Context, id, message string, reset bool) (persona.Reply, error) {
	return p.chat(ctx, "", id, message, reset, false)
}

// ChatWith runs one turn of speakerID talking to the deployed twin targetID.
// speakerID may be empty for anonymous visitors.
func (p *Pipeline) ChatWith(ctx context.Context, speakerID, targetID, message string, reset bool) (persona.Reply, error) {
	return p.chat(ctx, speakerID, targetID, message, reset, true)
}

func (p *Pipeline) chat(ctx context.Context, speakerID, id, message string, reset, requireDeployed bool) (persona.Reply, error) {
	if strings.TrimSpace(message) == "" {
		return persona.Reply{}, fmt.Errorf("%w: message is empty", persona.ErrInvalidInput)
	}

	var reply persona.Reply
	_, err := p.profiles.Update(ctx, id, func(prof persona.Profile) (persona.Profile, error) {
		if requireDeployed && !prof.Deployed {
			return persona.Profile{}, fmt.Errorf("profile %s: %w", id, persona.ErrNotDeployed)
		}
		var out persona.Profile
		reply, out = p.engine.Chat(prof, message, reset)
		return out, nil
	})
	if err != nil {
		return persona.Reply{}, translate(err)
	}

	rec := storage.Interaction{
		ID:        uuid.NewString(),
		ProfileID: id,
		SpeakerID: speakerID,
		Message:   message,
		Reply:     reply.Text,
		Matched:   reply.Matched,
		Score:     reply.Score,
		CreatedAt: p.engine.Now(),
	}
	if err := p.log.SaveInteraction(ctx, rec); err != nil {
		p.logger.Warn("failed to log interaction", "profile_id", id, "error", err)
	}
	return reply, nil
}

// Interactions returns the profile's chat log, newest first.
func (p *Pipeline) Interactions(ctx context.Context, id string, limit int) ([]storage.Interaction, error) {
	if _, err := p.Profile(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultInteractionLimit
	}
	return p.log.ListInteractions(ctx, id, limit)
}

// Feedback returns the profile's feedback log, oldest first.
func (p *Pipeline) Feedback(ctx context.Context, id string) ([]storage.FeedbackRecord, error) {
	if _, err := p.Profile(ctx, id); err != nil {
		return nil, err
	}
	records, err := p.log.ListFeedback(ctx, id)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []storage.FeedbackRecord{}
	}
	return records, nil
}

// ProvideFeedback applies a rating and appends it to the feedback log.
func (p *Pipeline) ProvideFeedback(ctx context.Context, id string, fb persona.Feedback) (persona.Profile, error) {
	out, err := p.profiles.Update(ctx, id, func(prof persona.Profile) (persona.Profile, error) {
		return p.engine.ProvideFeedback(prof, fb)
	})
	if err != nil {
		return persona.Profile{}, translate(err)
	}

	rec := storage.FeedbackRecord{
		ID:         uuid.NewString(),
		ProfileID:  id,
		QuestionID: fb.QuestionID,
		MemoryID:   fb.MemoryID,
		Score:      persona.ClampScore(fb.Score),
		Comments:   fb.Comments,
		CreatedAt:  p.engine.Now(),
	}
	if err := p.log.SaveFeedback(ctx, rec); err != nil {
		p.logger.Warn("failed to log feedback", "profile_id", id, "error", err)
	}
	return out, nil
}

// Analyze classifies s for the profile without changing it.
func (p *Pipeline) Analyze(ctx context.Context, id, s string) (persona.Report, error) {
	prof, err := p.Profile(ctx, id)
	if err != nil {
		return persona.Report{}, err
	}
	return p.engine.Analyze(prof, s), nil
}

// Deploy opens a trained profile to other users.
func (p *Pipeline) Deploy(ctx context.Context, id string) (persona.Profile, error) {
	out, err := p.profiles.Update(ctx, id, p.engine.Deploy)
	if err != nil {
		return persona.Profile{}, translate(err)
	}
	p.logger.Info("profile deployed", "profile_id", id)
	return out, nil
}

// Refresh runs the decay pass over the profile.
func (p *Pipeline) Refresh(ctx context.Context, id string) (persona.Profile, error) {
	out, err := p.profiles.Update(ctx, id, func(prof persona.Profile) (persona.Profile, error) {
		return p.engine.Refresh(prof), nil
	})
	return out, translate(err)
}

// SetPreferences replaces the profile's reply formatting preferences.
func (p *Pipeline) SetPreferences(ctx context.Context, id string, prefs persona.Preferences) (persona.Profile, error) {
	out, err := p.profiles.Update(ctx, id, func(prof persona.Profile) (persona.Profile, error) {
		return p.engine.SetPreferences(prof, prefs), nil
	})
	return out, translate(err)
}

// PatchPreferences applies only the fields present in patch, merging against
// the snapshot held under the profile lock so concurrent writes survive.
func (p *Pipeline) PatchPreferences(ctx context.Context, id string, patch persona.PreferencesPatch) (persona.Profile, error) {
	out, err := p.profiles.Update(ctx, id, func(prof persona.Profile) (persona.Profile, error) {
		return p.engine.SetPreferences(prof, patch.Apply(prof.Preferences)), nil
	})
	return out, translate(err)
}

// ListDeployed returns the public listing of deployed twins.
func (p *Pipeline) ListDeployed(ctx context.Context) ([]storage.DeployedProfile, error) {
	return p.log.ListDeployedProfiles(ctx)
}

// Questions returns the full catalog.
func (p *Pipeline) Questions() []catalog.Question {
	return p.catalog.List()
}

// AddQuestion appends a custom question to the catalog.
func (p *Pipeline) AddQuestion(text, category string, importance int, triggers []string) (catalog.Question, error) {
	q, err := p.catalog.Append(text, category, importance, triggers)
	if err != nil {
		if errors.Is(err, catalog.ErrEmptyText) {
			return catalog.Question{}, fmt.Errorf("%w: %v", persona.ErrInvalidInput, err)
		}
		return catalog.Question{}, err
	}
	p.logger.Info("question added", "question_id", q.ID, "category", q.Category)
	return q, nil
}

// translate maps storage misses onto the persona sentinel.
func translate(err error) error {
	if err != nil && errors.Is(err, storage.ErrNotFound) && !errors.Is(err, persona.ErrNotFound) {
		return fmt.Errorf("%w: %v", persona.ErrNotFound, err)
	}
	return err
}
