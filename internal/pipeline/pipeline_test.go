package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/storage"
	"github.com/kalambet/twin/internal/text"
)

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	pipe  *Pipeline
	store *storage.Store
	clock *mockClock
}

func setupPipeline(t *testing.T) fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.New(store)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	clock := &mockClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng := persona.NewEngine(cat, persona.WithClock(clock), persona.WithRandSource(rand.NewPCG(1, 2)))
	mgr := profile.NewManagerWithClock(store, clock, time.Minute)
	return fixture{pipe: New(eng, cat, mgr, store, nil), store: store, clock: clock}
}

func (f fixture) newProfile(t *testing.T) persona.Profile {
	t.Helper()
	p, err := f.pipe.CreateProfile(context.Background(), "user", "test bio")
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	return p
}

// train answers n catalog questions in selection order.
func (f fixture) train(t *testing.T, id string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		q, err := f.pipe.NextQuestion(ctx, id, "")
		if err != nil {
			t.Fatalf("NextQuestion #%d: %v", i, err)
		}
		if _, err := f.pipe.SubmitAnswer(ctx, id, q.ID, fmt.Sprintf("answer number %d", i), ""); err != nil {
			t.Fatalf("SubmitAnswer #%d: %v", i, err)
		}
	}
}

func TestUnknownProfileIsNotFound(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["Profile"] = f.pipe.Profile(ctx, "ghost")
	_, checks["NextQuestion"] = f.pipe.NextQuestion(ctx, "ghost", "")
	_, checks["SubmitAnswer"] = f.pipe.SubmitAnswer(ctx, "ghost", 1, "hi", "")
	_, checks["Chat"] = f.pipe.Chat(ctx, "ghost", "hello", false)
	_, checks["Deploy"] = f.pipe.Deploy(ctx, "ghost")
	_, checks["Refresh"] = f.pipe.Refresh(ctx, "ghost")
	_, checks["Interactions"] = f.pipe.Interactions(ctx, "ghost", 0)
	for op, err := range checks {
		if !errors.Is(err, persona.ErrNotFound) {
			t.Errorf("%s: err = %v, want persona.ErrNotFound", op, err)
		}
	}
}

func TestSubmitAnswerPersists(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)

	if _, err := f.pipe.SubmitAnswer(ctx, p.ID, 2, "I stay calm and listen.", "happy"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	stored, err := f.store.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if len(stored.Knowledge) != 1 || stored.Knowledge[0].Answer != "I stay calm and listen." {
		t.Fatalf("knowledge = %+v", stored.Knowledge)
	}
	if len(stored.Memories) != 1 || stored.Memories[0].Emotions[0] != "happy" {
		t.Errorf("memories = %+v", stored.Memories)
	}
	if stored.TrainingProgress != 10 {
		t.Errorf("progress = %d, want 10", stored.TrainingProgress)
	}
}

func TestSubmitAnswerDetectsEmotionWhenUntagged(t *testing.T) {
	f := setupPipeline(t)
	p := f.newProfile(t)

	out, err := f.pipe.SubmitAnswer(context.Background(), p.ID, 2, "I hate it and get so angry", "")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if got := out.Memories[0].Emotions; len(got) != 1 || got[0] != "angry" {
		t.Errorf("emotions = %v, want [angry]", got)
	}
}

func TestChatReplaysAndLogs(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)
	f.pipe.SubmitAnswer(ctx, p.ID, 2, "I stay calm and listen.", "")

	reply, err := f.pipe.Chat(ctx, p.ID, "How do you handle conflict in relationships?", false)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !reply.Matched || reply.Text != "I stay calm and listen." {
		t.Errorf("reply = %+v", reply)
	}

	log, err := f.pipe.Interactions(ctx, p.ID, 10)
	if err != nil {
		t.Fatalf("Interactions: %v", err)
	}
	if len(log) != 1 || log[0].Reply != reply.Text || !log[0].Matched || log[0].SpeakerID != "" {
		t.Errorf("interaction log = %+v", log)
	}

	stored, _ := f.store.GetProfile(ctx, p.ID)
	if len(stored.History) != 1 {
		t.Errorf("history not persisted: %+v", stored.History)
	}
}

func TestChatRejectsBlankMessage(t *testing.T) {
	f := setupPipeline(t)
	p := f.newProfile(t)
	if _, err := f.pipe.Chat(context.Background(), p.ID, "  ", false); !errors.Is(err, persona.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDeployAndChatWith(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	owner := f.newProfile(t)
	visitor := f.newProfile(t)

	if _, err := f.pipe.ChatWith(ctx, visitor.ID, owner.ID, "hello there", false); !errors.Is(err, persona.ErrNotDeployed) {
		t.Fatalf("ChatWith undeployed: err = %v, want ErrNotDeployed", err)
	}

	f.train(t, owner.ID, persona.DeployMinAnswers-1)
	if _, err := f.pipe.Deploy(ctx, owner.ID); !errors.Is(err, persona.ErrExhausted) {
		t.Fatalf("Deploy undertrained: err = %v, want ErrExhausted", err)
	}

	f.train(t, owner.ID, 1)
	out, err := f.pipe.Deploy(ctx, owner.ID)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !out.Deployed || out.TrainingProgress != 100 {
		t.Errorf("deployed=%v progress=%d", out.Deployed, out.TrainingProgress)
	}

	listed, err := f.pipe.ListDeployed(ctx)
	if err != nil {
		t.Fatalf("ListDeployed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != owner.ID || listed[0].Bio != "test bio" {
		t.Errorf("listing = %+v", listed)
	}

	if _, err := f.pipe.ChatWith(ctx, visitor.ID, owner.ID, "hello there", false); err != nil {
		t.Fatalf("ChatWith: %v", err)
	}
	log, _ := f.pipe.Interactions(ctx, owner.ID, 0)
	if len(log) != 1 || log[0].SpeakerID != visitor.ID {
		t.Errorf("interaction log = %+v", log)
	}
}

func TestNextQuestionExhausts(t *testing.T) {
	f := setupPipeline(t)
	p := f.newProfile(t)
	f.train(t, p.ID, len(f.pipe.Questions()))

	if _, err := f.pipe.NextQuestion(context.Background(), p.ID, ""); !errors.Is(err, persona.ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
}

func TestProvideFeedbackLogs(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)
	f.pipe.SubmitAnswer(ctx, p.ID, 2, "I stay calm.", "")
	f.pipe.ProvideFeedback(ctx, p.ID, persona.Feedback{QuestionID: intPtr(2), Score: 1})

	out, err := f.pipe.ProvideFeedback(ctx, p.ID, persona.Feedback{QuestionID: intPtr(2), Score: 9, Comments: "great"})
	if err != nil {
		t.Fatalf("ProvideFeedback: %v", err)
	}
	if got := out.Knowledge[0].Confidence; got != 1.0 {
		t.Errorf("confidence = %v, want 1.0", got)
	}

	records, err := f.pipe.Feedback(ctx, p.ID)
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if len(records) != 2 || records[1].Score != 5 || records[1].Comments != "great" {
		t.Errorf("feedback log = %+v", records)
	}

	if _, err := f.pipe.ProvideFeedback(ctx, p.ID, persona.Feedback{QuestionID: intPtr(99), Score: 5}); !errors.Is(err, persona.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if records, _ := f.pipe.Feedback(ctx, p.ID); len(records) != 2 {
		t.Errorf("rejected feedback was logged: %d records", len(records))
	}
}

func TestFeedbackLog(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)

	records, err := f.pipe.Feedback(ctx, p.ID)
	if err != nil || records == nil || len(records) != 0 {
		t.Fatalf("Feedback on fresh profile = %v, %v; want empty slice", records, err)
	}
	if _, err := f.pipe.Feedback(ctx, "ghost"); !errors.Is(err, persona.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRefreshDecaysStoredProfile(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)
	f.pipe.SubmitAnswer(ctx, p.ID, 1, "Loyal and stubborn.", "")

	f.clock.Advance(60 * 24 * time.Hour)
	out, err := f.pipe.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(out.Memories) != 1 || out.Memories[0].EmotionalWeight >= 5 {
		t.Errorf("memory did not decay: %+v", out.Memories)
	}
	for _, tr := range out.Traits {
		if tr.Strength >= 5 {
			t.Errorf("trait %q did not decay: %v", tr.Name, tr.Strength)
		}
	}
}

func TestSetPreferencesAndAnalyze(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)

	out, err := f.pipe.SetPreferences(ctx, p.ID, persona.Preferences{Style: "technical", Depth: 0, Formality: 5})
	if err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if out.Preferences.Depth != 1 || out.Preferences.Formality != 5 || out.Preferences.Style != "technical" {
		t.Errorf("prefs = %+v", out.Preferences)
	}

	report, err := f.pipe.Analyze(ctx, p.ID, "the server code has a bug")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Style != "technical" || report.StyleHits != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestAddQuestionPersists(t *testing.T) {
	f := setupPipeline(t)

	q, err := f.pipe.AddQuestion("Favorite city?", "", 9, []string{"city"})
	if err != nil {
		t.Fatalf("AddQuestion: %v", err)
	}
	if q.Category != "custom" || q.Importance != catalog.MaxImportance {
		t.Errorf("question = %+v", q)
	}
	saved, _ := f.store.ListQuestions(context.Background())
	if len(saved) != 1 || saved[0].ID != q.ID {
		t.Errorf("persisted = %+v", saved)
	}

	if _, err := f.pipe.AddQuestion("  ", "", 3, nil); !errors.Is(err, persona.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestConcurrentAnswersDoNotLoseUpdates(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)

	qs := f.pipe.Questions()
	var wg sync.WaitGroup
	for _, q := range qs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.pipe.SubmitAnswer(ctx, p.ID, q.ID, "concurrent answer", ""); err != nil {
				t.Errorf("SubmitAnswer %d: %v", q.ID, err)
			}
		}()
	}
	wg.Wait()

	stored, _ := f.store.GetProfile(ctx, p.ID)
	if len(stored.Knowledge) != len(qs) {
		t.Errorf("knowledge entries = %d, want %d", len(stored.Knowledge), len(qs))
	}
}

func intPtr(v int) *int { return &v }

// interleavingProfiles commits a competing write just before the first
// Update it forwards, the way another request racing on the same profile
// would.
type interleavingProfiles struct {
	Profiles
	once  sync.Once
	write func(persona.Profile) (persona.Profile, error)
}

func (ip *interleavingProfiles) Get(ctx context.Context, id string) (persona.Profile, error) {
	p, err := ip.Profiles.Get(ctx, id)
	ip.interleave(ctx, id)
	return p, err
}

func (ip *interleavingProfiles) Update(ctx context.Context, id string, fn func(persona.Profile) (persona.Profile, error)) (persona.Profile, error) {
	ip.interleave(ctx, id)
	return ip.Profiles.Update(ctx, id, fn)
}

func (ip *interleavingProfiles) interleave(ctx context.Context, id string) {
	ip.once.Do(func() { ip.Profiles.Update(ctx, id, ip.write) })
}

func TestPatchPreferencesKeepsConcurrentWrite(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)

	racing := &interleavingProfiles{
		Profiles: f.pipe.profiles,
		write: func(prof persona.Profile) (persona.Profile, error) {
			prof.Preferences.Style = text.StyleTechnical
			return prof, nil
		},
	}
	f.pipe.profiles = racing

	formality := 5
	out, err := f.pipe.PatchPreferences(ctx, p.ID, persona.PreferencesPatch{Formality: &formality})
	if err != nil {
		t.Fatalf("PatchPreferences: %v", err)
	}
	want := persona.Preferences{Style: text.StyleTechnical, Depth: 2, Formality: 5}
	if out.Preferences != want {
		t.Errorf("returned prefs = %+v, want %+v", out.Preferences, want)
	}

	stored, err := f.store.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if stored.Preferences != want {
		t.Errorf("stored prefs = %+v, want %+v", stored.Preferences, want)
	}
}

func TestPatchPreferencesClampsAndIgnoresAbsent(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()
	p := f.newProfile(t)

	depth, style := 7, text.StyleEmpathetic
	out, err := f.pipe.PatchPreferences(ctx, p.ID, persona.PreferencesPatch{Depth: &depth, Style: &style})
	if err != nil {
		t.Fatalf("PatchPreferences: %v", err)
	}
	want := persona.Preferences{Style: text.StyleEmpathetic, Depth: 3, Formality: 3}
	if out.Preferences != want {
		t.Errorf("prefs = %+v, want %+v", out.Preferences, want)
	}

	if _, err := f.pipe.PatchPreferences(ctx, "ghost", persona.PreferencesPatch{}); !errors.Is(err, persona.ErrNotFound) {
		t.Errorf("unknown profile err = %v, want ErrNotFound", err)
	}
}
