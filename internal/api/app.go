package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type createProfileRequest struct {
	UserRef string `json:"user_ref"`
	Bio     string `json:"bio"`
}

type answerRequest struct {
	QuestionID int    `json:"question_id"`
	Answer     string `json:"answer"`
	Emotion    string `json:"emotion"`
}

type chatRequest struct {
	Message   string `json:"message"`
	Reset     bool   `json:"reset"`
	SpeakerID string `json:"speaker_id"`
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type questionRequest struct {
	Text       string   `json:"text"`
	Category   string   `json:"category"`
	Importance int      `json:"importance"`
	Triggers   []string `json:"triggers"`
}

// AppDeps holds the collaborators of the REST API.
type AppDeps struct {
	Pipeline *pipeline.Pipeline
	Token    string
}

// NewAppHandler returns the REST API. Everything except /health requires
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/profiles", handleCreateProfile(deps))
		r.Route("/profiles/{id}", func(r chi.Router) {
			r.Get("/", handleGetProfile(deps))
			r.Post("/refresh", handleRefresh(deps))
			r.Patch("/preferences", handleSetPreferences(deps))
			r.Get("/next-question", handleNextQuestion(deps))
			r.Post("/answers", handleSubmitAnswer(deps))
			r.Post("/chat", handleChat(deps))
			r.Post("/feedback", handleFeedback(deps))
			r.Get("/feedback", handleListFeedback(deps))
			r.Post("/analyze", handleAnalyze(deps))
			r.Post("/deploy", handleDeploy(deps))
			r.Get("/interactions", handleListInteractions(deps))
		})

		r.Get("/deployed", handleListDeployed(deps))
		r.Post("/deployed/{id}/chat", handleChatWith(deps))

		r.Get("/questions", handleListQuestions(deps))
		r.Post("/questions", handleAddQuestion(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleCreateProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createProfileRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Pipeline.CreateProfile(r.Context(), req.UserRef, req.Bio)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Pipeline.Profile(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, p)
	}
}

func handleRefresh(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Pipeline.Refresh(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, p)
	}
}

func handleSetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch persona.PreferencesPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		p, err := deps.Pipeline.PatchPreferences(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, p.Preferences)
	}
}

func handleNextQuestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := deps.Pipeline.NextQuestion(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("context"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, q)
	}
}

func handleSubmitAnswer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Pipeline.SubmitAnswer(r.Context(), chi.URLParam(r, "id"), req.QuestionID, req.Answer, req.Emotion)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"training_progress": p.TrainingProgress,
			"answers":           len(p.Knowledge),
			"memories":          len(p.Memories),
			"traits":            p.Traits,
		})
	}
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		reply, err := deps.Pipeline.Chat(r.Context(), chi.URLParam(r, "id"), req.Message, req.Reset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, reply)
	}
}

func handleChatWith(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		reply, err := deps.Pipeline.ChatWith(r.Context(), req.SpeakerID, chi.URLParam(r, "id"), req.Message, req.Reset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, reply)
	}
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fb persona.Feedback
		if !decodeBody(w, r, &fb) {
			return
		}
		if _, err := deps.Pipeline.ProvideFeedback(r.Context(), chi.URLParam(r, "id"), fb); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		report, err := deps.Pipeline.Analyze(r.Context(), chi.URLParam(r, "id"), req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, report)
	}
}

func handleDeploy(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Pipeline.Deploy(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, storage.DeployedProfile{ID: p.ID, Bio: p.Bio, TrainingProgress: p.TrainingProgress})
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		interactions, err := deps.Pipeline.Interactions(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, interactions)
	}
}

func handleListFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Pipeline.Feedback(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, records)
	}
}

func handleListDeployed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deployed, err := deps.Pipeline.ListDeployed(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, deployed)
	}
}

func handleListQuestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Pipeline.Questions())
	}
}

func handleAddQuestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		q, err := deps.Pipeline.AddQuestion(req.Text, req.Category, req.Importance, req.Triggers)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(q)
	}
}
