package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/storage"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeRR(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeRR(t, rr, &body)
	return body.Error.Type
}

func createProfile(t *testing.T, h http.Handler) persona.Profile {
	t.Helper()
	rr := serve(h, authReq(http.MethodPost, "/profiles", `{"user_ref":"alice","bio":"hiker"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create profile: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var p persona.Profile
	decodeRR(t, rr, &p)
	return p
}

func trainProfile(t *testing.T, pipe *pipeline.Pipeline, id string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		q, err := pipe.NextQuestion(ctx, id, "")
		if err != nil {
			t.Fatalf("NextQuestion: %v", err)
		}
		if _, err := pipe.SubmitAnswer(ctx, id, q.ID, fmt.Sprintf("answer %d", i), ""); err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
	}
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	rr := serve(h, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestAuth_Rejects(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	for name, token := range map[string]string{"missing": "", "wrong": "nope"} {
		rr := serve(h, authReq(http.MethodGet, "/questions", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s token: status = %d, want 401", name, rr.Code)
		}
		if got := errorType(t, rr); got != "authentication_error" {
			t.Errorf("%s token: error type = %q", name, got)
		}
	}
}

func TestAuth_EmptyServerTokenRejectsAll(t *testing.T) {
	h, _ := setupAppHandler(t, "")
	req := authReq(http.MethodGet, "/questions", "", "")
	req.Header.Set("Authorization", "Bearer ")
	if rr := serve(h, req); rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestCreateAndGetProfile(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	p := createProfile(t, h)
	if p.ID == "" || p.UserRef != "alice" || p.Bio != "hiker" {
		t.Fatalf("created = %+v", p)
	}

	rr := serve(h, authReq(http.MethodGet, "/profiles/"+p.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var got persona.Profile
	decodeRR(t, rr, &got)
	if got.ID != p.ID {
		t.Errorf("got ID %q, want %q", got.ID, p.ID)
	}
}

func TestCreateProfile_Validation(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/profiles", `{"bio":"x"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing user_ref: status = %d, want 400", rr.Code)
	}
	rr = serve(h, authReq(http.MethodPost, "/profiles", `{not json`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rr.Code)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	rr := serve(h, authReq(http.MethodGet, "/profiles/ghost", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if got := errorType(t, rr); got != "not_found_error" {
		t.Errorf("error type = %q", got)
	}
}

func TestTrainAndChatFlow(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	p := createProfile(t, h)

	rr := serve(h, authReq(http.MethodGet, "/profiles/"+p.ID+"/next-question?context=conflict", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("next-question: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var q struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	}
	decodeRR(t, rr, &q)
	if q.Text != "How do you handle conflict?" {
		t.Fatalf("question = %+v, want the conflict question", q)
	}

	body := fmt.Sprintf(`{"question_id":%d,"answer":"I stay calm and listen.","emotion":"neutral"}`, q.ID)
	rr = serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/answers", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("answers: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var progress struct {
		TrainingProgress int `json:"training_progress"`
		Answers          int `json:"answers"`
	}
	decodeRR(t, rr, &progress)
	if progress.TrainingProgress != 10 || progress.Answers != 1 {
		t.Errorf("progress = %+v", progress)
	}

	rr = serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/chat", `{"message":"How do you handle conflict in relationships?"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("chat: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var reply persona.Reply
	decodeRR(t, rr, &reply)
	if !reply.Matched || reply.Text != "I stay calm and listen." {
		t.Errorf("reply = %+v", reply)
	}

	rr = serve(h, authReq(http.MethodGet, "/profiles/"+p.ID+"/interactions", "", testToken))
	var log []storage.Interaction
	decodeRR(t, rr, &log)
	if len(log) != 1 || log[0].Reply != reply.Text {
		t.Errorf("interactions = %+v", log)
	}
}

func TestSubmitAnswer_Blank(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	p := createProfile(t, h)
	rr := serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/answers", `{"question_id":1,"answer":"  "}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestFeedback(t *testing.T) {
	h, pipe := setupAppHandler(t, testToken)
	p := createProfile(t, h)
	pipe.SubmitAnswer(context.Background(), p.ID, 2, "I stay calm.", "")

	rr := serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/feedback", `{"question_id":2,"score":1,"comments":"not me"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	got, _ := pipe.Profile(context.Background(), p.ID)
	if c := got.Knowledge[0].Confidence; c >= 1.0 {
		t.Errorf("confidence = %v, want lowered", c)
	}

	rr = serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/feedback", `{"memory_id":999,"score":5}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown memory: status = %d, want 404", rr.Code)
	}
	rr = serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/feedback", `{"score":5}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("no target: status = %d, want 400", rr.Code)
	}
}

func TestListFeedback(t *testing.T) {
	h, pipe := setupAppHandler(t, testToken)
	p := createProfile(t, h)

	rr := serve(h, authReq(http.MethodGet, "/profiles/"+p.ID+"/feedback", "", testToken))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("empty log: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	pipe.SubmitAnswer(context.Background(), p.ID, 2, "I stay calm.", "")
	serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/feedback", `{"question_id":2,"score":2,"comments":"not me"}`, testToken))

	rr = serve(h, authReq(http.MethodGet, "/profiles/"+p.ID+"/feedback", "", testToken))
	var records []storage.FeedbackRecord
	decodeRR(t, rr, &records)
	if len(records) != 1 || records[0].Score != 2 || records[0].Comments != "not me" {
		t.Fatalf("feedback = %+v", records)
	}
	if records[0].QuestionID == nil || *records[0].QuestionID != 2 || records[0].MemoryID != nil {
		t.Errorf("targets = %v, %v", records[0].QuestionID, records[0].MemoryID)
	}

	rr = serve(h, authReq(http.MethodGet, "/profiles/ghost/feedback", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown profile: status = %d, want 404", rr.Code)
	}
}

func TestDeployFlow(t *testing.T) {
	h, pipe := setupAppHandler(t, testToken)
	owner := createProfile(t, h)

	rr := serve(h, authReq(http.MethodPost, "/profiles/"+owner.ID+"/deploy", "", testToken))
	if rr.Code != http.StatusConflict {
		t.Fatalf("undertrained deploy: status = %d, want 409", rr.Code)
	}

	rr = serve(h, authReq(http.MethodPost, "/deployed/"+owner.ID+"/chat", `{"message":"hello"}`, testToken))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("chat with undeployed: status = %d, want 403", rr.Code)
	}

	trainProfile(t, pipe, owner.ID, persona.DeployMinAnswers)
	rr = serve(h, authReq(http.MethodPost, "/profiles/"+owner.ID+"/deploy", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("deploy: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = serve(h, authReq(http.MethodGet, "/deployed", "", testToken))
	var listed []storage.DeployedProfile
	decodeRR(t, rr, &listed)
	if len(listed) != 1 || listed[0].ID != owner.ID || listed[0].TrainingProgress != 100 {
		t.Errorf("deployed = %+v", listed)
	}

	rr = serve(h, authReq(http.MethodPost, "/deployed/"+owner.ID+"/chat", `{"message":"hello","speaker_id":"visitor"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("chat with deployed: status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestNextQuestion_Exhausted(t *testing.T) {
	h, pipe := setupAppHandler(t, testToken)
	p := createProfile(t, h)
	trainProfile(t, pipe, p.ID, len(pipe.Questions()))

	rr := serve(h, authReq(http.MethodGet, "/profiles/"+p.ID+"/next-question", "", testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestSetPreferences_PartialPatch(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	p := createProfile(t, h)

	rr := serve(h, authReq(http.MethodPatch, "/profiles/"+p.ID+"/preferences", `{"formality":9}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var prefs persona.Preferences
	decodeRR(t, rr, &prefs)
	want := persona.DefaultPreferences()
	want.Formality = 5
	if prefs != want {
		t.Errorf("prefs = %+v, want %+v", prefs, want)
	}
}

func TestSetPreferences_UnknownProfile(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPatch, "/profiles/ghost/preferences", `{"depth":1}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAnalyzeAndRefresh(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	p := createProfile(t, h)

	rr := serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/analyze", `{"text":"I feel a bit worried"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("analyze: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var report persona.Report
	decodeRR(t, rr, &report)
	if report.Emotion != "sad" {
		t.Errorf("emotion = %q, want sad", report.Emotion)
	}

	rr = serve(h, authReq(http.MethodPost, "/profiles/"+p.ID+"/refresh", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("refresh: status = %d", rr.Code)
	}
}

func TestQuestions(t *testing.T) {
	h, pipe := setupAppHandler(t, testToken)
	before := len(pipe.Questions())

	rr := serve(h, authReq(http.MethodPost, "/questions", `{"text":"Favorite city?","importance":3,"triggers":["city"]}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var q struct {
		ID       int    `json:"id"`
		Category string `json:"category"`
	}
	decodeRR(t, rr, &q)
	if q.ID != before+1 || q.Category != "custom" {
		t.Errorf("question = %+v", q)
	}

	rr = serve(h, authReq(http.MethodGet, "/questions", "", testToken))
	var all []json.RawMessage
	decodeRR(t, rr, &all)
	if len(all) != before+1 {
		t.Errorf("listed %d questions, want %d", len(all), before+1)
	}

	rr = serve(h, authReq(http.MethodPost, "/questions", `{"text":""}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d, want 400", rr.Code)
	}
}
