package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/chatforge-io/orchestrator/internal/auth"
	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/dlq"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/extract"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/chatforge-io/orchestrator/internal/ratelimit"
	"github.com/chatforge-io/orchestrator/internal/resultstore"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func newTestServer(t *testing.T) (*Server, *docstore.Store, *resultstore.Store, *nats.Conn) {
	t.Helper()
	nc := startTestNATS(t)
	b := bus.NewFromConn(nc)
	docs := docstore.NewInMemoryForTest()

	redisMr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisMr.Addr()})
	results := resultstore.NewWithClient(redisClient, resultstore.DefaultTTL)
	limiter := ratelimit.New(redisClient)

	deps := Deps{
		Bus:        b,
		Docs:       docs,
		Results:    results,
		DLQ:        dlq.New(docs, b),
		Extractor:  extract.New(),
		Verifier:   auth.NewVerifier(testSecret, ""),
		RateLimit:  limiter,
		CORSOrigin: "*",
	}
	return New(deps), docs, results, nc
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func authedRequest(t *testing.T, method, path, userID string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signToken(t, userID))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatSendCreatesConversationAndEnqueues(t *testing.T) {
	srv, docs, _, nc := newTestServer(t)
	h := srv.Handler()

	sub, err := nc.SubscribeSync(string(jobs.TopicChat))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	body, _ := json.Marshal(chatSendRequest{Message: "hello there"})
	req := authedRequest(t, "POST", "/api/chat/send", "user-1", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatSendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CorrelationID == "" || resp.ConversationID == "" {
		t.Fatalf("expected non-empty ids, got %+v", resp)
	}

	doc, found, err := docs.FindOne(req.Context(), labelConversations, resp.ConversationID)
	if err != nil || !found {
		t.Fatalf("expected conversation to be persisted: found=%v err=%v", found, err)
	}
	if doc.Fields["user_id"] != "user-1" {
		t.Fatalf("expected conversation owned by user-1, got %+v", doc.Fields)
	}
	if doc.Fields["title"] != "hello there" {
		t.Fatalf("expected conversation title derived from first message, got %+v", doc.Fields)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected a chat envelope to be published: %v", err)
	}
	var env jobs.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatal(err)
	}
	if env.CorrelationID != resp.CorrelationID {
		t.Fatalf("expected envelope correlation id %q, got %q", resp.CorrelationID, env.CorrelationID)
	}
}

func TestChatSendRejectsInvalidMessage(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	body, _ := json.Marshal(chatSendRequest{Message: ""})
	req := authedRequest(t, "POST", "/api/chat/send", "user-1", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatSendRejectsUnauthenticated(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	body, _ := json.Marshal(chatSendRequest{Message: "hi"})
	req := httptest.NewRequest("POST", "/api/chat/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestChatSendRejectsConversationNotOwned(t *testing.T) {
	srv, docs, _, _ := newTestServer(t)
	h := srv.Handler()

	if err := docs.Upsert(context.Background(), labelConversations, "conv-other", map[string]any{"user_id": "someone-else"}); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(chatSendRequest{ConversationID: "conv-other", Message: "hi"})
	req := authedRequest(t, "POST", "/api/chat/send", "user-1", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatSendTruncatesLongTitleAndStripsFileContent(t *testing.T) {
	srv, docs, _, _ := newTestServer(t)
	h := srv.Handler()

	message := strings.Repeat("a", 80) + "\n\nFile content:\nirrelevant body text"
	body, _ := json.Marshal(chatSendRequest{Message: message})
	req := authedRequest(t, "POST", "/api/chat/send", "user-1", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatSendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	doc, found, err := docs.FindOne(req.Context(), labelConversations, resp.ConversationID)
	if err != nil || !found {
		t.Fatalf("expected conversation to be persisted: found=%v err=%v", found, err)
	}
	wantTitle := strings.Repeat("a", 50) + "..."
	if doc.Fields["title"] != wantTitle {
		t.Fatalf("expected title %q, got %+v", wantTitle, doc.Fields["title"])
	}
}

func TestStreamReportsProcessingWhenAbsent(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	req := authedRequest(t, "GET", "/api/stream?request_id=unknown-id", "user-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "processing" {
		t.Fatalf("expected processing status, got %+v", body)
	}
}

func TestStreamDeletesFinishedRecordAfterReturn(t *testing.T) {
	srv, _, results, _ := newTestServer(t)
	h := srv.Handler()

	if err := results.WriteResult(context.Background(), "corr-done", "chat", map[string]any{"reply": "hi"}); err != nil {
		t.Fatal(err)
	}

	req := authedRequest(t, "GET", "/api/stream?request_id=corr-done", "user-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	again, err := results.Read(context.Background(), "corr-done")
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatalf("expected the finished record to be deleted after one read, got %+v", again)
	}
}

func TestFilesExtractReturnsPlainText(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("hello from a text file"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/files/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["text"] != "hello from a text file" {
		t.Fatalf("unexpected extracted text: %+v", body)
	}
}

func TestFilesExtractRejectsPathTraversalFilename(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "../../etc/passwd.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("hello"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/files/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDLQAdminRoundTrip(t *testing.T) {
	srv, docs, _, _ := newTestServer(t)
	h := srv.Handler()

	d := dlq.New(docs, srv.deps.Bus)
	if err := d.Save(context.Background(), "corr-dead", jobs.TopicChat, jobSON(`{"message":"hi"}`), errTest{"boom"}, 3); err != nil {
		t.Fatal(err)
	}

	req := authedRequest(t, "GET", "/api/dlq/items", "admin-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing dlq items, got %d: %s", rec.Code, rec.Body.String())
	}

	records, _ := d.List(context.Background(), "", 10, 0)
	if len(records) != 1 {
		t.Fatalf("expected 1 dlq record, got %d", len(records))
	}
	id := records[0].ID

	req = authedRequest(t, "POST", "/api/dlq/items/"+id+"/resolve", "admin-1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 resolving dlq item, got %d: %s", rec.Code, rec.Body.String())
	}

	rec2, found, err := d.Get(context.Background(), id)
	if err != nil || !found {
		t.Fatalf("expected record to still exist: found=%v err=%v", found, err)
	}
	if rec2.Status != dlq.StatusResolved {
		t.Fatalf("expected resolved status, got %q", rec2.Status)
	}
}

func TestDLQGetMissingReturns404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	req := authedRequest(t, "GET", "/api/dlq/items/does-not-exist", "admin-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type errTest struct{ msg string }

func (e errTest) Error() string { return e.msg }

func jobSON(s string) []byte { return []byte(s) }
