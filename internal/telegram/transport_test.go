package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/antoniostano/botfleet/internal/bots"
	"github.com/antoniostano/botfleet/internal/store"
)

// fakeBotAPI emulates just enough of the Telegram Bot API for the
// transport: it accepts every method call and records it.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

type apiCall struct {
	method string
	body   map[string]any
}

func (f *fakeBotAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]

		body := map[string]any{}
		raw, _ := io.ReadAll(r.Body)
		mt, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch {
		case strings.HasPrefix(mt, "multipart/"):
			mr := multipart.NewReader(bytes.NewReader(raw), params["boundary"])
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				data, _ := io.ReadAll(part)
				body[part.FormName()] = string(data)
			}
		case len(raw) > 0:
			if err := json.Unmarshal(raw, &body); err != nil {
				if vals, err := url.ParseQuery(string(raw)); err == nil {
					for k, v := range vals {
						if len(v) > 0 {
							body[k] = v[0]
						}
					}
				}
			}
		}

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, body: body})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "sendMessage":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":123,"type":"private"},"text":"ok"}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		}
	})
}

func (f *fakeBotAPI) methodCalls(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []bots.Inbound
}

func (s *sinkRecorder) sink(in bots.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, in)
	return nil
}

func (s *sinkRecorder) all() []bots.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bots.Inbound(nil), s.msgs...)
}

func testTransport(t *testing.T, mode Mode, api *fakeBotAPI, rec *sinkRecorder) *Transport {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg := Config{
		Mode:          mode,
		PublicBaseURL: "https://bots.example.com",
		APIBaseURL:    srv.URL,
		SkipGetMe:     true,
	}
	sess := store.Session{ID: 7, AgentID: 1, Platform: store.PlatformTelegram, APIToken: "tg-token"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, sess, rec.sink, logger)
}

func TestWebhookModeRegistersAndRemovesWebhook(t *testing.T) {
	api := &fakeBotAPI{}
	rec := &sinkRecorder{}
	tr := testTransport(t, ModeWebhook, api, rec)
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	set := api.methodCalls("setWebhook")
	if len(set) != 1 {
		t.Fatalf("setWebhook calls = %d, want 1", len(set))
	}
	url, _ := set[0].body["url"].(string)
	if url != "https://bots.example.com/webhook/7" {
		t.Fatalf("webhook url = %q", url)
	}

	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(api.methodCalls("deleteWebhook")) != 1 {
		t.Fatal("deleteWebhook was not called on stop")
	}
}

func TestFeedNormalizesUpdateIntoSink(t *testing.T) {
	api := &fakeBotAPI{}
	rec := &sinkRecorder{}
	tr := testTransport(t, ModeWebhook, api, rec)
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop(ctx)

	payload := []byte(`{
		"update_id": 10,
		"message": {
			"message_id": 1,
			"date": 0,
			"text": "hello there",
			"chat": {"id": 424242, "type": "private"},
			"from": {"id": 424242, "is_bot": false, "first_name": "Ada", "last_name": "Lovelace", "username": "ada"}
		}
	}`)
	if err := tr.Feed(payload); err != nil {
		t.Fatalf("feed: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(msgs))
	}
	in := msgs[0]
	if in.SenderID != "424242" || in.Text != "hello there" || in.Username != "ada" {
		t.Fatalf("inbound = %+v", in)
	}
	if in.DisplayName != "Ada Lovelace" {
		t.Fatalf("display name = %q", in.DisplayName)
	}
	if in.FirstContact {
		t.Fatal("plain text flagged as first contact")
	}
}

func TestFeedFlagsStartCommand(t *testing.T) {
	api := &fakeBotAPI{}
	rec := &sinkRecorder{}
	tr := testTransport(t, ModeWebhook, api, rec)
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop(ctx)

	payload := []byte(`{
		"update_id": 11,
		"message": {
			"message_id": 2,
			"date": 0,
			"text": "/start",
			"chat": {"id": 5, "type": "private"},
			"from": {"id": 5, "is_bot": false, "first_name": "Bo"}
		}
	}`)
	if err := tr.Feed(payload); err != nil {
		t.Fatalf("feed: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 1 || !msgs[0].FirstContact {
		t.Fatalf("sink = %+v, want one first-contact message", msgs)
	}
}

func TestFeedRejectsMalformedPayload(t *testing.T) {
	api := &fakeBotAPI{}
	rec := &sinkRecorder{}
	tr := testTransport(t, ModeWebhook, api, rec)
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop(ctx)

	if err := tr.Feed([]byte(`{not json`)); err == nil {
		t.Fatal("malformed payload was accepted")
	}
	if len(rec.all()) != 0 {
		t.Fatal("malformed payload reached the sink")
	}
}

func TestSendDeliversToChat(t *testing.T) {
	api := &fakeBotAPI{}
	rec := &sinkRecorder{}
	tr := testTransport(t, ModeWebhook, api, rec)
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop(ctx)

	if err := tr.Send(ctx, "424242", "ciao"); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := api.methodCalls("sendMessage")
	if len(sent) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(sent))
	}
	if text, _ := sent[0].body["text"].(string); text != "ciao" {
		t.Fatalf("sent text = %q", text)
	}
}

func TestFactoryRejectsSessionWithoutToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := Factory(Config{Mode: ModePolling}, logger)
	_, err := factory(store.Session{ID: 1, Platform: store.PlatformTelegram}, func(bots.Inbound) error { return nil })
	if err == nil {
		t.Fatal("factory accepted a session with no bot token")
	}
}
