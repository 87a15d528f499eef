package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
)

func TestNewPicksProvider(t *testing.T) {
	s, err := New(config.Mail{Provider: "log"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	s, err = New(config.Mail{Provider: "smtp", SMTPHost: "localhost", SMTPPort: 25}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	s, err = New(config.Mail{Provider: "sendgrid", SendGridAPIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SendGridSender{}, s)

	_, err = New(config.Mail{Provider: "pigeon"}, nil)
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core).Sugar())

	require.NoError(t, s.SendCode(context.Background(), "alice@x.com", "4821"))
	entries := logs.FilterMessage("verification code").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "4821", entries[0].ContextMap()["code"])
}

func TestLogSenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLogSender(nil).SendCode(ctx, "a@x.com", "1234"), context.Canceled)
}

func TestSMTPMessage(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "", "no-reply@x.com", "Portal")
	m := s.message("alice@x.com", "4821")
	assert.Equal(t, []string{"alice@x.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{codeSubject}, m.GetHeader("Subject"))
	assert.Contains(t, m.GetHeader("From")[0], "no-reply@x.com")
}

func TestSendGridSender(t *testing.T) {
	var got sgMailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender("key", "no-reply@x.com", "Portal")
	s.endpoint = srv.URL

	require.NoError(t, s.SendCode(context.Background(), "alice@x.com", "4821"))
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "alice@x.com", got.Personalizations[0].To[0].Email)
	assert.Equal(t, "no-reply@x.com", got.From.Email)
	require.Len(t, got.Content, 1)
	assert.True(t, strings.Contains(got.Content[0].Value, "4821"))
}

func TestSendGridSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSendGridSender("key", "no-reply@x.com", "")
	s.endpoint = srv.URL

	err := s.SendCode(context.Background(), "alice@x.com", "4821")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
