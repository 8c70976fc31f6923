package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSendAlert(t *testing.T) {
	var gotPath, gotText, gotChat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotText = r.PostForm.Get("text")
		gotChat = r.PostForm.Get("chat_id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTelegramNotifier(srv.URL, "abc", "42")
	require.NoError(t, n.SendAlert(context.Background(), LevelWarning, "stop for BTCUSDT needs review"))

	assert.Equal(t, "/botabc/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.True(t, strings.HasPrefix(gotText, "⚠️"))
	assert.Contains(t, gotText, "needs review")
}

func TestTelegramNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := newTelegramNotifier(srv.URL, "abc", "42")
	err := n.SendAlert(context.Background(), LevelError, "boom")
	assert.Error(t, err)
}
