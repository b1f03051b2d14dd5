package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/repo"
	"github.com/emberfall/hearth/internal/settings"
	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/internal/storage/badger"
	"github.com/emberfall/hearth/pkg/types"
)

func testStore(t *testing.T) storage.Storage {
	t.Helper()
	eng, err := badger.Open("", storage.CompactionPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestCharacterHandlers(t *testing.T) {
	store := testStore(t)
	h := NewCharacterHandlers(repo.New(store))

	rec := doJSON(t, h.Create, http.MethodPost, "/api/characters",
		`{"name":"Yuki","profile":{"backstory":"keeps the garden"}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created types.Character
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	rec = doJSON(t, h.Get, http.MethodGet, "/api/characters/"+created.ID, "",
		map[string]string{"id": created.ID})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.Get, http.MethodGet, "/api/characters/nope", "",
		map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h.Update, http.MethodPatch, "/api/characters/"+created.ID,
		`{"name":"Yuki Tanaka"}`, map[string]string{"id": created.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated types.Character
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Yuki Tanaka", updated.Name)
	assert.Equal(t, "keeps the garden", updated.Profile.Backstory)

	// Validation failures surface as 400
	rec = doJSON(t, h.Create, http.MethodPost, "/api/characters", `{"name":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown fields are rejected
	rec = doJSON(t, h.Create, http.MethodPost, "/api/characters", `{"nome":"typo"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandlers(t *testing.T) {
	store := testStore(t)
	repos := repo.New(store)
	chars := NewCharacterHandlers(repos)
	chats := NewChatHandlers(repos)

	rec := doJSON(t, chars.Create, http.MethodPost, "/api/characters",
		`{"name":"Riven","profile":{}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var char types.Character
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &char))

	rec = doJSON(t, chats.Create, http.MethodPost, "/api/chats",
		`{"title":"evening","character_id":"`+char.ID+`"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var chat types.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))

	for _, content := range []string{"hello", "hello again"} {
		rec = doJSON(t, chats.Append, http.MethodPost, "/api/chats/"+chat.ID+"/messages",
			`{"role":"user","content":"`+content+`"}`, map[string]string{"id": chat.ID})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, chats.Messages, http.MethodGet, "/api/chats/"+chat.ID+"/messages", "",
		map[string]string{"id": chat.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, msgs[0].TurnIndex)
	assert.Equal(t, 1, msgs[1].TurnIndex)

	rec = doJSON(t, chats.Get, http.MethodGet, "/api/chats/"+chat.ID, "",
		map[string]string{"id": chat.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var withParticipants struct {
		types.Chat
		Participants []string `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &withParticipants))
	assert.Equal(t, "evening", withParticipants.Title)
}

func TestSettingsHandlers(t *testing.T) {
	store := testStore(t)
	h := NewSettingsHandlers(settings.NewStore(store), nil)

	req := httptest.NewRequest(http.MethodPut, "/api/settings/theme",
		bytes.NewReader([]byte(`{"mode":"dark","scale":1.25}`)))
	req.SetPathValue("key", "theme")
	rec := httptest.NewRecorder()
	h.Put(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h.Get, http.MethodGet, "/api/settings/theme", "",
		map[string]string{"key": "theme"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `{"mode":"dark","scale":1.25}`, string(body.Value))

	rec = doJSON(t, h.Keys, http.MethodGet, "/api/settings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "theme")

	rec = doJSON(t, h.Delete, http.MethodDelete, "/api/settings/theme", "",
		map[string]string{"key": "theme"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h.Get, http.MethodGet, "/api/settings/theme", "",
		map[string]string{"key": "theme"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemorySearchHandler(t *testing.T) {
	store := testStore(t)
	h := NewMemoryHandlers(store)

	rec := doJSON(t, h.Create, http.MethodPost, "/api/memories",
		`{"character_id":"c1","kind":"fact","content":"likes rain","importance":0.9,"embedding":[1,0,0],"model":"test"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h.Search, http.MethodPost, "/api/memories/search",
		`{"query":[1,0,0],"top_k":3}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []storage.VectorMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestMaintenanceExportImport(t *testing.T) {
	store := testStore(t)
	h := NewMaintenanceHandlers(store, nil, nil)

	require.NoError(t, store.Put(t.Context(), storage.TableSettings,
		storage.Row{"id": "k1", "key": "k1", "value": `"v1"`}))

	rec := doJSON(t, h.Export, http.MethodGet, "/api/maintenance/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "hearth-backup-")

	// Replay the export into a fresh engine
	dst := testStore(t)
	h2 := NewMaintenanceHandlers(dst, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/import", rec.Body)
	rec2 := httptest.NewRecorder()
	h2.Import(rec2, req)
	require.Equal(t, http.StatusNoContent, rec2.Code)

	row, err := dst.Get(t.Context(), storage.TableSettings, "k1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, `"v1"`, row["value"])
}

func TestWebSocketHubBroadcast(t *testing.T) {
	hub := NewWebSocketHub(7272)
	go hub.Run()
	defer hub.Stop()

	client := &MockClient{SendChan: make(chan []byte, 4)}
	hub.Register(client)

	hub.Broadcast(map[string]string{"type": "setting.changed", "key": "theme"})

	select {
	case data := <-client.SendChan:
		assert.Contains(t, string(data), "setting.changed")
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}
