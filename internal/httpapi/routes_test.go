package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DoyleJ11/ipl-auction-backend/internal/auctioneer"
	"github.com/DoyleJ11/ipl-auction-backend/internal/catalog"
	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/DoyleJ11/ipl-auction-backend/internal/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newServerIn(t, t.TempDir())
}

// newServerIn serves an auction that keeps its snapshots in dir.
func newServerIn(t *testing.T, dir string) *httptest.Server {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	st, err := cat.State()
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	eng, err := engine.New(st, engine.WithClock(clock))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a := auctioneer.New(ctx, eng, auctioneer.Config{
		Clock:        clock,
		SnapshotDir:  dir,
		SnapshotName: "auction_state.dat",
	})
	srv := httptest.NewServer(SetupRoutes(a, nil))
	t.Cleanup(func() {
		srv.Close()
		a.Close()
		cancel()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeState(t *testing.T, data []byte) stateResponse {
	t.Helper()
	var sr stateResponse
	require.NoError(t, json.Unmarshal(data, &sr))
	return sr
}

func decodeError(t *testing.T, data []byte) types.ServerMessage {
	t.Helper()
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, types.MsgError, msg.Type)
	return msg
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, _ := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuctionFlow(t *testing.T) {
	srv := newServer(t)

	resp, data := do(t, srv, http.MethodGet, "/auction", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	idle := decodeState(t, data)
	assert.Equal(t, engine.PhaseIdle, idle.State.Phase)
	assert.Equal(t, "Virat Kohli", idle.State.Item.Name)
	assert.Len(t, idle.State.Teams, 10)

	resp, data = do(t, srv, http.MethodPost, "/auction/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, engine.PhaseRunning, decodeState(t, data).State.Phase)

	resp, data = do(t, srv, http.MethodPost, "/auction/bids", `{"team":"Mumbai Indians"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var bid bidResponse
	require.NoError(t, json.Unmarshal(data, &bid))
	assert.Equal(t, int64(20500), bid.Event.Price)
	assert.Equal(t, "Mumbai Indians", bid.State.Leader)

	resp, data = do(t, srv, http.MethodPost, "/auction/skip", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Rohit Sharma", decodeState(t, data).State.Item.Name)

	resp, data = do(t, srv, http.MethodGet, "/auction/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"log":["Mumbai Indians bids ₹20,500","Virat Kohli sold to Mumbai Indians for ₹20,500"]}`, string(data))

	resp, data = do(t, srv, http.MethodGet, "/auction/stats?format=text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(data), "- Virat Kohli (Batsman) - ₹20,500")
	assert.Contains(t, string(data), "Average Player Cost: ₹20,500")

	resp, data = do(t, srv, http.MethodGet, "/auction/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st engine.Stats
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, int64(20500), st.TotalSpent)
	assert.Equal(t, 1, st.SoldCount)

	resp, data = do(t, srv, http.MethodPost, "/auction/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reset := decodeState(t, data)
	assert.Equal(t, engine.PhaseIdle, reset.State.Phase)
	assert.Empty(t, reset.State.Log)
}

func TestErrorStatuses(t *testing.T) {
	srv := newServer(t)

	resp, data := do(t, srv, http.MethodPost, "/auction/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, types.CodeInvalidState, decodeError(t, data).Code)

	resp, data = do(t, srv, http.MethodPost, "/auction/bids", `{"team":"Mumbai Indians"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no session before start")
	assert.Equal(t, types.CodeInvalidState, decodeError(t, data).Code)

	do(t, srv, http.MethodPost, "/auction/start", "")
	do(t, srv, http.MethodPost, "/auction/bids", `{"team":"Mumbai Indians"}`)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"consecutive bid", `{"team":"Mumbai Indians"}`, http.StatusUnprocessableEntity, string(engine.ReasonSameBidder)},
		{"unknown team", `{"team":"Kochi Tuskers"}`, http.StatusNotFound, types.CodeUnknownTeam},
		{"missing team", `{}`, http.StatusBadRequest, types.CodeBadRequest},
		{"bad json", `{`, http.StatusBadRequest, types.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := do(t, srv, http.MethodPost, "/auction/bids", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, data).Code)
		})
	}

	do(t, srv, http.MethodPost, "/auction/pause", "")
	resp, data = do(t, srv, http.MethodPost, "/auction/bids", `{"team":"Punjab Kings"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "bids while paused are rejected")
	assert.Equal(t, string(engine.ReasonNotAccepting), decodeError(t, data).Code)
}

func TestSnapshotSaveLoad(t *testing.T) {
	srv := newServer(t)
	do(t, srv, http.MethodPost, "/auction/start", "")
	do(t, srv, http.MethodPost, "/auction/bids", `{"team":"Delhi Capitals"}`)

	resp, data := do(t, srv, http.MethodPost, "/auction/snapshot/save", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var saved snapshotResponse
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.NotEmpty(t, saved.ID)

	do(t, srv, http.MethodPost, "/auction/skip", "")

	resp, data = do(t, srv, http.MethodPost, "/auction/snapshot/load", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	_, data = do(t, srv, http.MethodGet, "/auction", "")
	restored := decodeState(t, data)
	assert.Equal(t, "Virat Kohli", restored.State.Item.Name)
	assert.Equal(t, "Delhi Capitals", restored.State.Leader)

	resp, data = do(t, srv, http.MethodPost, "/auction/snapshot/load", `{"path":"missing.dat"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, types.CodeIO, decodeError(t, data).Code)
}

func TestSnapshotPathOutsideDirRejected(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "snapshots")
	require.NoError(t, os.Mkdir(dir, 0o755))
	victim := filepath.Join(root, "victim.txt")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o644))

	srv := newServerIn(t, dir)
	do(t, srv, http.MethodPost, "/auction/start", "")

	for _, path := range []string{
		victim,
		filepath.Join(dir, "x", "..", "..", "victim.txt"),
		"../victim.txt",
		"x/../../victim.txt",
		"x/../auction_state.dat",
	} {
		body, err := json.Marshal(snapshotRequest{Path: path})
		require.NoError(t, err)
		for _, op := range []string{"save", "load"} {
			resp, data := do(t, srv, http.MethodPost, "/auction/snapshot/"+op, string(body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s", op, path)
			assert.Equal(t, types.CodeInvalidPath, decodeError(t, data).Code, "%s %s", op, path)
		}
	}

	got, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(got))

	// A plain name inside the directory still works.
	resp, data := do(t, srv, http.MethodPost, "/auction/snapshot/save", `{"path":"round1.dat"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.FileExists(t, filepath.Join(dir, "round1.dat"))
}
