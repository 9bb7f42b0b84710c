package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var equateEmpty = cmpopts.EquateEmpty()

func reachableState(t *testing.T, steps func(e *engine.Engine)) engine.State {
	t.Helper()
	items := []engine.Item{
		{Name: "Virat Kohli", Role: "Batsman", BasePrice: 20000, Nationality: "India"},
		{Name: "MS Dhoni", Role: "Wicketkeeper", BasePrice: 15000, Nationality: "India"},
		{Name: "Ben Stokes", Role: "All-Rounder", BasePrice: 16500, Nationality: "England"},
	}
	st, err := engine.NewState(items, []string{"Mumbai Indians", "Chennai Super Kings"}, engine.DefaultRules())
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 22, 19, 30, 0, 123456789, time.UTC))
	e, err := engine.New(st, engine.WithClock(clock))
	require.NoError(t, err)
	steps(e)
	return e.Snapshot()
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		steps func(e *engine.Engine)
	}{
		{name: "fresh idle", steps: func(e *engine.Engine) {}},
		{name: "running with leader", steps: func(e *engine.Engine) {
			_ = e.Start()
			_, _ = e.SubmitBid("Mumbai Indians")
			_, _ = e.SubmitBid("Chennai Super Kings")
			_, _ = e.Tick()
			_, _ = e.Tick()
		}},
		{name: "paused after a sale", steps: func(e *engine.Engine) {
			_ = e.Start()
			_, _ = e.SubmitBid("Mumbai Indians")
			_ = e.SkipToNext()
			_, _ = e.SubmitBid("Chennai Super Kings")
			_ = e.Pause()
		}},
		{name: "complete", steps: func(e *engine.Engine) {
			_ = e.Start()
			_ = e.SkipToNext()
			_, _ = e.SubmitBid("Mumbai Indians")
			_ = e.SkipToNext()
			_ = e.SkipToNext()
		}},
	}

	codec := NewCodec(clockwork.NewFakeClock())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want := reachableState(t, tc.steps)

			data, meta, err := codec.Encode(want)
			require.NoError(t, err)
			assert.Equal(t, Version, meta.Version)
			assert.NotEmpty(t, meta.ID)

			got, gotMeta, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, meta.ID, gotMeta.ID)
			if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProperty_RoundTripAnyReachableState(t *testing.T) {
	items := []engine.Item{
		{Name: "Virat Kohli", Role: "Batsman", BasePrice: 20000, Nationality: "India"},
		{Name: "Rashid Khan", Role: "Bowler", BasePrice: 9000, Nationality: "Afghanistan"},
		{Name: "MS Dhoni", Role: "Wicketkeeper", BasePrice: 15000, Nationality: "India"},
	}
	teams := []string{"Mumbai Indians", "Chennai Super Kings", "Royal Challengers Bengaluru"}
	codec := NewCodec(nil)

	rapid.Check(t, func(t *rapid.T) {
		rules := engine.DefaultRules()
		rules.StartingBudget = rapid.Int64Range(10000, 60000).Draw(t, "budget")
		rules.CountdownTicks = rapid.IntRange(1, 4).Draw(t, "countdown")
		rules.WrapOnComplete = rapid.Bool().Draw(t, "wrap")
		st, err := engine.NewState(items, teams, rules)
		if err != nil {
			t.Fatalf("new state: %v", err)
		}
		clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 22, 19, 30, 0, 0, time.UTC))
		e, err := engine.New(st, engine.WithClock(clock))
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}

		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			clock.Advance(time.Duration(rapid.Int64Range(1, int64(2*time.Second)).Draw(t, "elapsed")))
			switch rapid.IntRange(0, 6).Draw(t, "op") {
			case 0:
				_ = e.Start()
			case 1, 2:
				_, _ = e.SubmitBid(rapid.SampledFrom(teams).Draw(t, "team"))
			case 3:
				_, _ = e.Tick()
			case 4:
				_ = e.SkipToNext()
			case 5:
				if e.Phase() == engine.PhaseRunning {
					_ = e.Pause()
				} else {
					_ = e.Resume()
				}
			case 6:
				_ = e.Reset()
			}
		}

		want := e.Snapshot()
		data, _, err := codec.Encode(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, _, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestResolvePath(t *testing.T) {
	dir := filepath.Join("var", "auction")
	ok := map[string]string{
		"auction_state.dat":   filepath.Join(dir, "auction_state.dat"),
		"round1/state.dat":    filepath.Join(dir, "round1", "state.dat"),
		"./auction_state.dat": filepath.Join(dir, "auction_state.dat"),
	}
	for name, want := range ok {
		got, err := ResolvePath(dir, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}

	for _, name := range []string{
		"",
		"/etc/passwd",
		"..",
		"../victim.txt",
		"x/../victim.txt",
		"x/../../victim.txt",
		"round1/../../../victim.txt",
	} {
		_, err := ResolvePath(dir, name)
		require.ErrorIs(t, err, ErrInvalidPath, name)
	}

	got, err := ResolvePath("", "auction_state.dat")
	require.NoError(t, err)
	assert.Equal(t, "auction_state.dat", got)
}

func TestDecode_Rejects(t *testing.T) {
	codec := NewCodec(nil)
	good, _, err := codec.Encode(reachableState(t, func(e *engine.Engine) { _ = e.Start() }))
	require.NoError(t, err)

	wrongFormat, err := encMode.Marshal(envelope{Format: "something/else", Version: Version})
	require.NoError(t, err)
	futureVersion, err := encMode.Marshal(envelope{Format: Format, Version: Version + 1})
	require.NoError(t, err)

	broken := reachableState(t, func(e *engine.Engine) { _ = e.Start() })
	broken.Ledger.Teams[0].Budget = 12
	body, err := encMode.Marshal(broken)
	require.NoError(t, err)
	inconsistent, err := encMode.Marshal(envelope{Format: Format, Version: Version, Body: body})
	require.NoError(t, err)

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: ErrCorruptSnapshot},
		{name: "garbage", data: []byte("not a snapshot"), want: ErrCorruptSnapshot},
		{name: "truncated", data: good[:len(good)/2], want: ErrCorruptSnapshot},
		{name: "foreign format", data: wrongFormat, want: ErrCorruptSnapshot},
		{name: "newer version", data: futureVersion, want: ErrUnsupportedVersion},
		{name: "ledger invariants broken", data: inconsistent, want: ErrCorruptSnapshot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := codec.Decode(tc.data)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSaveLoadFile(t *testing.T) {
	codec := NewCodec(nil)
	want := reachableState(t, func(e *engine.Engine) {
		_ = e.Start()
		_, _ = e.SubmitBid("Chennai Super Kings")
	})
	path := filepath.Join(t.TempDir(), "auction_state.dat")

	_, err := codec.Save(path, want)
	require.NoError(t, err)
	got, _, err := codec.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Fatalf("file round trip mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestFileErrors(t *testing.T) {
	codec := NewCodec(nil)

	_, _, err := codec.Load(filepath.Join(t.TempDir(), "missing.dat"))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, os.ErrNotExist)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)

	_, err = codec.Save(filepath.Join(t.TempDir(), "no", "such", "dir", "s.dat"), reachableState(t, func(*engine.Engine) {}))
	require.ErrorIs(t, err, ErrIO)
}
