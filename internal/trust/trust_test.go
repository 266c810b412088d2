package trust_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/store"
	"github.com/jmerrifield20/fangate/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	kv    *store.MemoryStore
	trust *trust.Store
	now   time.Time
}

func newFixture(t *testing.T, cfg trust.Config) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f.kv = store.NewMemoryStore()
	f.kv.SetClock(func() time.Time { return f.now })
	h, err := fingerprint.NewHasher("k")
	require.NoError(t, err)
	f.trust = trust.NewStore(f.kv, h, cfg, zap.NewNop())
	f.trust.SetClock(func() time.Time { return f.now })
	return f
}

func TestGetTrustScore_newFingerprintIsNeutral(t *testing.T) {
	f := newFixture(t, trust.Config{})
	ts := f.trust.GetTrustScore(ctx, "fp-new")
	assert.Equal(t, 50, ts.Score)
	assert.Equal(t, trust.LevelNeutral, ts.Level)
	assert.Empty(t, ts.Factors)
}

func TestUpdate_captchaFailDrivesToBlockedWithoutUnderflow(t *testing.T) {
	f := newFixture(t, trust.Config{})
	var ts trust.TrustScore
	for i := 0; i < 10; i++ {
		var err error
		ts, err = f.trust.UpdateFingerprintScore(ctx, "fp", trust.EventCaptchaFail)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ts.Score, 0)
	}
	assert.Equal(t, 0, ts.Score)
	assert.Equal(t, trust.LevelBlocked, ts.Level)
	assert.Equal(t, trust.LevelBlocked, f.trust.GetTrustScore(ctx, "fp").Level)
}

func TestUpdate_captchaPassDrivesToTrustedWithoutOverflow(t *testing.T) {
	f := newFixture(t, trust.Config{})
	var ts trust.TrustScore
	for i := 0; i < 30; i++ {
		ts, _ = f.trust.UpdateFingerprintScore(ctx, "fp", trust.EventCaptchaPass)
		assert.LessOrEqual(t, ts.Score, 100)
	}
	assert.Equal(t, 100, ts.Score)
	assert.Equal(t, trust.LevelTrusted, ts.Level)
}

func TestUpdate_clampingHoldsForMixedSequences(t *testing.T) {
	f := newFixture(t, trust.Config{})
	events := []trust.EventType{
		trust.EventCaptchaFail, trust.EventContentRejected, trust.EventCaptchaPass,
		trust.EventContentFlagged, trust.EventContentClean, trust.EventCaptchaFail,
	}
	for i := 0; i < 200; i++ {
		ts, err := f.trust.UpdateFingerprintScore(ctx, "fp", events[(i*7)%len(events)])
		require.NoError(t, err)
		require.True(t, ts.Score >= 0 && ts.Score <= 100, "score %d out of range", ts.Score)
		require.Equal(t, trust.LevelFor(ts.Score), ts.Level)
	}
}

func TestUpdate_deltasAndFactors(t *testing.T) {
	f := newFixture(t, trust.Config{MaxFactors: 3})

	cases := []struct {
		ev   trust.EventType
		want int
	}{
		{trust.EventCaptchaPass, 55},
		{trust.EventContentClean, 56},
		{trust.EventContentFlagged, 53},
		{trust.EventContentRejected, 43},
		{trust.EventCaptchaFail, 28},
	}
	for _, tc := range cases {
		ts, err := f.trust.UpdateFingerprintScore(ctx, "fp", tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ts.Score, "after %s", tc.ev)
	}

	ts := f.trust.GetTrustScore(ctx, "fp")
	require.Len(t, ts.Factors, 3, "factors are capped")
	assert.Equal(t, trust.EventCaptchaFail, ts.Factors[2].Type)
	assert.Equal(t, -15, ts.Factors[2].Delta)
	assert.Equal(t, trust.LevelSuspicious, ts.Level)
}

func TestUpdate_unknownEvent(t *testing.T) {
	f := newFixture(t, trust.Config{})
	_, err := f.trust.UpdateFingerprintScore(ctx, "fp", "bogus")
	assert.True(t, errors.Is(err, trust.ErrUnknownEvent))
}

func TestGetTrustScore_corruptRecordReadsNeutral(t *testing.T) {
	f := newFixture(t, trust.Config{})
	_, _ = f.trust.UpdateFingerprintScore(ctx, "fp", trust.EventCaptchaFail)

	h, _ := fingerprint.NewHasher("k")
	require.NoError(t, f.kv.Set(ctx, "trust:"+h.Hash("fp"), "{not json", 0))
	assert.Equal(t, trust.Neutral(), f.trust.GetTrustScore(ctx, "fp"))

	require.NoError(t, f.kv.Set(ctx, "trust:"+h.Hash("fp"), `{"score":900}`, 0))
	assert.Equal(t, 50, f.trust.GetTrustScore(ctx, "fp").Score)
}

func TestGetTrustScore_decaysTowardNeutral(t *testing.T) {
	f := newFixture(t, trust.Config{DecayPerDay: 2})
	for i := 0; i < 3; i++ {
		_, _ = f.trust.UpdateFingerprintScore(ctx, "fp", trust.EventCaptchaFail)
	}
	require.Equal(t, 5, f.trust.GetTrustScore(ctx, "fp").Score)

	f.now = f.now.Add(10 * 24 * time.Hour)
	assert.Equal(t, 25, f.trust.GetTrustScore(ctx, "fp").Score)

	f.now = f.now.Add(20 * 24 * time.Hour)
	assert.Equal(t, 50, f.trust.GetTrustScore(ctx, "fp").Score, "decay stops at neutral")
}

func TestDefaultTTLOutlivesFullDecay(t *testing.T) {
	f := newFixture(t, trust.Config{})
	_, _ = f.trust.UpdateFingerprintScore(ctx, "fp", trust.EventCaptchaPass)

	// 25 idle days fully decays any score; the record must still exist then.
	f.now = f.now.Add(25 * 24 * time.Hour)
	ts := f.trust.GetTrustScore(ctx, "fp")
	assert.Equal(t, 50, ts.Score)
	assert.NotEmpty(t, ts.Factors)

	f.now = f.now.Add(6 * 24 * time.Hour)
	assert.Empty(t, f.trust.GetTrustScore(ctx, "fp").Factors, "record expired")
}

func TestReset(t *testing.T) {
	f := newFixture(t, trust.Config{})
	_, _ = f.trust.UpdateFingerprintScore(ctx, "fp", trust.EventCaptchaFail)
	require.NoError(t, f.trust.Reset(ctx, "fp"))
	assert.Equal(t, 50, f.trust.GetTrustScore(ctx, "fp").Score)
}

func TestDecay(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		score   int
		elapsed time.Duration
		perDay  int
		want    int
	}{
		{90, 0, 2, 90},
		{90, 23 * time.Hour, 2, 90},
		{90, day, 2, 88},
		{90, 100 * day, 2, 50},
		{10, 5 * day, 2, 20},
		{10, 100 * day, 2, 50},
		{50, 10 * day, 2, 50},
		{10, 10 * day, -1, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, trust.Decay(tc.score, tc.elapsed, tc.perDay), "%+v", tc)
	}
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, trust.LevelBlocked, trust.LevelFor(0))
	assert.Equal(t, trust.LevelBlocked, trust.LevelFor(20))
	assert.Equal(t, trust.LevelSuspicious, trust.LevelFor(21))
	assert.Equal(t, trust.LevelSuspicious, trust.LevelFor(40))
	assert.Equal(t, trust.LevelNeutral, trust.LevelFor(41))
	assert.Equal(t, trust.LevelNeutral, trust.LevelFor(69))
	assert.Equal(t, trust.LevelTrusted, trust.LevelFor(70))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, trust.Config{Deltas: map[trust.EventType]int{trust.EventCaptchaPass: 8}}.Validate())
	assert.Error(t, trust.Config{Deltas: map[trust.EventType]int{trust.EventCaptchaFail: 4}}.Validate())
	assert.Error(t, trust.Config{Deltas: map[trust.EventType]int{"other": 1}}.Validate())
}
