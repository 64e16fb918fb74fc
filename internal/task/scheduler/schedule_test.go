package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "lulubot/pkg/logx"
)

func TestParseScheduleForms(t *testing.T) {
	cases := []struct {
		raw   string
		every time.Duration
		cron  string
	}{
		{raw: "60m", every: time.Hour},            // post batch default
		{raw: "15m", every: 15 * time.Minute},     // stale sweep default
		{raw: " 1h30m ", every: 90 * time.Minute}, // whitespace trimmed
		{raw: "01:30", every: 90 * time.Minute},   // HH:MM interval
		{raw: "@every 10m", every: 10 * time.Minute},
		{raw: "0 */2 * * *", cron: "0 */2 * * *"},
		{raw: "@hourly", cron: "@hourly"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseSchedule(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.every, got.Every)
			assert.Equal(t, tc.cron, got.Cron)
			assert.Equal(t, tc.every > 0, got.IsInterval())
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	for _, raw := range []string{"", "whenever", "sometimes", "0s", "500ms", "01:5", "01:75", "00:00", "61 * * * *", "@weekdays"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestCronSpec(t *testing.T) {
	s, err := ParseSchedule("15m")
	require.NoError(t, err)
	assert.Equal(t, "@every 15m0s", s.cronSpec())

	s, err = ParseSchedule("30 4 * * *")
	require.NoError(t, err)
	assert.Equal(t, "30 4 * * *", s.cronSpec())
}

func TestSpreadOffsetIsStableAndBounded(t *testing.T) {
	a := spreadOffset("stale-sweep", 15*time.Minute)
	assert.Equal(t, a, spreadOffset("stale-sweep", 15*time.Minute))
	assert.Less(t, a, maxStartupSpread)
	assert.GreaterOrEqual(t, a, time.Duration(0))

	assert.Less(t, spreadOffset("post-batch", 5*time.Second), 5*time.Second)
	assert.Zero(t, spreadOffset("x", 0))
}

func TestSpreadDelaysOnlyFirstFiring(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sched, off := spreadSchedule("stale-sweep", 15*time.Minute, now)
	first := sched.Next(now)
	assert.Equal(t, now.Add(15*time.Minute+off), first)
	assert.Equal(t, first.Add(15*time.Minute), sched.Next(first))
}

func TestSpreadScheduleRegistersWithOffset(t *testing.T) {
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.AddScheduleOpt("stale-sweep", "15m", time.Minute, Options{StartupSpread: true},
		func(ctx context.Context) error { return nil }))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	next := s.Next("stale-sweep")
	require.False(t, next.IsZero())
	wait := time.Until(next)
	assert.Greater(t, wait, 14*time.Minute)
	assert.LessOrEqual(t, wait, 15*time.Minute+maxStartupSpread)
}
