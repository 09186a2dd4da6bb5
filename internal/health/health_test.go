package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

var now = time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

func cronLog(ago time.Duration, status string, saved int) db.CronLog {
	l := db.CronLog{ExecutedAt: now.Add(-ago), Status: status, PlaysSaved: saved}
	if status == db.CronFailed {
		msg := "boom"
		l.ErrorMessage = &msg
	}
	return l
}

func TestSummarize_NoData(t *testing.T) {
	r := Summarize(now, nil, nil, 0, nil, 0)

	assert.Equal(t, "healthy", r.Status)
	assert.Equal(t, 100.0, r.Uptime.Percentage)
	assert.Zero(t, r.Uptime.Last24h)
	assert.Nil(t, r.Cron.LastRun)
	assert.Nil(t, r.Cron.MinutesSinceLastRun)
	assert.Equal(t, StatusActive, r.Cron.Status)
	assert.Nil(t, r.Database.LastSnapshot)
	assert.Empty(t, r.DailyUptime)
	assert.NotNil(t, r.FailedJobs)
	assert.NotNil(t, r.Cron.History)
}

func TestSummarize_Uptime(t *testing.T) {
	logs := []db.CronLog{
		cronLog(5*time.Minute, db.CronSuccess, 3),
		cronLog(10*time.Minute, db.CronSuccess, 0),
		cronLog(15*time.Minute, db.CronFailed, 0),
		cronLog(30*time.Hour, db.CronFailed, 0),
	}
	last := &db.Play{CreatedAt: now.Add(-5 * time.Minute)}

	r := Summarize(now, logs, last, 42, nil, 0)

	assert.Equal(t, 3, r.Uptime.Last24h)
	assert.Equal(t, 2, r.Uptime.Successful)
	assert.Equal(t, 1, r.Uptime.Failed)
	assert.Equal(t, 66.67, r.Uptime.Percentage)
	assert.Equal(t, StatusDegraded, r.Cron.Status, "any failure in 24h degrades")
	assert.Len(t, r.FailedJobs, 2)
	assert.Len(t, r.Cron.History, 4)
	assert.Equal(t, int64(42), r.Database.TotalPlays)

	require.Len(t, r.RecentRuns, 4)
	assert.True(t, r.RecentRuns[0].Success)
	assert.Equal(t, 3, r.RecentRuns[0].Saved)
	assert.False(t, r.RecentRuns[2].Success)
}

func TestSummarize_DailyUptime(t *testing.T) {
	logs := []db.CronLog{
		cronLog(1*time.Hour, db.CronSuccess, 2),
		cronLog(2*time.Hour, db.CronSuccess, 5),
		cronLog(3*time.Hour, db.CronFailed, 9),
		cronLog(13*time.Hour, db.CronSuccess, 1),
	}

	r := Summarize(now, logs, nil, 0, nil, 0)

	assert.Equal(t, Day{Total: 3, Success: 2, Failed: 1, Plays: 7}, r.DailyUptime["2024-06-02"])
	assert.Equal(t, Day{Total: 1, Success: 1, Plays: 1}, r.DailyUptime["2024-06-01"])
}

func TestSummarize_CronStatus(t *testing.T) {
	tests := []struct {
		name     string
		lastPlay time.Duration
		delay    time.Duration
		want     string
		minutes  int
	}{
		{"recent run", 4 * time.Minute, 0, StatusActive, 4},
		{"at threshold", 10*time.Minute + 30*time.Second, 0, StatusActive, 10},
		{"delayed", 11 * time.Minute, 0, StatusDelayed, 11},
		{"custom threshold", 11 * time.Minute, 15 * time.Minute, StatusActive, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := &db.Play{CreatedAt: now.Add(-tt.lastPlay)}
			r := Summarize(now, []db.CronLog{cronLog(time.Minute, db.CronSuccess, 1)}, last, 1, nil, tt.delay)

			assert.Equal(t, tt.want, r.Cron.Status)
			require.NotNil(t, r.Cron.MinutesSinceLastRun)
			assert.Equal(t, tt.minutes, *r.Cron.MinutesSinceLastRun)
			assert.Equal(t, 100.0, r.Uptime.Percentage)
		})
	}
}

func TestSummarize_LastSnapshot(t *testing.T) {
	snap := &db.Snapshot{SnapshotDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	r := Summarize(now, nil, nil, 0, snap, 0)
	require.NotNil(t, r.Database.LastSnapshot)
	assert.Equal(t, "2024-06-01", *r.Database.LastSnapshot)
}

func TestSummarize_CapsRecentRuns(t *testing.T) {
	logs := make([]db.CronLog, 25)
	for i := range logs {
		logs[i] = cronLog(time.Duration(i)*5*time.Minute, db.CronSuccess, 1)
	}
	r := Summarize(now, logs, nil, 0, nil, 0)
	assert.Len(t, r.RecentRuns, recentRuns)
	assert.Len(t, r.Cron.History, 25)
}

type fakeStores struct {
	last     *db.Play
	count    int64
	snap     *db.Snapshot
	logs     []db.CronLog
	countErr error
	since    time.Time
}

func (f *fakeStores) LastCreated(context.Context, string) (*db.Play, error) {
	if f.last == nil {
		return nil, db.ErrNotFound
	}
	return f.last, nil
}

func (f *fakeStores) Count(context.Context, string) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeStores) Latest(context.Context, string) (*db.Snapshot, error) {
	if f.snap == nil {
		return nil, db.ErrNotFound
	}
	return f.snap, nil
}

func (f *fakeStores) Since(_ context.Context, t time.Time) ([]db.CronLog, error) {
	f.since = t
	return f.logs, nil
}

func TestService_Report(t *testing.T) {
	f := &fakeStores{
		last:  &db.Play{CreatedAt: now.Add(-2 * time.Minute)},
		count: 1200,
		logs:  []db.CronLog{cronLog(2*time.Minute, db.CronSuccess, 1)},
	}
	svc := NewService("u1", f, f, f, WithClock(func() time.Time { return now }))

	r, err := svc.Report(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1200), r.Database.TotalPlays)
	assert.Nil(t, r.Database.LastSnapshot, "missing snapshot is not an error")
	assert.Equal(t, StatusActive, r.Cron.Status)
	assert.Equal(t, now.Add(-historyWindow), f.since)
}

func TestService_ReportError(t *testing.T) {
	f := &fakeStores{countErr: errors.New("db down")}
	svc := NewService("u1", f, f, f, WithClock(func() time.Time { return now }))

	_, err := svc.Report(context.Background())
	assert.ErrorIs(t, err, f.countErr)
}
