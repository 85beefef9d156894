package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return mock, store
}

func testJob() crawler.Job {
	start := time.Unix(1700000000, 0).UTC()
	return crawler.NewJob("abc123", "https://example.com/", "example.com",
		crawler.Limits{MaxDistance: 2, MaxSeconds: 300, MaxURLs: 10}, start)
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_claims").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsJob(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	job := testJob()
	args := []any{
		job.ID, job.RootURL, job.ScopeDomain,
		job.Limits.MaxDistance, job.Limits.MaxSeconds, job.Limits.MaxURLs,
		job.StartTime, job.LastModified, int64(0), 0, "none", "active",
	}
	mock.ExpectExec("INSERT INTO crawl_jobs").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crawl_jobs").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.Create(context.Background(), job))
	require.ErrorIs(t, store.Create(context.Background(), job), crawler.ErrJobExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadScansJob(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	job := testJob()
	job.NumPages = 3
	job.MaxDistanceSeen = 1
	job.LastModified = job.StartTime.Add(time.Minute)

	rows := pgxmock.NewRows([]string{
		"root_url", "scope_domain", "max_distance", "max_seconds", "max_urls",
		"start_time", "last_modified", "num_pages", "max_distance_seen", "stop_reason", "status",
	}).AddRow(
		job.RootURL, job.ScopeDomain, 2, 300, 10,
		job.StartTime, job.LastModified, int64(3), 1, "none", "active",
	)
	mock.ExpectQuery(regexp.QuoteMeta(selectJobSQL)).WithArgs(job.ID).WillReturnRows(rows)

	got, err := store.Read(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadMissingJob(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectJobSQL)).WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"root_url"}))

	_, err := store.Read(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(deleteJobSQL)).WithArgs("abc123").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteJobSQL)).WithArgs("abc123").WillReturnError(errors.New("conn reset"))

	require.NoError(t, store.Delete(context.Background(), "abc123"))
	require.ErrorContains(t, store.Delete(context.Background(), "abc123"), "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementPages(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(incrementSQL)).WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{"num_pages"}).AddRow(int64(4)))
	mock.ExpectQuery(regexp.QuoteMeta(incrementSQL)).WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"num_pages"}))

	n, err := store.IncrementPages(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, uint64(4), n)

	_, err = store.IncrementPages(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchAndObserve(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	at := time.Unix(1700000100, 0).UTC()
	mock.ExpectExec(regexp.QuoteMeta(touchSQL)).WithArgs("abc123", at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(observeSQL)).WithArgs("abc123", 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(touchSQL)).WithArgs("missing", at).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Touch(context.Background(), "abc123", at))
	require.NoError(t, store.ObserveDistance(context.Background(), "abc123", 2))
	require.ErrorIs(t, store.Touch(context.Background(), "missing", at), crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryStop(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(tryStopSQL)).
		WithArgs("abc123", "stopped", "max_urls", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	won, err := store.TryStop(ctx, "abc123", crawler.StopReasonMaxURLs)
	require.NoError(t, err)
	require.True(t, won)

	mock.ExpectExec(regexp.QuoteMeta(tryStopSQL)).
		WithArgs("abc123", "stopped", "timeout", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta(jobExistsSQL)).WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	won, err = store.TryStop(ctx, "abc123", crawler.StopReasonTimeout)
	require.NoError(t, err)
	require.False(t, won)

	mock.ExpectExec(regexp.QuoteMeta(tryStopSQL)).
		WithArgs("missing", "stopped", "timeout", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta(jobExistsSQL)).WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = store.TryStop(ctx, "missing", crawler.StopReasonTimeout)
	require.ErrorIs(t, err, crawler.ErrJobNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmit(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	ctx := context.Background()
	url := "https://example.com/a"

	mock.ExpectExec("INSERT INTO crawl_claims").WithArgs("abc123", url).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crawl_claims").WithArgs("abc123", url).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("INSERT INTO crawl_claims").WithArgs("abc123", url).WillReturnError(errors.New("conn reset"))

	ok, err := store.Admit(ctx, "abc123", url)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Admit(ctx, "abc123", url)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Admit(ctx, "abc123", url)
	require.ErrorContains(t, err, "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
