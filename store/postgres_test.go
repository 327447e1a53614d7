package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestLoadEncodeTaskNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	s := NewPostgresStoreFromDB(db)
	_, err = s.LoadEncodeTask(context.Background(), 1)
	require.Error(t, err)
}

func TestUpdateEncodeTaskProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE encode_tasks SET").
		WithArgs(int64(1), "worker-a", 42.5, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), StatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStoreFromDB(db)
	fps := 30.0
	err = s.UpdateEncodeTaskProgress(context.Background(), 1, ProgressUpdate{
		Worker:   "worker-a",
		Progress: 42.5,
		FPS:      &fps,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePooledMetricRejectsUnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStoreFromDB(db)
	err = s.CreatePooledMetric(context.Background(), PooledMetric{TaskID: 1, Metric: "bogus"})
	require.ErrorContains(t, err, "unknown pooled metric")
}

func TestGetPooledMetricRejectsUnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStoreFromDB(db)
	_, err = s.GetPooledMetric(context.Background(), 1, "bogus")
	require.ErrorContains(t, err, "unknown pooled metric")
}

func TestGetPooledMetricNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT min, max").WillReturnError(sql.ErrNoRows)

	s := NewPostgresStoreFromDB(db)
	_, err = s.GetPooledMetric(context.Background(), 1, MetricVMAF)
	require.Error(t, err)
}

func TestCreateFramesIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM frames").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("INSERT INTO frames")
	mock.ExpectExec("INSERT INTO frames").WithArgs(int64(7), 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresStoreFromDB(db)
	vmaf := 95.5
	err = s.CreateFrames(context.Background(), 7, []Frame{{FrameNum: 1, VMAF: &vmaf}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
