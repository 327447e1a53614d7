package handlers

import (
	"context"
	"fmt"

	"github.com/urban-engineer/sved/errors"
	"github.com/urban-engineer/sved/store"
)

// fakeStore is an in-memory store.Store used across handler tests;
// every method a test doesn't care about is a thin map lookup so test
// setup only needs to populate what that test actually exercises.
type fakeStore struct {
	encodeTasks map[int64]store.EncodeTask
	metricTasks map[int64]store.MetricTask
	pooled      map[string]store.PooledMetric

	sourcePaths           map[int64][2]string
	metricSourcePaths     map[int64][2]string
	metricCompressedPaths map[int64][2]string

	progressUpdates  []store.ProgressUpdate
	downloadingCalls []int64
	requeued         []int64
	requeuedMetric   []int64
	finalized        []int64
	finalizedMetric  []int64
	frames           []store.Frame
	createdPooled    []store.PooledMetric
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		encodeTasks:           map[int64]store.EncodeTask{},
		metricTasks:           map[int64]store.MetricTask{},
		pooled:                map[string]store.PooledMetric{},
		sourcePaths:           map[int64][2]string{},
		metricSourcePaths:     map[int64][2]string{},
		metricCompressedPaths: map[int64][2]string{},
	}
}

func (s *fakeStore) LoadEncodeTask(_ context.Context, id int64) (store.EncodeTask, error) {
	t, ok := s.encodeTasks[id]
	if !ok {
		return store.EncodeTask{}, errors.ErrTaskNotFound
	}
	return t, nil
}

func (s *fakeStore) LoadMetricTask(_ context.Context, id int64) (store.MetricTask, error) {
	t, ok := s.metricTasks[id]
	if !ok {
		return store.MetricTask{}, errors.ErrTaskNotFound
	}
	return t, nil
}

func (s *fakeStore) UpdateEncodeTaskProgress(_ context.Context, id int64, update store.ProgressUpdate) error {
	s.progressUpdates = append(s.progressUpdates, update)
	t := s.encodeTasks[id]
	t.Progress = update.Progress
	t.Worker = update.Worker
	s.encodeTasks[id] = t
	return nil
}

func (s *fakeStore) UpdateMetricTaskProgress(_ context.Context, id int64, update store.ProgressUpdate) error {
	s.progressUpdates = append(s.progressUpdates, update)
	t := s.metricTasks[id]
	t.Progress = update.Progress
	t.Worker = update.Worker
	s.metricTasks[id] = t
	return nil
}

func (s *fakeStore) MarkEncodeTaskDownloading(_ context.Context, id int64, worker string) error {
	s.downloadingCalls = append(s.downloadingCalls, id)
	return nil
}

func (s *fakeStore) MarkMetricTaskSourceDownloading(_ context.Context, id int64, worker string) error {
	s.downloadingCalls = append(s.downloadingCalls, id)
	return nil
}

func (s *fakeStore) MarkMetricTaskCompressedDownloading(_ context.Context, id int64, worker string) error {
	s.downloadingCalls = append(s.downloadingCalls, id)
	return nil
}

func (s *fakeStore) FinalizeEncodeTask(_ context.Context, id int64, worker string, compressed store.File) error {
	s.finalized = append(s.finalized, id)
	t := s.encodeTasks[id]
	t.CompressedFile = &compressed
	t.Status = store.StatusComplete
	s.encodeTasks[id] = t
	return nil
}

func (s *fakeStore) RequeueEncodeTask(_ context.Context, id int64) error {
	s.requeued = append(s.requeued, id)
	t := s.encodeTasks[id]
	t.Status = store.StatusQueued
	s.encodeTasks[id] = t
	return nil
}

func (s *fakeStore) RequeueMetricTask(_ context.Context, id int64) error {
	s.requeuedMetric = append(s.requeuedMetric, id)
	t := s.metricTasks[id]
	t.Status = store.StatusQueued
	s.metricTasks[id] = t
	return nil
}

func (s *fakeStore) CreateFrames(_ context.Context, taskID int64, frames []store.Frame) error {
	s.frames = append(s.frames, frames...)
	return nil
}

func (s *fakeStore) CreatePooledMetric(_ context.Context, metric store.PooledMetric) error {
	s.createdPooled = append(s.createdPooled, metric)
	s.pooled[pooledKey(metric.TaskID, metric.Metric)] = metric
	return nil
}

func (s *fakeStore) GetPooledMetric(_ context.Context, taskID int64, metric string) (store.PooledMetric, error) {
	m, ok := s.pooled[pooledKey(taskID, metric)]
	if !ok {
		return store.PooledMetric{}, errors.ErrTaskNotFound
	}
	return m, nil
}

func (s *fakeStore) FinalizeMetricReport(_ context.Context, id int64, worker string) error {
	s.finalizedMetric = append(s.finalizedMetric, id)
	t := s.metricTasks[id]
	t.Status = store.StatusComplete
	s.metricTasks[id] = t
	return nil
}

func (s *fakeStore) CreateFile(_ context.Context, f store.File) (store.File, error) {
	return f, nil
}

func (s *fakeStore) GetEncodeSourcePath(_ context.Context, id int64) (string, string, error) {
	p, ok := s.sourcePaths[id]
	if !ok {
		return "", "", errors.ErrTaskNotFound
	}
	return p[0], p[1], nil
}

func (s *fakeStore) GetMetricSourcePath(_ context.Context, id int64) (string, string, error) {
	p, ok := s.metricSourcePaths[id]
	if !ok {
		return "", "", errors.ErrTaskNotFound
	}
	return p[0], p[1], nil
}

func (s *fakeStore) GetMetricCompressedPath(_ context.Context, id int64) (string, string, error) {
	p, ok := s.metricCompressedPaths[id]
	if !ok {
		return "", "", errors.ErrTaskNotFound
	}
	return p[0], p[1], nil
}

func pooledKey(taskID int64, metric string) string {
	return fmt.Sprintf("%d:%s", taskID, metric)
}
