package monitor

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/circuitbreaker"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
)

// SystemHealth is a process sample taken with each snapshot
type SystemHealth struct {
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heapAllocBytes"`
	HeapSysBytes   uint64  `json:"heapSysBytes"`
	NumGC          uint32  `json:"numGc"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

// Snapshot is a persisted point-in-time view of the engine
type Snapshot struct {
	ID        string                    `json:"id"`
	Timestamp time.Time                 `json:"timestamp"`
	Metrics   model.DistributionMetrics `json:"metrics"`
	Queue     model.QueueStatus         `json:"queue"`
	Circuit   circuitbreaker.Snapshot   `json:"circuitBreaker"`
	Latency   LatencySummary            `json:"latency"`
	Health    SystemHealth              `json:"health"`
	Alerts    []Alert                   `json:"alerts"`
}

func readHealth(uptime time.Duration) SystemHealth {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemHealth{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		NumGC:          ms.NumGC,
		UptimeSeconds:  uptime.Seconds(),
	}
}

// TakeSnapshot records a snapshot into the ring and forwards it to the notifier
func (s *Service) TakeSnapshot() Snapshot {
	smp := s.sample()

	s.mu.Lock()
	snap := Snapshot{
		ID:        uuid.NewString(),
		Timestamp: smp.at,
		Metrics:   smp.metrics,
		Queue:     smp.queue,
		Circuit:   smp.circuit,
		Latency:   smp.latency,
		Health:    readHealth(smp.at.Sub(s.startedAt)),
		Alerts:    s.activeLocked(),
	}
	s.snapshots = append(s.snapshots, snap)
	if over := len(s.snapshots) - snapshotLimit; over > 0 {
		s.snapshots = append([]Snapshot(nil), s.snapshots[over:]...)
	}
	s.mu.Unlock()

	s.snapshotsTotal.Inc()
	logrus.WithFields(logrus.Fields{
		"snapshot_id": snap.ID,
		"completed":   snap.Metrics.CompletedTasks,
		"alerts":      len(snap.Alerts),
	}).Debug("Metrics snapshot taken")
	if s.notifier != nil {
		s.notifier.NotifySnapshot(snap)
	}
	return snap
}

// GetSnapshots returns up to limit of the most recent snapshots, oldest first.
// A limit of zero or less returns the whole ring.
func (s *Service) GetSnapshots(limit int) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(s.snapshots) {
		start = len(s.snapshots) - limit
	}
	return append([]Snapshot(nil), s.snapshots[start:]...)
}

// GetLatestSnapshot returns the most recent snapshot
func (s *Service) GetLatestSnapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}
