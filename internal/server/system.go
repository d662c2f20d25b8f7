package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type bucketSummary struct {
	Bucket         string  `json:"bucket"`
	TotalShares    int64   `json:"total_shares"`
	TotalAssets    int64   `json:"total_assets"`
	SharePrice     float64 `json:"share_price"`
	PendingDeposit int64   `json:"pending_deposit"`
	PendingShares  int64   `json:"pending_withdraw_shares"`
	BatchReady     bool    `json:"batch_ready"`
}

// handleSystemStatus reports process health and a per-bucket summary
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = vm.UsedPercent
		status["memory_used_mb"] = vm.Used / 1024 / 1024
	}

	summaries := make([]bucketSummary, 0, len(s.vaults))
	for bucket, v := range s.vaults {
		summary := bucketSummary{Bucket: bucket}
		if snapshot, err := v.GetSnapshot(); err == nil {
			summary.TotalShares = snapshot.TotalShares
			summary.TotalAssets = snapshot.TotalAssets
			summary.SharePrice = snapshot.SharePrice
		}
		if q, ok := s.queues[bucket]; ok {
			qs := q.GetStatus()
			summary.PendingDeposit = qs.TotalPendingDeposit
			summary.PendingShares = qs.TotalPendingWithdrawShares
			summary.BatchReady = qs.BatchReady
		}
		summaries = append(summaries, summary)
	}
	status["buckets"] = summaries

	writeJSON(w, http.StatusOK, status)
}
