package apiclient

import (
	"time"

	"strawberrytrace/internal/models"
)

// Deterministic sample data served when the mock fallback is enabled and the
// backend is unreachable. Ten plants, so disconnected demos still have a
// dashboard worth looking at.
func mockStrawberries() []models.Strawberry {
	base := []models.Strawberry{
		{QRCode: "SB_20251204_192815_01A789C8", Status: "active", CreatedAt: "2025-12-04 19:28:15"},
		{QRCode: "SB_20251204_192812_D9AE83B8", Status: "active", CreatedAt: "2025-12-04 19:28:12"},
		{QRCode: "SB_20251204_192810_7D838FCD", Status: "active", CreatedAt: "2025-12-04 19:28:10"},
		{QRCode: "SB_20251204_140338_41453193", Status: "active", CreatedAt: "2025-12-04 14:03:38"},
		{QRCode: "SB_20251009_103144_F6C46F2B", Status: "active", CreatedAt: "2025-10-09 10:31:44", LatestRecordedAt: "2025-12-04 13:05:46"},
		{QRCode: "SB_20251009_102109_016C91D9", Status: "active", CreatedAt: "2025-10-09 10:21:09"},
		{QRCode: "ST_20251009_101958_61756E5E", Status: "active", CreatedAt: "2025-10-09 10:19:58", LatestRecordedAt: "2025-12-04 12:09:25"},
		{QRCode: "SB_20251009_100211_82EC1F50", Status: "inactive", CreatedAt: "2025-10-09 10:02:11"},
		{QRCode: "ST_20251009_095652_5FA03EC0", Status: "inactive", CreatedAt: "2025-10-09 09:56:52"},
		{QRCode: "SB_20251009_095001_24672594", Status: "inactive", CreatedAt: "2025-10-09 09:50:01", LatestRecordedAt: "2025-12-04 14:04:53"},
	}
	for i := range base {
		base[i].ID = 20 - i
	}
	return base
}

func mockStrawberryResponse(opts ListOptions) models.Response[[]models.Strawberry] {
	all := mockStrawberries()
	filtered := all[:0]
	for _, s := range all {
		if opts.Status != "" && s.EffectiveStatus() != opts.Status {
			continue
		}
		filtered = append(filtered, s)
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return models.Response[[]models.Strawberry]{
		Success:   true,
		Message:   "mock",
		Data:      filtered,
		Timestamp: time.Now().Format(models.TimeLayout),
	}
}

func mockStatisticsResponse() models.Response[models.Statistics] {
	all := mockStrawberries()
	statusCounts := map[string]int{}
	for _, s := range all {
		statusCounts[s.EffectiveStatus()]++
	}
	stats := models.Statistics{
		TotalStrawberries:    len(all),
		TotalRecords:         12,
		TodayNewStrawberries: 1,
		WeekNewStrawberries:  1,
		StatusCounts:         statusCounts,
		GrowthStageCounts:    map[string]int{"seedling": 2, "flowering": 3, "fruiting": 3, "ripening": 1, "mature": 1},
		HealthStatusCounts:   map[string]int{"healthy": 6, "warning": 3, "sick": 1},
	}
	return models.Response[models.Statistics]{
		Success:   true,
		Message:   "mock",
		Data:      stats,
		Timestamp: time.Now().Format(models.TimeLayout),
	}
}
