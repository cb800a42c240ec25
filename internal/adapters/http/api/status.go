package api

import (
	"net/http"

	service "github.com/okian/geoheat/internal/app"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/domain/types"
)

// StatusHandler reports pipeline state.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// HandleStatus handles GET /status requests.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(h.provider.Status()))
}

func toStatus(st service.Status) types.Status { //nolint:gocritic // hugeParam: snapshot copy
	out := types.Status{
		Metrics:       st.Counts,
		LatestWindows: types.WindowMap(st.LatestWindows),
	}
	if st.LastIngestAt != nil {
		ts := model.FormatTimestamp(*st.LastIngestAt)
		out.LastIngestAt = &ts
	}
	if st.Background != nil {
		out.BackgroundIngestion = &types.BackgroundIngestion{
			IntervalSeconds: st.Background.Interval.Seconds(),
			BatchSize:       st.Background.BatchSize,
			Active:          st.Background.Active,
		}
	}
	return out
}
