package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/filter-control/internal/history"
)

// History is the query side of the change record. *history.Store
// implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HistoryJSON is the JSON representation of recent attenuation changes.
type HistoryJSON struct {
	Changes []ChangeJSON `json:"changes"`
}

// ChangeJSON is one stored attenuation change.
type ChangeJSON struct {
	ID          int64  `json:"id"`
	RunID       string `json:"run_id"`
	Timestamp   string `json:"timestamp"`
	FrameNumber int64  `json:"frame_number"`
	From        int    `json:"from"`
	To          int    `json:"to"`
	Adjustment  int    `json:"adjustment"`
	Cause       string `json:"cause"`
	DurationMs  int64  `json:"duration_ms"`
}

func formatHistory(records []history.Record) []byte {
	hj := HistoryJSON{Changes: make([]ChangeJSON, len(records))}
	for i, r := range records {
		hj.Changes[i] = ChangeJSON{
			ID:          r.ID,
			RunID:       r.RunID,
			Timestamp:   r.Time.UTC().Format(time.RFC3339Nano),
			FrameNumber: r.FrameNumber,
			From:        r.From,
			To:          r.To,
			Adjustment:  r.Adjustment,
			Cause:       r.Cause,
			DurationMs:  r.Duration.Milliseconds(),
		}
	}
	data, _ := json.MarshalIndent(hj, "", "  ")
	return data
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("web: history query: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatHistory(records))
}
