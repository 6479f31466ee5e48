package www

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/angas/powerplan-go/config"
	"github.com/angas/powerplan-go/database"
	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/inverter"
	"github.com/angas/powerplan-go/plan"
)

type Server struct {
	logger *slog.Logger
	config config.AppConfigApi
	db     *database.Database
	inMem  *inverter.InMemData
	hub    *Hub
}

func StartServer(db *database.Database, inMem *inverter.InMemData, config config.AppConfigApi) *Server {
	logger := slog.Default().With("module", "www")

	s := &Server{
		logger: logger,
		config: config,
		db:     db,
		inMem:  inMem,
		hub:    NewHub(logger),
	}

	go s.hub.Run()

	logReqMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
				slog.String("remoteAddr", r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}

	http.Handle("/api/status", logReqMW(NewStatusHandler(
		logger.With(slog.String("handler", "status")),
		s.db,
		s.inMem)))

	http.Handle("/api/plan", logReqMW(NewPlanHandler(
		logger.With(slog.String("handler", "plan")),
		s.db)))

	http.Handle("/api/summary", logReqMW(NewSummaryHandler(
		logger.With(slog.String("handler", "summary")),
		s.db)))

	http.Handle("/api/forecast", logReqMW(NewForecastHandler(
		logger.With(slog.String("handler", "forecast")),
		s.db)))

	http.Handle("/api/log", logReqMW(NewLogHandler(
		logger.With(slog.String("handler", "log")),
		s.db)))

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get("User-Agent")
		client, err := NewClient(s.hub, w, r, name)
		if err != nil {
			s.logger.Error("new websocket client failed", slog.Any("error", err))
			return
		}
		s.hub.Register <- client
		go client.WritePump()
	})

	return s
}

// BroadcastPlan pushes a freshly stored plan to all websocket clients. Wired
// as the planning task's completion callback.
func (s *Server) BroadcastPlan(p *plan.Plan) {
	msg, err := json.Marshal(struct {
		Type string     `json:"type"`
		Plan *plan.Plan `json:"plan"`
	}{Type: "plan", Plan: p})
	if err != nil {
		s.logger.Error("plan broadcast marshalling failed", slog.Any("error", err))
		return
	}
	s.hub.Broadcast <- msg
}

type realTimeData struct {
	Type      string  `json:"type"`
	Healthy   bool    `json:"healthy"`
	Soc       float64 `json:"soc"`
	SolarKw   float64 `json:"solarKw"`
	LoadKw    float64 `json:"loadKw"`
	BatteryKw float64 `json:"batteryKw"`
	GridKw    float64 `json:"gridKw"`
	Mode      string  `json:"mode"`
	CostPence float64 `json:"costPence"`
	PlanFound bool    `json:"planFound"`
}

func (s *Server) Run(ctx context.Context) {
	s.logger.Info("starting server...", "address", s.config.Address, "port", s.config.Port)
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
	}

	srvErrors := make(chan error, 1)

	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(time.Second * 2)
	defer ticker.Stop()

	// Keeping state to avoid spamming logs
	fetchPlanErrorState := false

	for {
		select {
		case err := <-srvErrors:
			if err != nil {
				s.logger.Error("server error", slog.Any("error", err))
			}

		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			if err != nil {
				s.logger.Error("server shutdown failed", slog.Any("error", err))
			}
			return

		case <-ticker.C:
			ds := hours.FromNow()
			data := realTimeData{Type: "telemetry", Mode: plan.ModeSelfUse.String()}

			row, err := s.db.GetPlanSlot(ctx, ds)
			if err != nil {
				if !fetchPlanErrorState {
					fetchPlanErrorState = true
					s.logger.Warn("failed to get plan slot", slog.String("slot", ds.String()), slog.Any("error", err))
				}
			} else {
				fetchPlanErrorState = false
				data.Mode = row.Slot.Mode.String()
				data.CostPence = row.Slot.CostPence
				data.PlanFound = true
			}

			snap := s.inMem.Current()
			data.Healthy = s.inMem.Healthy()
			data.Soc = snap.Soc
			data.SolarKw = snap.SolarKw
			data.LoadKw = snap.LoadKw
			data.BatteryKw = snap.BatteryKw
			data.GridKw = snap.GridKw

			msg, err := json.Marshal(data)
			if err != nil {
				s.logger.Error("telemetry broadcast marshalling failed", slog.Any("error", err))
				continue
			}

			s.hub.Broadcast <- msg
		}
	}
}
