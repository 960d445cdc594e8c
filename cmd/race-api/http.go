package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/FleetFoot/RacePulse/internal/services/races"
	"github.com/FleetFoot/RacePulse/internal/storage/pgrace"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

func newRouter(svc *races.Service, swaggerPath string) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/races", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Title       string     `json:"title"`
				Category    string     `json:"category"`
				OrganizerID string     `json:"organizerId"`
				DistanceM   float64    `json:"distanceM"`
				OriginLat   float64    `json:"originLat"`
				OriginLon   float64    `json:"originLon"`
				DestLat     float64    `json:"destLat"`
				DestLon     float64    `json:"destLon"`
				ScheduledAt *time.Time `json:"scheduledAt"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			race, err := svc.CreateRace(req.Context(), models.RaceCreateInput{
				Title:       body.Title,
				Category:    body.Category,
				OrganizerID: body.OrganizerID,
				DistanceM:   body.DistanceM,
				OriginLat:   body.OriginLat,
				OriginLon:   body.OriginLon,
				DestLat:     body.DestLat,
				DestLon:     body.DestLon,
				ScheduledAt: body.ScheduledAt,
			})
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusCreated, raceView(race))
		})

		r.Route("/{raceID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				race, err := svc.GetRace(req.Context(), id)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, raceView(race))
			})

			r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				st, err := svc.Status(req.Context(), id)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, st)
			})

			r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				var body struct {
					OrganizerID string `json:"organizerId"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				race, err := svc.StartRace(req.Context(), id, body.OrganizerID)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, raceView(race))
			})

			r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				var body struct {
					OrganizerID string `json:"organizerId"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				if err := svc.CancelRace(req.Context(), id, body.OrganizerID); err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
			})

			r.Get("/participants", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				ps, err := svc.ListParticipants(req.Context(), id)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				out := make([]participantResponse, 0, len(ps))
				for _, p := range ps {
					out = append(out, participantView(p))
				}
				writeJSON(w, http.StatusOK, out)
			})

			r.Get("/participants/{userID}/position", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				userID := chi.URLParam(req, "userID")
				pos, err := svc.MarkerPosition(req.Context(), id, userID)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]float64{"lat": pos.Lat, "lon": pos.Lon})
			})

			r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
				id, err := raceID(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				limit := queryInt(req, "limit", 50)
				offset := queryInt(req, "offset", 0)
				evs, err := svc.ListRaceEvents(req.Context(), id, limit, offset)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				out := make([]eventResponse, 0, len(evs))
				for _, e := range evs {
					out = append(out, eventView(e))
				}
				writeJSON(w, http.StatusOK, out)
			})
		})
	})

	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}

type raceResponse struct {
	ID          uint64     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	StatusID    int32      `json:"statusId"`
	Category    string     `json:"category"`
	OrganizerID string     `json:"organizerId"`
	DistanceM   float64    `json:"distanceM"`
	OriginLat   float64    `json:"originLat"`
	OriginLon   float64    `json:"originLon"`
	DestLat     float64    `json:"destLat"`
	DestLon     float64    `json:"destLon"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	DeadlineAt  *time.Time `json:"deadlineAt,omitempty"`
}

func raceView(r *models.Race) raceResponse {
	return raceResponse{
		ID:          r.ID,
		Title:       r.Title,
		Status:      r.Status.String(),
		StatusID:    int32(r.Status),
		Category:    r.Category,
		OrganizerID: r.OrganizerID,
		DistanceM:   r.DistanceM,
		OriginLat:   r.OriginLat,
		OriginLon:   r.OriginLon,
		DestLat:     r.DestLat,
		DestLon:     r.DestLon,
		ScheduledAt: r.ScheduledAt,
		DeadlineAt:  r.DeadlineAt,
	}
}

type participantResponse struct {
	UserID      string  `json:"userId"`
	DistanceM   float64 `json:"distanceM"`
	RemainingM  float64 `json:"remainingM"`
	Rank        int     `json:"rank"`
	IsCompleted bool    `json:"isCompleted"`
}

func participantView(p *models.Participant) participantResponse {
	return participantResponse{
		UserID:      p.UserID,
		DistanceM:   p.DistanceM,
		RemainingM:  p.RemainingM,
		Rank:        p.Rank,
		IsCompleted: p.IsCompleted,
	}
}

type eventResponse struct {
	Kind        string    `json:"kind"`
	UserID      string    `json:"userId,omitempty"`
	OtherUserID *string   `json:"otherUserId,omitempty"`
	Rank        int       `json:"rank,omitempty"`
	OldRank     int       `json:"oldRank,omitempty"`
	Milestone   int       `json:"milestone,omitempty"`
	Ordinal     int       `json:"ordinal,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func eventView(e *models.RaceEvent) eventResponse {
	return eventResponse{
		Kind:        e.Kind,
		UserID:      e.UserID,
		OtherUserID: e.OtherUserID,
		Rank:        e.Rank,
		OldRank:     e.OldRank,
		Milestone:   e.Milestone,
		Ordinal:     e.Ordinal,
		OccurredAt:  e.OccurredAt,
	}
}

func raceID(req *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(req, "raceID"), 10, 64)
	if err != nil {
		return 0, errors.New("raceID must be a positive integer")
	}
	return id, nil
}

func queryInt(req *http.Request, name string, def int) int {
	v := req.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, pgrace.ErrRaceNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}
