package httpcontroller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/zaz600/go-status-collector/internal/entity"
	"github.com/zaz600/go-status-collector/internal/service/collector"
	"github.com/zaz600/go-status-collector/internal/service/ingest"
)

const statusReceived = "Status received"

type StatusController struct {
	*chi.Mux
	collectorService *collector.Service
	gatherer         prometheus.Gatherer
}

func New(collectorService *collector.Service, gatherer prometheus.Gatherer) *StatusController {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	c := &StatusController{
		Mux:              chi.NewRouter(),
		collectorService: collectorService,
		gatherer:         gatherer,
	}
	c.setupHandlers()
	return c
}

// setupHandlers настройка роутинга и middleware
func (s StatusController) setupHandlers() {
	s.Use(middleware.RequestID)
	s.Use(middleware.RealIP)
	s.Use(middleware.Logger)
	s.Use(middleware.Recoverer)
	s.Use(middleware.Timeout(10 * time.Second))
	s.Use(middleware.Compress(5))
	s.Use(GzDecompressor)

	s.Route("/client", func(r chi.Router) {
		r.Post("/status", s.ReceiveStatus())
		r.Post("/status/batch", s.ReceiveStatusBatch())
	})
	s.Get("/ping", s.Ping())
	s.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.Mount("/debug", middleware.Profiler())
}

// ReceiveStatus возвращает http.HandlerFunc для приема отчета клиента.
// Отчет передается в http Body в виде JSON в формате StatusRequest.
// Ответ 202 означает, что отчет принят в очередь, а не записан в БД.
func (s StatusController) ReceiveStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decoder := json.NewDecoder(r.Body)
		var request StatusRequest
		err := decoder.Decode(&request)
		if err != nil {
			http.Error(w, "invalid request params", http.StatusBadRequest)
			return
		}

		report := request.toEntity()
		log.Debug().Str("client_id", report.ClientID).Msg("status from client")
		err = s.collectorService.Submit(r.Context(), report)
		if err != nil {
			s.writeSubmitError(w, r, err)
			return
		}
		writeAnswer(w, "text/plain", http.StatusAccepted, statusReceived)
	}
}

// ReceiveStatusBatch возвращает http.HandlerFunc для приема пачки отчетов.
// Запрос передается в формате JSON в виде StatusBatchRequest, отчеты ставятся в очередь в порядке массива.
// Ответ возвращается в формате JSON в виде StatusBatchResponse.
func (s StatusController) ReceiveStatusBatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decoder := json.NewDecoder(r.Body)
		var request StatusBatchRequest
		err := decoder.Decode(&request)
		if err != nil {
			log.Warn().Err(err).Msg("")
			http.Error(w, "invalid request params", http.StatusBadRequest)
			return
		}

		reports := make([]entity.StatusReport, 0, len(request))
		for _, item := range request {
			reports = append(reports, item.toEntity())
		}

		accepted, err := s.collectorService.SubmitBatch(r.Context(), reports)
		resp := StatusBatchResponse{Accepted: accepted}
		statusHeader := http.StatusAccepted
		if err != nil {
			var invalidErr *collector.InvalidReportError
			if errors.As(err, &invalidErr) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			log.Warn().Err(err).Int("accepted", accepted).Int("total", len(reports)).Msg("batch partially accepted")
			resp.Error = submitErrorText(err)
			statusHeader = http.StatusServiceUnavailable
		}

		data, err := json.Marshal(resp)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeAnswer(w, "application/json", statusHeader, string(data))
	}
}

// Ping -
func (s StatusController) Ping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.collectorService.Status(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("storage status")
			http.Error(w, "storage connection error", http.StatusInternalServerError)
			return
		}
		writeAnswer(w, "text/plain", http.StatusOK, "connected")
	}
}

func (s StatusController) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrEmptyClientID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ingest.ErrQueueClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		log.Warn().Err(err).Str("remote_ip", r.RemoteAddr).Msg("status not accepted")
		http.Error(w, submitErrorText(err), http.StatusServiceUnavailable)
	default:
		log.Warn().Err(err).Msg("")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func submitErrorText(err error) string {
	if errors.Is(err, ingest.ErrQueueClosed) {
		return "service is shutting down"
	}
	return "queue is full, try again later"
}

// writeAnswer обертка для упрощения записи ответа на запросы
func writeAnswer(w http.ResponseWriter, contentType string, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	_, _ = fmt.Fprint(w, data)
}
