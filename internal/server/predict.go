package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/pkg/models"
	"go.uber.org/zap"
)

// maxPredictBody caps request bodies; a window of a few thousand rows of a
// handful of channels fits comfortably.
const maxPredictBody = 8 << 20

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.det == nil {
		ModelUnavailable(w, r.URL.Path)
		return
	}

	var req models.PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			BadRequest(w, "request body too large", r.URL.Path)
			return
		}
		BadRequest(w, "invalid request body: "+err.Error(), r.URL.Path)
		return
	}

	out := s.det.Predict(req.SensorID, req.Window())
	if !out.Ok() {
		s.writeFailure(w, r, out.Err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewPrediction(out.Result))
}

// writeFailure maps a detector failure onto a problem response.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, f *detector.Failure) {
	switch f.Kind {
	case detector.MalformedInput:
		BadRequest(w, f.Message, r.URL.Path)
	case detector.NaNDistance:
		Unprocessable(w, f.Message, r.URL.Path)
	case detector.StreamLimit:
		TooManyStreams(w, f.Message, r.URL.Path)
	case detector.ModelUnavailable:
		ModelUnavailable(w, r.URL.Path)
	default:
		s.logger.Error("unexpected prediction failure",
			zap.String("sensor_id", f.StreamID),
			zap.String("kind", string(f.Kind)),
			zap.String("error", f.Message),
			zap.String("request_id", RequestID(r.Context())),
		)
		InternalError(w, "prediction failed", r.URL.Path)
	}
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if s.det == nil {
		ModelUnavailable(w, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, models.NewModelSummary(s.det.Artifact()))
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	if s.det == nil {
		ModelUnavailable(w, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s.det.Streams())
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	if s.det == nil {
		ModelUnavailable(w, r.URL.Path)
		return
	}
	id := r.PathValue("id")
	st, ok := s.det.Stream(id)
	if !ok {
		NotFound(w, "unknown stream "+id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, models.NewStreamState(st))
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	if s.det == nil {
		ModelUnavailable(w, r.URL.Path)
		return
	}
	id := r.PathValue("id")
	if !s.det.Remove(id) {
		NotFound(w, "unknown stream "+id, r.URL.Path)
		return
	}
	s.logger.Info("stream removed", zap.String("sensor_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetStream(w http.ResponseWriter, r *http.Request) {
	if s.det == nil {
		ModelUnavailable(w, r.URL.Path)
		return
	}
	id := r.PathValue("id")
	if !s.det.Reset(id) {
		NotFound(w, "unknown stream "+id, r.URL.Path)
		return
	}
	s.logger.Info("stream reset", zap.String("sensor_id", id))
	st, _ := s.det.Stream(id)
	writeJSON(w, http.StatusOK, models.NewStreamState(st))
}
