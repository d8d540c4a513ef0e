package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/internal/trigger"
	"github.com/3leaps/pokefantasia/pkg/jobstore"
	"github.com/3leaps/pokefantasia/pkg/provider"
	"github.com/3leaps/pokefantasia/pkg/storekey"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

const maxSubmitBody = 32 << 20

type submitRequest struct {
	Filename     string `json:"filename"`
	Data         string `json:"data"`
	TargetType   string `json:"target_type,omitempty"`
	TargetFormat string `json:"target_format,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit accepts a job: validate everything, then create the row,
// write the source artifact, and publish the trigger event, in that
// order. Validation failures must leave no state behind.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, err := strconv.ParseInt(chi.URLParam(r, "ownerid"), 10, 64)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "invalid owner id: %s", chi.URLParam(r, "ownerid"))
		return
	}

	kind, err := variant.ParseKind(chi.URLParam(r, "action"))
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "%s", err.Error())
		return
	}

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := dec.Decode(&req); err != nil {
		s.writeText(w, http.StatusBadRequest, "invalid request body: %s", err.Error())
		return
	}

	params := variant.Params{
		Kind:         kind,
		TargetType:   strings.ToLower(req.TargetType),
		TargetFormat: req.TargetFormat,
	}
	if err := params.Validate(); err != nil {
		s.writeText(w, http.StatusBadRequest, "%s", err.Error())
		return
	}

	owner, err := s.ownerByID(r, ownerID)
	if err != nil {
		if errors.Is(err, jobstore.ErrUnknownOwner) {
			s.writeText(w, http.StatusBadRequest, "no such user: %d", ownerID)
			return
		}
		s.serverError(w, r, "look up owner", err)
		return
	}

	sourceKey, err := storekey.SourceKey(owner.Username, req.Filename)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "%s", err.Error())
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "invalid image payload: %s", err.Error())
		return
	}
	if len(payload) == 0 {
		s.writeText(w, http.StatusBadRequest, "empty image payload")
		return
	}

	class, err := variant.BackendClassFor(kind)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "%s", err.Error())
		return
	}
	buckets, ok := s.buckets[class]
	if !ok {
		s.serverError(w, r, "resolve buckets", errors.New("no buckets for backend class "+string(class)))
		return
	}

	// Row first, object second: a trigger can then never arrive for an
	// object without a row to correlate against.
	jobID, err := s.jobs.Create(ctx, ownerID, req.Filename, sourceKey, class)
	if err != nil {
		if errors.Is(err, jobstore.ErrUnknownOwner) {
			s.writeText(w, http.StatusBadRequest, "no such user: %d", ownerID)
			return
		}
		s.serverError(w, r, "create job", err)
		return
	}

	opts := provider.PutOptions{
		ContentType: "image/jpeg",
		Metadata:    params.Metadata(),
	}
	if err := buckets.Source.PutObject(ctx, sourceKey, bytes.NewReader(payload), int64(len(payload)), opts); err != nil {
		s.serverError(w, r, "store source artifact", err)
		return
	}

	ev := trigger.Event{Class: class, Key: sourceKey, Metadata: params.Metadata()}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.serverError(w, r, "publish trigger event", err)
		return
	}

	s.logger.Info("job submitted",
		zap.Int64("job_id", jobID),
		zap.Int64("owner_id", ownerID),
		zap.String("class", string(class)),
		zap.String("source_key", sourceKey))
	s.writeJSON(w, http.StatusOK, map[string]int64{"jobid": jobID})
}

// handleStatus reports job state through the coded polling protocol:
// 480 uploaded, 481 processing, 482 error, 200 with the result body.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := chi.URLParam(r, "jobid")
	jobID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "no such job: %s", raw)
		return
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			s.writeText(w, http.StatusBadRequest, "no such job: %d", jobID)
			return
		}
		s.serverError(w, r, "load job", err)
		return
	}

	switch job.Status {
	case jobstore.StatusUploaded:
		s.writeText(w, StatusJobUploaded, "uploaded")
	case jobstore.StatusProcessing:
		s.writeText(w, StatusJobProcessing, "processing")
	case jobstore.StatusError:
		s.writeErrorOutcome(w, r, job)
	case jobstore.StatusCompleted:
		s.writeCompletedOutcome(w, r, job)
	default:
		s.serverError(w, r, "map job status", errors.New("unknown status "+string(job.Status)))
	}
}

func (s *Server) writeErrorOutcome(w http.ResponseWriter, r *http.Request, job *jobstore.JobView) {
	if job.ResultKey == "" {
		s.writeText(w, StatusJobError, "error: unknown")
		return
	}

	buckets, ok := s.buckets[job.BackendClass]
	if !ok {
		s.writeText(w, StatusJobError, "error: unknown")
		return
	}
	text, err := provider.GetBytes(r.Context(), buckets.Output, job.ResultKey)
	if err != nil {
		s.logger.Warn("error artifact unreadable",
			zap.Int64("job_id", job.JobID),
			zap.String("result_key", job.ResultKey),
			zap.Error(err))
		s.writeText(w, StatusJobError, "error: unknown")
		return
	}
	line := firstLine(string(text))
	if line == "" {
		s.writeText(w, StatusJobError, "error: unknown, results file was empty")
		return
	}
	s.writeText(w, StatusJobError, "error: %s", line)
}

func (s *Server) writeCompletedOutcome(w http.ResponseWriter, r *http.Request, job *jobstore.JobView) {
	buckets, ok := s.buckets[job.BackendClass]
	if !ok {
		s.serverError(w, r, "resolve buckets", errors.New("no buckets for backend class "+string(job.BackendClass)))
		return
	}
	artifact, err := provider.GetBytes(r.Context(), buckets.Output, job.ResultKey)
	if err != nil {
		s.serverError(w, r, "load result artifact", err)
		return
	}

	encoded := base64.StdEncoding.EncodeToString(artifact)
	if job.BackendClass == variant.ClassTypeID {
		s.writeJSON(w, http.StatusOK, map[string]string{"text": encoded})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"image": encoded})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Reset(r.Context()); err != nil {
		s.serverError(w, r, "reset store", err)
		return
	}
	s.logger.Info("store reset")
	s.writeText(w, http.StatusOK, "reset complete")
}

func (s *Server) ownerByID(r *http.Request, ownerID int64) (*jobstore.Owner, error) {
	owners, err := s.jobs.Owners(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range owners {
		if owners[i].OwnerID == ownerID {
			return &owners[i], nil
		}
	}
	return nil, jobstore.ErrUnknownOwner
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.writeText(w, http.StatusInternalServerError, "%s: %s", op, err.Error())
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
