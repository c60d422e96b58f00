// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/job"
	"github.com/kadirpekel/quill/pkg/pipeline"
	"github.com/kadirpekel/quill/pkg/quota"
	"github.com/kadirpekel/quill/pkg/storage"
)

// handlers binds request handling to one config snapshot.
type handlers struct {
	*Server
	cfg *config.Config
}

// OfferPDFRequest is the body of POST /v1/offers/{offerID}/pdf.
type OfferPDFRequest struct {
	HTML                string `json:"html"`
	CallbackURL         string `json:"callbackUrl,omitempty"`
	DeviceID            string `json:"deviceId,omitempty"`
	TemplateID          string `json:"templateId,omitempty"`
	RequestedTemplateID string `json:"requestedTemplateId,omitempty"`
}

// JobResponse is the caller-facing view of a job.
type JobResponse struct {
	JobID         string     `json:"jobId"`
	DownloadToken string     `json:"downloadToken"`
	OfferID       string     `json:"offerId"`
	Status        job.Status `json:"status"`
	PDFURL        string     `json:"pdfUrl,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func newJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		JobID:         j.ID,
		DownloadToken: j.ID,
		OfferID:       j.OfferID,
		Status:        j.Status,
		PDFURL:        j.PDFURL,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.CompletedAt,
	}
}

// UsageResponse reports the caller's quota consumption this period.
type UsageResponse struct {
	PeriodStart string       `json:"periodStart"`
	User        *quota.Usage `json:"user"`
	Device      *quota.Usage `json:"device,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createOfferPDF(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, HeaderUserID+" header is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodyBytes)
	var req OfferPDFRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "html is required")
		return
	}

	in := pipeline.Input{
		OfferID:             chi.URLParam(r, "offerID"),
		UserID:              userID,
		HTML:                req.HTML,
		CallbackURL:         req.CallbackURL,
		UsagePeriodStart:    quota.MonthStart(h.now()),
		UserLimit:           h.cfg.Quota.UserLimit,
		DeviceID:            strings.TrimSpace(req.DeviceID),
		TemplateID:          req.TemplateID,
		RequestedTemplateID: req.RequestedTemplateID,
	}
	if in.DeviceID != "" {
		in.DeviceLimit = h.cfg.Quota.DeviceLimit
	}

	j, err := h.pipeline.Submit(r.Context(), in)
	if err != nil {
		if errors.Is(err, job.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, CodeConflict, err.Error())
			return
		}
		h.logger.Error("Failed to submit job", "offer_id", in.OfferID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to queue PDF generation")
		return
	}

	writeJSON(w, http.StatusAccepted, newJobResponse(j))
}

// lookupJob loads the job named in the path. A caller identifying as a
// different user is told the job does not exist.
func (h *handlers) lookupJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	j, err := h.pipeline.Jobs().Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "job not found")
			return nil, false
		}
		h.logger.Error("Failed to load job", "job_id", chi.URLParam(r, "jobID"), "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load job")
		return nil, false
	}

	if userID := r.Header.Get(HeaderUserID); userID != "" && userID != j.UserID {
		writeError(w, http.StatusNotFound, CodeNotFound, "job not found")
		return nil, false
	}
	return j, true
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (h *handlers) downloadPDF(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if j.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict, CodeNotReady, fmt.Sprintf("job is %s", j.Status))
		return
	}

	data, err := h.storage.Get(r.Context(), j.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "PDF not found")
			return
		}
		h.logger.Error("Failed to read PDF", "job_id", j.ID, "path", j.StoragePath, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", j.OfferID+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, HeaderUserID+" header is required")
		return
	}

	ctx := r.Context()
	period := quota.MonthStart(h.now())
	resp := UsageResponse{PeriodStart: quota.FormatPeriod(period)}

	u, err := h.enforcer.Usage(ctx, quota.User(userID), h.cfg.Quota.UserLimit, period)
	if err != nil {
		h.logger.Error("Failed to read usage", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read usage")
		return
	}
	resp.User = u

	if deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId")); deviceID != "" {
		d, err := h.enforcer.Usage(ctx, quota.Device(userID, deviceID), h.cfg.Quota.DeviceLimit, period)
		if err != nil {
			h.logger.Error("Failed to read usage", "user_id", userID, "device_id", deviceID, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read usage")
			return
		}
		resp.Device = d
	}

	writeJSON(w, http.StatusOK, resp)
}

// processJob is the worker trigger. The token must be bound to the job in
// the path.
func (h *handlers) processJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	claims := auth.GetClaims(r)
	if claims == nil || claims.Subject != jobID {
		writeError(w, http.StatusForbidden, CodeForbidden, "token is not valid for this job")
		return
	}

	j, err := h.pipeline.Jobs().Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load job")
		return
	}
	if j.Status != job.StatusQueued {
		writeError(w, http.StatusConflict, CodeConflict, fmt.Sprintf("job is %s", j.Status))
		return
	}

	if err := h.worker.Dispatch(r.Context(), jobID); err != nil {
		h.logger.Error("Failed to start job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to start job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "accepted"})
}
