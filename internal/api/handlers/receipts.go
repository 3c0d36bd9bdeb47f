package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-assistant/internal/api/middleware"
	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/imagesource"
	"github.com/dvloznov/receipt-assistant/internal/jobs"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// ReceiptsHandler handles receipt ingestion and purchase record endpoints.
type ReceiptsHandler struct {
	router    TaskRouter
	store     store.PurchaseStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(router TaskRouter, st store.PurchaseStore, publisher jobs.Publisher, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{
		router:    router,
		store:     st,
		publisher: publisher,
		log:       log,
	}
}

// Ingest handles POST /receipts.
// The body is either a multipart form with a "file" part or JSON {"image_uri": "..."}.
// With ?async=true the receipt is queued and 202 is returned with the job.
func (h *ReceiptsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeIngestRequest(w, r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, req)
		return
	}

	res, err := h.router.Route(ctx, req)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to ingest receipt")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, res)
}

func (h *ReceiptsHandler) enqueue(w http.ResponseWriter, r *http.Request, req assistant.Request) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Background ingestion is not enabled")
		return
	}

	job := &jobs.IngestReceiptJob{
		JobID:     uuid.NewString(),
		ImageRef:  req.ImageRef,
		ImageName: req.ImageName,
		Image:     req.Image,
		MIMEType:  req.MIMEType,
	}
	if err := h.publisher.PublishIngestReceipt(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue ingest job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue ingest job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("image", job.ImageName+job.ImageRef).Msg("Ingest job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

func decodeIngestRequest(w http.ResponseWriter, r *http.Request) (assistant.Request, error) {
	req := assistant.Request{Kind: assistant.KindIngestReceipt}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, imagesource.MaxImageBytes+1<<20)
		file, header, err := r.FormFile("file")
		if err != nil {
			return req, fmt.Errorf("file is required: %v", err)
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, imagesource.MaxImageBytes+1))
		if err != nil {
			return req, fmt.Errorf("reading upload: %v", err)
		}
		if len(data) == 0 {
			return req, fmt.Errorf("file is empty")
		}
		if len(data) > imagesource.MaxImageBytes {
			return req, fmt.Errorf("file is larger than %d bytes", imagesource.MaxImageBytes)
		}

		req.Image = data
		req.ImageName = header.Filename
		req.MIMEType = imagesource.DetectMIMEType(header.Filename, data)
		return req, nil
	}

	var body struct {
		ImageURI string `json:"image_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return req, fmt.Errorf("invalid request body")
	}
	if body.ImageURI == "" {
		return req, fmt.Errorf("image_uri is required")
	}
	req.ImageRef = body.ImageURI
	req.ImageName = imagesource.FilenameFromRef(body.ImageURI)
	return req, nil
}

// List handles GET /receipts.
// Supported query parameters: from, to (YYYY-MM-DD), merchant, exact_merchant, category.
func (h *ReceiptsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	purchases, err := store.Collect(h.store.Query(r.Context(), filter))
	if err != nil {
		writeFailure(w, h.log, err, "Failed to list purchases")
		return
	}
	if purchases == nil {
		purchases = []*domain.Purchase{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"purchases": purchases,
		"count":     len(purchases),
	})
}

func parseFilter(r *http.Request) (store.Filter, error) {
	query := r.URL.Query()
	filter := store.Filter{
		Merchant: query.Get("merchant"),
		Category: query.Get("category"),
	}
	filter.ExactMerchant, _ = strconv.ParseBool(query.Get("exact_merchant"))

	for _, bound := range []struct {
		param string
		dst   **civil.Date
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		s := query.Get(bound.param)
		if s == "" {
			continue
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			return filter, fmt.Errorf("invalid %s date %q", bound.param, s)
		}
		*bound.dst = &d
	}
	return filter, nil
}

// Get handles GET /receipts/{id}.
func (h *ReceiptsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, h.log, err, "Failed to get purchase")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}

// Update handles PUT /receipts/{id}. The body is a full purchase record that
// replaces the stored one as a user correction, which clears the review flag.
func (h *ReceiptsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var p domain.Purchase
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(p.Merchant) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "merchant is required")
		return
	}

	existing, err := h.store.Get(ctx, id)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to get purchase")
		return
	}

	p.Correct(existing)
	p.ID = id
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if err := h.store.Replace(ctx, id, &p); err != nil {
		writeFailure(w, h.log, err, "Failed to update purchase")
		return
	}

	h.log.Info().Str("purchase_id", id).Msg("Purchase corrected")
	middleware.WriteJSON(w, http.StatusOK, &p)
}

// Delete handles DELETE /receipts/{id}.
func (h *ReceiptsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeFailure(w, h.log, err, "Failed to delete purchase")
		return
	}

	h.log.Info().Str("purchase_id", id).Msg("Purchase deleted")
	w.WriteHeader(http.StatusNoContent)
}
