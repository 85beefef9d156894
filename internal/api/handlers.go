package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/metrics"
)

const (
	// idAttempts bounds regeneration when a fresh crawl ID collides with an existing job.
	idAttempts      = 3
	rollbackTimeout = 5 * time.Second
)

type limitsRequest struct {
	MaxDistance *int `json:"maxDistance" validate:"required,gte=0"`
	MaxSeconds  *int `json:"maxSeconds" validate:"required,gt=0"`
	MaxURLs     *int `json:"maxUrls" validate:"required,gt=0"`
}

type submitRequest struct {
	URL string `json:"url" validate:"required"`
	limitsRequest
}

type injectRequest struct {
	URL      string `json:"url" validate:"required"`
	Distance *int   `json:"distance" validate:"required,gte=0"`
	// Force publishes even when the URL is already claimed for the job.
	Force bool `json:"force"`
	limitsRequest
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limits, err := s.limits(req.limitsRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	crawlID, err := s.createCrawl(r.Context(), req.URL, limits)
	if err != nil {
		s.logger.Error("submit crawl failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		status := statusFor(err)
		writeError(w, status, clientMessage(status, err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"crawlId": crawlID})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawlId")
	st, err := s.reporter.Status(r.Context(), crawlID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, crawler.ErrJobNotFound.Error())
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", zap.String("crawl_id", crawlID), zap.Error(err))
		writeError(w, statusFor(err), "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) injectTask(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawlId")
	var req injectRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limits, err := s.limits(req.limitsRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageURL, err := crawler.NormalizeSubmittedURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.ledger.Read(r.Context(), crawlID); err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, crawler.ErrJobNotFound.Error())
			return
		}
		writeError(w, statusFor(err), "job lookup failed")
		return
	}

	if !req.Force {
		var admitted bool
		err := s.retry().Do(r.Context(), func(ctx context.Context) error {
			var err error
			admitted, err = s.gate.Admit(ctx, crawlID, pageURL)
			return err
		})
		if err != nil {
			s.logger.Error("inject claim failed", zap.String("crawl_id", crawlID), zap.String("url", pageURL), zap.Error(err))
			status := statusFor(err)
			writeError(w, status, clientMessage(status, err))
			return
		}
		if !admitted {
			writeError(w, http.StatusConflict, "url already claimed")
			return
		}
	}

	task := crawler.Task{CrawlID: crawlID, URL: pageURL, Distance: *req.Distance, Limits: limits}
	if err := s.publisher.Publish(r.Context(), task); err != nil {
		s.logger.Error("inject task failed", zap.String("crawl_id", crawlID), zap.String("url", pageURL), zap.Error(err))
		status := statusFor(err)
		writeError(w, status, clientMessage(status, err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"crawlId": crawlID, "url": pageURL, "distance": task.Distance})
}

// createCrawl records a new job, claims its root, and publishes the root task. A job whose
// root never reaches the frontier is deleted again so no Active job is left without work.
func (s *Server) createCrawl(ctx context.Context, rawURL string, limits crawler.Limits) (string, error) {
	rootURL, err := crawler.NormalizeSubmittedURL(rawURL)
	if err != nil {
		return "", err
	}
	scope, err := crawler.ScopeDomain(rootURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrInvalidRequest, err)
	}
	retry := s.retry()

	var job crawler.Job
	for attempt := 0; ; attempt++ {
		crawlID, err := s.idGen.NewID()
		if err != nil {
			return "", fmt.Errorf("generate crawl id: %w", err)
		}
		job = crawler.NewJob(crawlID, rootURL, scope, limits, s.clock.Now())
		err = retry.Do(ctx, func(ctx context.Context) error {
			return s.ledger.Create(ctx, job)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, crawler.ErrJobExists) || attempt+1 >= idAttempts {
			return "", fmt.Errorf("create job: %w", err)
		}
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.gate.Admit(ctx, job.ID, rootURL)
		return err
	})
	if err != nil {
		s.rollback(ctx, job.ID)
		return "", fmt.Errorf("claim root: %w", err)
	}
	root := crawler.Task{CrawlID: job.ID, URL: rootURL, Distance: 0, Limits: limits}
	if err := s.publisher.Publish(ctx, root); err != nil {
		s.rollback(ctx, job.ID)
		return "", fmt.Errorf("publish root: %w", err)
	}

	metrics.ObserveJobSubmitted()
	s.logger.Info("crawl submitted",
		zap.String("crawl_id", job.ID),
		zap.String("url", rootURL),
		zap.Int("max_distance", limits.MaxDistance),
		zap.Int("max_seconds", limits.MaxSeconds),
		zap.Int("max_urls", limits.MaxURLs),
	)
	return job.ID, nil
}

// rollback deletes a job whose root task was never published. It runs detached from the
// request so a client disconnect or deadline does not leave the job behind.
func (s *Server) rollback(ctx context.Context, crawlID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	err := s.retry().Do(ctx, func(ctx context.Context) error {
		return s.ledger.Delete(ctx, crawlID)
	})
	if err != nil {
		s.logger.Error("rollback failed, job left without a root task",
			zap.String("crawl_id", crawlID),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("crawl rolled back", zap.String("crawl_id", crawlID))
}

func (s *Server) retry() crawler.RetryPolicy {
	return s.cfg.RetryPolicy()
}

func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON")
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", crawler.ErrInvalidRequest, validationMessage(err))
	}
	return nil
}

// limits converts the request limits and enforces the configured upper bounds.
func (s *Server) limits(req limitsRequest) (crawler.Limits, error) {
	limits := crawler.Limits{MaxDistance: *req.MaxDistance, MaxSeconds: *req.MaxSeconds, MaxURLs: *req.MaxURLs}
	caps := s.cfg.MaxLimits()
	switch {
	case caps.MaxDistance > 0 && limits.MaxDistance > caps.MaxDistance:
		return crawler.Limits{}, fmt.Errorf("%w: maxDistance exceeds %d", crawler.ErrInvalidRequest, caps.MaxDistance)
	case caps.MaxSeconds > 0 && limits.MaxSeconds > caps.MaxSeconds:
		return crawler.Limits{}, fmt.Errorf("%w: maxSeconds exceeds %d", crawler.ErrInvalidRequest, caps.MaxSeconds)
	case caps.MaxURLs > 0 && limits.MaxURLs > caps.MaxURLs:
		return crawler.Limits{}, fmt.Errorf("%w: maxUrls exceeds %d", crawler.ErrInvalidRequest, caps.MaxURLs)
	}
	return limits, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}
