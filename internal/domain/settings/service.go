// Package settings persists the client's free-form settings document.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"

	"barcodeseq/internal/core/apperror"
	"barcodeseq/pkg/logger"
)

// Empty is returned by Load whenever no usable document exists.
var Empty = json.RawMessage(`{}`)

// Repository stores the raw settings document.
// Load returns an error wrapping os.ErrNotExist when nothing was saved yet.
type Repository interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

// Service validates and persists settings.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService creates a settings service.
func NewService(repo Repository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{repo: repo, log: log.WithComponent("settings")}
}

// Save replaces the stored document. Only JSON objects are accepted.
func (s *Service) Save(ctx context.Context, doc json.RawMessage) error {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return apperror.NewInvalidRequest("settings must be a JSON object")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return apperror.NewInvalidRequest("settings must be a JSON object").WithCause(err)
	}

	if err := s.repo.Save(ctx, compact.Bytes()); err != nil {
		s.log.WithContext(ctx).Errorw("save settings failed", "error", err)
		return apperror.NewStoreUnavailable(err).WithDetail("resource", "settings")
	}
	return nil
}

// Load returns the stored document, or Empty when it is missing or unreadable.
// It never fails: a broken settings file means defaults, not an outage.
func (s *Service) Load(ctx context.Context) json.RawMessage {
	doc, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Empty
	case err != nil:
		s.log.WithContext(ctx).Warnw("load settings failed, serving defaults", "error", err)
		return Empty
	}

	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		s.log.WithContext(ctx).Warnw("stored settings are not a JSON object, serving defaults")
		return Empty
	}
	return json.RawMessage(trimmed)
}
