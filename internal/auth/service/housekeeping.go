package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// HousekeepingService periodically prunes expired verify-only keys from the
// KeyStore and deletes expired refresh records and signing keys. With
// Rotation and RotateEvery set it also rotates the signing key on schedule.
// With Rotation and RenewBefore set it rotates whenever the active key is
// within RenewBefore of its NotAfter, or already past it.
type HousekeepingService struct {
	Keys        *jwtx.KeyStore
	Refresh     store.RefreshTokens
	SigningKeys store.SigningKeys // nil unless keys are persisted
	Logger      *slog.Logger
	Interval    time.Duration

	Rotation    *KeyRotationService
	RotateEvery time.Duration
	RenewBefore time.Duration

	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// CleanupReport is the outcome of one housekeeping pass.
type CleanupReport struct {
	RenewedKey         string
	PrunedKeys         []string
	DeletedRefresh     int64
	DeletedSigningKeys int64
}

// NewHousekeepingService creates a housekeeping service. An interval of 0 or
// less defaults to one hour.
func NewHousekeepingService(keys *jwtx.KeyStore, refresh store.RefreshTokens, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Keys:     keys,
		Refresh:  refresh,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the worker in the background until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", "interval", s.Interval, "rotate_every", s.RotateEvery)
}

// Stop blocks until any in-progress pass has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ctx := slogx.WithContext(context.Background(), s.Logger)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	var rotateC <-chan time.Time
	if s.Rotation != nil && s.RotateEvery > 0 {
		rotate := time.NewTicker(s.RotateEvery)
		defer rotate.Stop()
		rotateC = rotate.C
	}

	s.Cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			s.Cleanup(ctx)
		case <-rotateC:
			if _, err := s.Rotation.Rotate(ctx); err != nil {
				s.Logger.Error("scheduled key rotation failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each step is independent; a failing step is logged
// and the rest still run.
func (s *HousekeepingService) Cleanup(ctx context.Context) CleanupReport {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	var report CleanupReport

	if kid, err := s.renewActiveKey(ctx, now); err != nil {
		s.Logger.Error("failed to renew expiring signing key", "error", err)
	} else if kid != "" {
		report.RenewedKey = kid
	}

	report.PrunedKeys = s.Keys.Prune(now)
	if len(report.PrunedKeys) > 0 {
		s.Logger.Info("pruned expired keys", "kids", report.PrunedKeys)
	}

	if n, err := s.Refresh.DeleteExpired(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	} else {
		report.DeletedRefresh = n
	}

	if s.SigningKeys != nil {
		if n, err := s.SigningKeys.DeleteExpiredSigningKeys(ctx, now); err != nil {
			s.Logger.Error("failed to delete expired signing keys", "error", err)
		} else {
			report.DeletedSigningKeys = n
		}
	}

	s.Logger.Debug("housekeeping pass completed",
		"renewed_key", report.RenewedKey,
		"pruned_keys", len(report.PrunedKeys),
		"deleted_refresh", report.DeletedRefresh,
		"deleted_signing_keys", report.DeletedSigningKeys,
	)
	return report
}

// renewActiveKey rotates when the active key could sign a token that
// outlives it. It returns the new kid, or "" when no rotation was needed.
func (s *HousekeepingService) renewActiveKey(ctx context.Context, now time.Time) (string, error) {
	if s.Rotation == nil || s.Rotation.External || s.RenewBefore <= 0 {
		return "", nil
	}

	active, err := s.Keys.ActiveKey()
	switch {
	case err == nil:
		if active.NotAfter.IsZero() || now.Add(s.RenewBefore).Before(active.NotAfter) {
			return "", nil
		}
	case !errors.Is(err, jwtx.ErrNoActiveKey):
		return "", err
	}

	info, err := s.Rotation.Rotate(ctx)
	if err != nil {
		return "", err
	}
	s.Logger.Info("renewed expiring signing key", "previous_kid", active.KeyID, "kid", info.Kid)
	return info.Kid, nil
}
