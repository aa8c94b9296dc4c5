package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

// InitAuthKeys builds the KeyStore for the configured key mode.
//
// Key modes:
//   - "ephemeral": one key is generated on startup and held only in memory.
//     Every token becomes unverifiable when the service restarts.
//   - "persistent": keys are sealed with the master key and stored in the
//     database. The newest unretired key signs; every other usable key is
//     loaded verify-only so tokens survive restarts and rotations.
//   - "file": PEM private keys are read from AUTH_KEY_DIR. The last file in
//     name order signs. Rotation happens by dropping a new file in.
//
// The returned sealer is nil outside persistent mode.
func InitAuthKeys(ctx context.Context, cfg Config, keys store.SigningKeys, logger *slog.Logger) (*jwtx.KeyStore, *cryptox.KeySealer, error) {
	alg, err := jwtx.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	opts := []jwtx.KeyStoreOption{jwtx.WithRetireGrace(cfg.KeyGrace())}

	switch cfg.KeyMode {
	case KeyModePersistent:
		master, err := cryptox.LoadMasterKey(cfg.MasterKeyPath, !cfg.IsProduction())
		if err != nil {
			return nil, nil, fmt.Errorf("load master key: %w", err)
		}
		sealer, err := cryptox.NewKeySealer(master)
		if err != nil {
			return nil, nil, err
		}
		ks, err := loadPersistentKeys(ctx, cfg, alg, keys, sealer, logger, opts)
		if err != nil {
			return nil, nil, err
		}
		return ks, sealer, nil

	case KeyModeFile:
		pairs, err := loadKeyDir(cfg.KeyDir, alg)
		if err != nil {
			return nil, nil, err
		}
		if len(pairs) == 0 {
			return nil, nil, fmt.Errorf("%w: %s", errNoKeys, cfg.KeyDir)
		}
		active := pairs[len(pairs)-1]
		ks, err := jwtx.NewKeyStore(alg, active, pairs[:len(pairs)-1], opts...)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("signing keys loaded from directory",
			"dir", cfg.KeyDir,
			"algorithm", alg,
			"active_kid", active.KeyID,
			"num_keys", len(pairs),
		)
		return ks, nil, nil

	default:
		now := time.Now().UTC().Truncate(time.Second)
		kp, _, err := jwtx.GenerateKeyPair(alg, cfg.RSABits, now, now.Add(cfg.KeyLifetime))
		if err != nil {
			return nil, nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		ks, err := jwtx.NewKeyStore(alg, kp, nil, opts...)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("generated ephemeral signing key", "algorithm", alg, "kid", kp.KeyID)
		logger.Warn("tokens issued before this start can no longer be verified")
		return ks, nil, nil
	}
}

func loadPersistentKeys(
	ctx context.Context,
	cfg Config,
	alg jwtx.Algorithm,
	repo store.SigningKeys,
	sealer *cryptox.KeySealer,
	logger *slog.Logger,
	opts []jwtx.KeyStoreOption,
) (*jwtx.KeyStore, error) {
	now := time.Now().UTC().Truncate(time.Second)

	rows, err := repo.ListUsableSigningKeys(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}

	var (
		active     *jwtx.KeyPair
		verifyOnly []jwtx.KeyPair
	)
	for _, row := range rows {
		if row.Algorithm != alg.String() {
			logger.Warn("skipping signing key with another algorithm", "kid", row.Kid, "algorithm", row.Algorithm)
			continue
		}
		kp, err := openSigningKey(row, alg, sealer)
		if err != nil {
			return nil, err
		}
		// Rows are newest first.
		if active == nil && row.IsActive(now) {
			active = &kp
			continue
		}
		verifyOnly = append(verifyOnly, kp)
	}

	if active == nil {
		kp, pemKey, err := jwtx.GenerateKeyPair(alg, cfg.RSABits, now, now.Add(cfg.KeyLifetime))
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		sealed, err := sealer.Seal(pemKey, kp.KeyID)
		if err != nil {
			return nil, fmt.Errorf("seal signing key: %w", err)
		}
		if err := repo.CreateSigningKey(ctx, domain.SigningKey{
			Kid:              kp.KeyID,
			Algorithm:        alg.String(),
			PrivateKeySealed: sealed,
			CreatedAt:        kp.NotBefore,
			ExpiresAt:        kp.NotAfter,
		}); err != nil {
			return nil, fmt.Errorf("store signing key: %w", err)
		}
		logger.Info("generated persistent signing key", "kid", kp.KeyID)
		active = &kp
	}

	ks, err := jwtx.NewKeyStore(alg, *active, verifyOnly, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("persistent signing keys loaded",
		"algorithm", alg,
		"active_kid", active.KeyID,
		"verify_only", len(verifyOnly),
	)
	return ks, nil
}

func openSigningKey(row domain.SigningKey, alg jwtx.Algorithm, sealer *cryptox.KeySealer) (jwtx.KeyPair, error) {
	pemKey, err := sealer.Open(row.PrivateKeySealed, row.Kid)
	if err != nil {
		return jwtx.KeyPair{}, fmt.Errorf("unseal signing key %s: %w", row.Kid, err)
	}
	kp, err := jwtx.NewKeyPair(row.Kid, alg, pemKey, row.CreatedAt, row.ExpiresAt)
	if err != nil {
		return jwtx.KeyPair{}, fmt.Errorf("parse signing key %s: %w", row.Kid, err)
	}
	return kp, nil
}

// loadKeyDir parses every *.pem file in dir, sorted by file name. The kid is
// the file name without its extension and NotBefore is the modification time.
func loadKeyDir(dir string, alg jwtx.Algorithm) ([]jwtx.KeyPair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".pem") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	pairs := make([]jwtx.KeyPair, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", name, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		kid := strings.TrimSuffix(name, ".pem")
		kp, err := jwtx.NewKeyPair(kid, alg, data, info.ModTime().UTC().Truncate(time.Second), time.Time{})
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", name, err)
		}
		pairs = append(pairs, kp)
	}
	return pairs, nil
}

var errNoKeys = errors.New("no *.pem keys in key directory")
