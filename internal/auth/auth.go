// Package auth turns HTTP credentials into author identities. The real
// path is an EdDSA bearer token whose sub claim carries the author id;
// deployments that run behind a trusted gateway can instead enable the
// X-Author-Id dev fallback. Clearance labels for classified reads ride
// either in token claims or in X-Agent-Level / X-Agent-Compartments
// headers.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"

	"github.com/thinktank-hq/notebook/internal/types"
)

// ErrUnauthorized is returned for missing or unverifiable credentials.
// The server maps it to 401 before any notebook lookup happens.
var ErrUnauthorized = errors.New("unauthorized")

const rotateDebounce = 500 * time.Millisecond

// Config selects the verification key and fallbacks. PublicKey is a
// base64 SPKI blob; PublicKeyFile is a PEM path reloaded on change.
// Exactly one of the two may be set.
type Config struct {
	PublicKey        string
	PublicKeyFile    string
	Issuer           string
	AllowDevIdentity bool
}

// Identity is the authenticated caller.
type Identity struct {
	Author    types.AuthorID
	Scope     string
	Clearance *types.Label // nil when the caller presented no label
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope        string   `json:"scope,omitempty"`
	Level        string   `json:"level,omitempty"`
	Compartments []string `json:"compartments,omitempty"`
}

// Verifier validates request credentials against the configured key.
// The key is swappable at runtime so rotation needs no restart.
type Verifier struct {
	cfg    Config
	log    *slog.Logger
	parser *jwt.Parser

	mu  sync.RWMutex
	key ed25519.PublicKey
}

// NewVerifier loads the key per cfg. A verifier with no key only works
// with the dev identity fallback enabled.
func NewVerifier(cfg Config, log *slog.Logger) (*Verifier, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PublicKey != "" && cfg.PublicKeyFile != "" {
		return nil, errors.New("auth: public_key and public_key_file are mutually exclusive")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	v := &Verifier{cfg: cfg, log: log, parser: jwt.NewParser(opts...)}

	switch {
	case cfg.PublicKey != "":
		key, err := parseSPKIBase64(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("auth: public_key: %w", err)
		}
		v.key = key
	case cfg.PublicKeyFile != "":
		key, err := loadPEMKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("auth: public_key_file: %w", err)
		}
		v.key = key
	default:
		if !cfg.AllowDevIdentity {
			return nil, errors.New("auth: no public key configured and dev identity disabled")
		}
	}
	return v, nil
}

// Authenticate resolves the caller from the request. Bearer tokens take
// precedence; X-Author-Id is honored only with AllowDevIdentity.
func (v *Verifier) Authenticate(r *http.Request) (*Identity, error) {
	if raw, ok := bearerToken(r); ok {
		id, err := v.verifyToken(raw)
		if err != nil {
			return nil, err
		}
		if id.Clearance == nil {
			label, err := headerClearance(r)
			if err != nil {
				return nil, err
			}
			id.Clearance = label
		}
		return id, nil
	}

	if v.cfg.AllowDevIdentity {
		if hdr := r.Header.Get("X-Author-Id"); hdr != "" {
			author := types.AuthorID(strings.ToLower(hdr))
			if err := author.Validate(); err != nil {
				return nil, fmt.Errorf("%w: X-Author-Id: %v", ErrUnauthorized, err)
			}
			label, err := headerClearance(r)
			if err != nil {
				return nil, err
			}
			return &Identity{Author: author, Clearance: label}, nil
		}
	}
	return nil, fmt.Errorf("%w: missing credentials", ErrUnauthorized)
}

func (v *Verifier) verifyToken(raw string) (*Identity, error) {
	claims := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		v.mu.RLock()
		defer v.mu.RUnlock()
		if v.key == nil {
			return nil, errors.New("no verification key configured")
		}
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	author := types.AuthorID(strings.ToLower(claims.Subject))
	if err := author.Validate(); err != nil {
		return nil, fmt.Errorf("%w: sub: %v", ErrUnauthorized, err)
	}
	id := &Identity{Author: author, Scope: claims.Scope}
	if claims.Level != "" {
		label, err := parseClearance(claims.Level, claims.Compartments)
		if err != nil {
			return nil, err
		}
		id.Clearance = label
	}
	return id, nil
}

// Watch reloads the PEM key when the file changes, so keys rotate
// without a restart. No-op unless PublicKeyFile is configured. Blocks
// until ctx is done.
func (v *Verifier) Watch(ctx context.Context) error {
	if v.cfg.PublicKeyFile == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth: key watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors and secret managers replace the file,
	// which drops a watch set on the file itself.
	dir := filepath.Dir(v.cfg.PublicKeyFile)
	base := filepath.Base(v.cfg.PublicKeyFile)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("auth: watch %s: %w", dir, err)
	}
	v.log.Info("watching auth key", "file", v.cfg.PublicKeyFile)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(rotateDebounce, v.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			v.log.Warn("auth key watcher error", "error", err)
		}
	}
}

func (v *Verifier) reload() {
	key, err := loadPEMKey(v.cfg.PublicKeyFile)
	if err != nil {
		// Keep serving with the previous key.
		v.log.Warn("auth key reload failed", "file", v.cfg.PublicKeyFile, "error", err)
		return
	}
	v.mu.Lock()
	changed := !key.Equal(v.key)
	v.key = key
	v.mu.Unlock()
	if changed {
		v.log.Info("auth public key rotated", "file", v.cfg.PublicKeyFile)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):]), true
	}
	return "", false
}

func headerClearance(r *http.Request) (*types.Label, error) {
	level := strings.TrimSpace(r.Header.Get("X-Agent-Level"))
	if level == "" {
		return nil, nil
	}
	return parseClearance(level, strings.Split(r.Header.Get("X-Agent-Compartments"), ","))
}

func parseClearance(level string, compartments []string) (*types.Label, error) {
	lvl := types.Level(strings.ToUpper(strings.TrimSpace(level)))
	if !lvl.IsValid() {
		return nil, fmt.Errorf("%w: unknown clearance level %q", ErrUnauthorized, level)
	}
	label := types.NewLabel(lvl, compartments...)
	return &label, nil
}

func parseSPKIBase64(s string) (ed25519.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return parseSPKI(der)
}

func loadPEMKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%s: no PUBLIC KEY block", path)
	}
	return parseSPKI(block.Bytes)
}

func parseSPKI(der []byte) (ed25519.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SPKI: %w", err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want ed25519", pub)
	}
	return key, nil
}
