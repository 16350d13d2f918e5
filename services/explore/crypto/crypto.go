// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package crypto holds the user's ephemeral key pair and decrypts node
// results with it.
//
// # Description
//
// Nodes encrypt results under the ephemeral public key sent with each
// request. The matching private key lives in a memguard enclave and is
// only unsealed for the duration of a decryption batch. The cipher itself
// is a Scheme supplied by the caller.
package crypto

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/lca1/glowing-bear/pkg/logging"
)

// MinMlockLimitKB is the locked-memory limit below which a warning is
// logged when keys are generated.
const MinMlockLimitKB = 64

// ErrKeysClosed is returned after Close.
var ErrKeysClosed = errors.New("ephemeral keys closed")

// Service is what the query and cohort layers need from crypto.
type Service interface {
	// EphemeralPublicKey is sent to nodes to target result encryption.
	EphemeralPublicKey() string

	// DecryptIntegers decrypts each ciphertext, preserving order.
	DecryptIntegers(ctx context.Context, ciphertexts []string) ([]int64, error)
}

// Scheme provides the cryptographic primitives.
type Scheme interface {
	// GenerateKeyPair returns an encoded public key and the raw private key.
	GenerateKeyPair() (public string, private []byte, err error)

	// DecryptInt decrypts one integer ciphertext.
	DecryptInt(private []byte, ciphertext string) (int64, error)
}

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// initMemguard checks the mlock limit once. No memguard signal handler is
// installed; the process calls PurgeAll on exit.
func initMemguard() {
	memguardInitOnce.Do(func() {
		mlockSufficient, mlockLimitKB = checkMlockLimit()
	})
}

// checkMlockLimit reports whether RLIMIT_MEMLOCK is at least
// MinMlockLimitKB. The limit is -1 when unlimited or unknown.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// SecureMemoryAvailable reports the mlock status.
func SecureMemoryAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, mlockLimitKB
}

// PurgeAll wipes every memguard allocation. Call once on process exit;
// existing keys become unusable.
func PurgeAll() {
	memguard.Purge()
}

// EphemeralKeys is the session key pair.
//
// # Thread Safety
//
// Safe for concurrent use.
type EphemeralKeys struct {
	scheme  Scheme
	public  string
	workers int
	logger  *logging.Logger

	mu      sync.RWMutex
	private *memguard.Enclave
}

// Option configures EphemeralKeys.
type Option func(*EphemeralKeys)

// WithWorkers bounds how many ciphertexts are decrypted in parallel.
func WithWorkers(n int) Option {
	return func(k *EphemeralKeys) {
		if n > 0 {
			k.workers = n
		}
	}
}

// WithLogger sets the logger used for secure memory warnings.
func WithLogger(l *logging.Logger) Option {
	return func(k *EphemeralKeys) {
		k.logger = l
	}
}

// NewEphemeralKeys generates a key pair with scheme and seals the private
// key. The private key slice returned by the scheme is wiped.
func NewEphemeralKeys(scheme Scheme, opts ...Option) (*EphemeralKeys, error) {
	initMemguard()

	public, private, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key pair: %w", err)
	}
	if len(private) == 0 {
		return nil, errors.New("generating ephemeral key pair: empty private key")
	}

	k := &EphemeralKeys{
		scheme:  scheme,
		public:  public,
		workers: runtime.GOMAXPROCS(0),
		private: memguard.NewEnclave(private),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = logging.OrDefault(k.logger)

	if !mlockSufficient {
		k.logger.Warn("mlock limit low, ephemeral keys may be swapped",
			"current_limit_kb", mlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
	}
	return k, nil
}

// EphemeralPublicKey implements Service.
func (k *EphemeralKeys) EphemeralPublicKey() string {
	return k.public
}

// DecryptIntegers implements Service. The private key is unsealed once per
// call and destroyed when the batch completes.
func (k *EphemeralKeys) DecryptIntegers(ctx context.Context, ciphertexts []string) ([]int64, error) {
	k.mu.RLock()
	enclave := k.private
	k.mu.RUnlock()
	if enclave == nil {
		return nil, ErrKeysClosed
	}
	if len(ciphertexts) == 0 {
		return []int64{}, nil
	}

	key, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	defer key.Destroy()

	out := make([]int64, len(ciphertexts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.workers)
	for i, ct := range ciphertexts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := k.scheme.DecryptInt(key.Bytes(), ct)
			if err != nil {
				return fmt.Errorf("ciphertext %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close drops the sealed private key.
func (k *EphemeralKeys) Close() {
	k.mu.Lock()
	k.private = nil
	k.mu.Unlock()
}

var _ Service = (*EphemeralKeys)(nil)
