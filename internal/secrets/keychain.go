// Copyright 2025 Tom Barlow
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
// Package secrets stores provider credentials in the OS keychain.
//
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
//
// Service configurations reference a stored secret as "keyring:<name>" in an
// env value; the secret is read when the provider process is spawned and is
// never written to the registry file.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keychain service name entries are stored under.
const DefaultService = "toolbridge"

var (
	// ErrSecretNotFound is returned when no secret is stored under a name.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when the keychain is locked or missing.
	ErrBackendUnavailable = errors.New("keychain unavailable")

	// ErrInvalidName is returned for names that cannot be stored.
	ErrInvalidName = errors.New("invalid secret name")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_./-]{0,127}$`)

// Keychain reads and writes secrets under one keychain service.
type Keychain struct {
	service string
}

// NewKeychain creates a keychain for service. An empty service uses DefaultService.
func NewKeychain(service string) *Keychain {
	if service == "" {
		service = DefaultService
	}
	return &Keychain{service: service}
}

// ValidateName checks that a secret name is storable.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (letters, digits, '.', '_', '/', '-'; max 128)", ErrInvalidName, name)
	}
	return nil
}

// Get retrieves a secret.
func (k *Keychain) Get(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	value, err := keyring.Get(k.service, name)
	if err != nil {
		return "", mapError(name, err)
	}
	return value, nil
}

// Set stores a secret, replacing any existing value.
func (k *Keychain) Set(name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("secret %q: value is empty", name)
	}

	if err := keyring.Set(k.service, name, value); err != nil {
		return mapError(name, err)
	}
	return nil
}

// Delete removes a secret.
func (k *Keychain) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, name); err != nil {
		return mapError(name, err)
	}
	return nil
}

func mapError(name string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if isKeychainUnavailableError(err) {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
	}
	return fmt.Errorf("keychain error: %w", err)
}

// isKeychainUnavailableError checks if an error indicates the keychain is locked or inaccessible.
func isKeychainUnavailableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	unavailableIndicators := []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	}

	for _, indicator := range unavailableIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

var defaultKeychain = NewKeychain(DefaultService)

// Get retrieves a secret from the default keychain service.
func Get(name string) (string, error) { return defaultKeychain.Get(name) }

// Set stores a secret in the default keychain service.
func Set(name, value string) error { return defaultKeychain.Set(name, value) }

// Delete removes a secret from the default keychain service.
func Delete(name string) error { return defaultKeychain.Delete(name) }
