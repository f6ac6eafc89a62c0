// Package secrets resolves secret values that are kept out of the configuration files.
// The configuration only carries a file path, the provider turns that path into the value.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/spf13/afero"
)

type Provider interface {
	Resolve(name string) (config.RedactedString, error)
}

// FileProvider reads secrets from files, the name passed to Resolve is the file path.
// Surrounding whitespace (i.e. the trailing newline most editors add) is removed.
type FileProvider struct {
	fs afero.Fs
}

func (p FileProvider) Resolve(name string) (config.RedactedString, error) {
	if name == "" {
		return "", fmt.Errorf("%w: an empty secret file path was provided", portalerrors.ErrSecretNotFound)
	}
	raw, err := afero.ReadFile(p.fs, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", portalerrors.ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("cannot read the secret file %s: %w", name, err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", fmt.Errorf("the secret file %s is empty", name)
	}
	return config.RedactedString(value), nil
}

type FileProviderOption func(*FileProvider)

// WithFs swaps the filesystem the secrets are read from, tests use an in-memory one.
func WithFs(fs afero.Fs) FileProviderOption {
	return func(p *FileProvider) {
		p.fs = fs
	}
}

func NewFileProvider(options ...FileProviderOption) FileProvider {
	p := FileProvider{fs: afero.NewReadOnlyFs(afero.NewOsFs())}
	for _, opt := range options {
		opt(&p)
	}
	return p
}

type InMemoryProvider struct {
	lock    *sync.RWMutex
	secrets map[string]config.RedactedString
}

func (p *InMemoryProvider) Resolve(name string) (config.RedactedString, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	value, found := p.secrets[name]
	if !found {
		return "", fmt.Errorf("%w: %s", portalerrors.ErrSecretNotFound, name)
	}
	return value, nil
}

func (p *InMemoryProvider) Set(name string, value string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.secrets[name] = config.RedactedString(value)
}

func NewInMemoryProvider(secrets map[string]string) *InMemoryProvider {
	p := InMemoryProvider{lock: &sync.RWMutex{}, secrets: map[string]config.RedactedString{}}
	for k, v := range secrets {
		p.secrets[k] = config.RedactedString(v)
	}
	return &p
}

// Resolved holds every secret the portal needs, read once at startup.
type Resolved struct {
	OIDCClientSecret  config.RedactedString
	SQLServerPassword config.RedactedString
	MongoDBPassword   config.RedactedString
}

// ResolveAll reads all the secret files referenced by the configuration. Any failure here
// is fatal for the startup.
func ResolveAll(p Provider, c config.Config) (Resolved, error) {
	clientSecret, err := p.Resolve(c.IdentityProvider.ClientSecretFile)
	if err != nil {
		return Resolved{}, fmt.Errorf("identity provider client secret: %w", err)
	}
	sqlPassword, err := p.Resolve(c.SQLServer.PasswordFile)
	if err != nil {
		return Resolved{}, fmt.Errorf("sql server password: %w", err)
	}
	mongoPassword, err := p.Resolve(c.MongoDB.PasswordFile)
	if err != nil {
		return Resolved{}, fmt.Errorf("mongodb password: %w", err)
	}
	return Resolved{
		OIDCClientSecret:  clientSecret,
		SQLServerPassword: sqlPassword,
		MongoDBPassword:   mongoPassword,
	}, nil
}
