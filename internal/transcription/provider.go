// Package transcription adapts speech-to-text services to one asynchronous
// job interface. Submissions return a job handle immediately; completion is
// discovered by polling the handle at the provider's own interval.
package transcription

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
)

// Provider names. The set is closed; callers select one explicitly.
const (
	ProviderGoogleSpeech = "google-speech"
	ProviderAssemblyAI   = "assemblyai"
)

// AudioRef locates normalized audio. Providers pick the form they accept:
// Google Speech reads gs:// URIs, AssemblyAI fetches an HTTPS URL.
type AudioRef struct {
	GCSURI  string
	HTTPURL string
	// LanguageHints overrides the provider's default hints when set.
	LanguageHints []string
}

// PollStatus is the state of a provider job.
type PollStatus string

const (
	PollPending PollStatus = "pending"
	PollDone    PollStatus = "done"
	PollError   PollStatus = "error"
)

// PollResult is the outcome of one poll. Text is set when Status is done and
// may be empty when the provider found no speech; ErrorDetail is set when
// Status is error.
type PollResult struct {
	Status      PollStatus
	Text        string
	ErrorDetail string
}

// Provider is an asynchronous speech-to-text service.
type Provider interface {
	Name() string
	// Submit starts a job and returns without waiting for it to finish.
	Submit(ctx context.Context, audio AudioRef) (models.JobHandle, error)
	// Poll checks a job once. Transport failures are returned as
	// *errors.ProviderPollError and leave the job untouched.
	Poll(ctx context.Context, job models.JobHandle) (PollResult, error)
	SupportsLanguageDetection() bool
	DefaultLanguageHints() []string
	PollInterval() time.Duration
}

// RequiresHTTPURL reports whether p fetches audio over HTTP(S) instead of
// reading object storage directly.
func RequiresHTTPURL(p Provider) bool {
	h, ok := p.(interface{ RequiresHTTPURL() bool })
	return ok && h.RequiresHTTPURL()
}

// Registry resolves providers by name.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds a registry. defaultName must be one of providers.
func NewRegistry(defaultName string, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers)), defaultName: defaultName}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[defaultName]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", defaultName)
	}
	return r, nil
}

// Get returns the named provider, or the default when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transcription provider %q (available: %s)",
			rferrors.ErrValidation, name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// Default returns the default provider name.
func (r *Registry) Default() string {
	return r.defaultName
}

// Names lists configured providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
