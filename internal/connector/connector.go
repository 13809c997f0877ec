package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// ErrUnsupportedProvider is returned when no connector is registered for an
// account's provider kind
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ErrMissingCredentials is returned when an account lacks the secrets its
// connector requires
var ErrMissingCredentials = errors.New("missing credentials")

// Connector adapts one external source's protocol into normalized records.
// Implementations perform network I/O only; they never touch persisted state.
type Connector interface {
	// Name returns the connector identifier used in logs and errors.
	Name() string

	// FetchNewMessages returns records observed after since on a best-effort
	// basis. A nil since requests as much history as the source allows. The
	// sync engine is the authority that filters by watermark, so connectors
	// only attempt the cut for efficiency.
	FetchNewMessages(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error)
}

// Options carries the fetch bounds every connector honors.
type Options struct {
	Timeout  time.Duration
	MaxItems int
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxItems <= 0 {
		o.MaxItems = 200
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Attempt records one failed fetch strategy inside a FetchError.
type Attempt struct {
	Strategy string
	Err      error
}

// FetchError is the single error a connector surfaces when every strategy it
// tried failed. The message concatenates all attempts for diagnosability.
type FetchError struct {
	Provider models.Provider
	Attempts []Attempt
}

func (e *FetchError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%s fetch failed: %s", e.Provider, strings.Join(parts, "; "))
}

// Unwrap exposes the underlying attempt errors for errors.Is/As.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// SynthesizeID derives a deterministic external id from stable record fields
// for sources that cannot supply one, preserving the dedup invariant.
func SynthesizeID(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// normalizeTime maps an upstream timestamp to UTC, falling back to now when
// the upstream omits or corrupts the date.
func normalizeTime(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t.UTC()
}
