package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carwatch/models"
	"carwatch/notify"
	"carwatch/scraper/divar"
	"carwatch/storage"
	"carwatch/utils"
)

var (
	// ErrNotEligible means the subscriber is inactive, expired or unknown.
	ErrNotEligible = errors.New("subscriber is not eligible")
	// ErrRetryContact means this attempt failed but another may succeed,
	// typically with a different credential.
	ErrRetryContact = errors.New("contact lookup failed, try again")
)

// ContactFetcher is the marketplace call the resolver needs.
type ContactFetcher interface {
	Contact(ctx context.Context, token, credential string) ([]models.Contact, error)
}

// ContactResolver fetches seller phone numbers on behalf of a subscriber.
type ContactResolver struct {
	fetcher ContactFetcher
	subs    storage.SubscriberStore
	pool    *CredentialPool
	alerter notify.Alerter
	logger  *utils.Logger
	now     func() time.Time
}

func NewContactResolver(fetcher ContactFetcher, subs storage.SubscriberStore, pool *CredentialPool,
	alerter notify.Alerter, logger *utils.Logger) *ContactResolver {
	return &ContactResolver{
		fetcher: fetcher,
		subs:    subs,
		pool:    pool,
		alerter: alerter,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve returns the listing's contacts. An empty slice with a nil error
// means the listing exposes no contact. Errors match ErrNotEligible,
// ErrNoCredentials, ErrRetryContact, divar.ErrNotFound or divar.ErrInvalidToken.
func (r *ContactResolver) Resolve(ctx context.Context, chatID int64, token string) ([]models.Contact, error) {
	sub, err := r.subs.GetSubscriber(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotEligible
	}
	if err != nil {
		return nil, err
	}
	if !sub.Eligible(r.now()) {
		return nil, ErrNotEligible
	}

	cred, err := r.pool.Pick()
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			r.logger.Error("[contact] No credentials left, cannot resolve %s", token)
		}
		return nil, err
	}

	contacts, err := r.fetcher.Contact(ctx, token, cred)
	switch {
	case err == nil:
		r.logger.Info("[contact] Resolved %d contact(s) for %s (chat %d)", len(contacts), token, chatID)
		return contacts, nil
	case errors.Is(err, divar.ErrAccessDenied):
		r.evict(ctx, cred, err)
		return nil, fmt.Errorf("%w: %w", ErrRetryContact, err)
	case errors.Is(err, divar.ErrNotFound), errors.Is(err, divar.ErrInvalidToken):
		return nil, err
	default:
		r.logger.Warn("[contact] Lookup for %s failed: %v", token, err)
		return nil, fmt.Errorf("%w: %w", ErrRetryContact, err)
	}
}

func (r *ContactResolver) evict(ctx context.Context, cred string, cause error) {
	remaining, err := r.pool.Evict(cred)
	if err != nil {
		r.logger.Error("[contact] Evicting credential failed: %v", err)
		return
	}
	reason := "access denied"
	if errors.Is(cause, divar.ErrCaptcha) {
		reason = "captcha challenge"
	} else if code := divar.StatusCode(cause); code != 0 {
		reason = fmt.Sprintf("status %d", code)
	}
	r.logger.Warn("[contact] Evicted credential %s (%s), %d left", mask(cred), reason, remaining)

	msg := fmt.Sprintf("Credential %s was evicted (%s). %d credential(s) remain in the pool.", mask(cred), reason, remaining)
	if err := r.alerter.Alert(ctx, "Credential evicted", msg); err != nil {
		r.logger.Warn("[contact] Operator alert failed: %v", err)
	}
}

// mask keeps the credential out of logs and alerts.
func mask(cred string) string {
	if len(cred) <= 8 {
		return "****"
	}
	return cred[:4] + "…" + cred[len(cred)-4:]
}
