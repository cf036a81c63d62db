package helpdesk

import (
	"context"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maypok86/otter"
)

const (
	startPayloadTTL  = time.Hour
	languageCacheTTL = 10 * time.Minute
)

// IdentityLedger keeps user preferences and decides who may act as support.
type IdentityLedger struct {
	store  KeyValueStore
	admins map[int64]struct{}
	cache  otter.Cache[int64, Language]
}

// NewIdentityLedger creates a new IdentityLedger.
// An empty admin list means that every member of the support chat is an admin.
func NewIdentityLedger(store KeyValueStore, adminIDs []int64, cacheSize int) (*IdentityLedger, error) {
	cache, err := otter.MustBuilder[int64, Language](max(cacheSize, 1)).
		WithTTL(languageCacheTTL).
		Build()
	if err != nil {
		return nil, errm.Wrap(err, "build language cache")
	}

	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return &IdentityLedger{
		store:  store,
		admins: admins,
		cache:  cache,
	}, nil
}

// Language returns the chosen user language and false if the user has not chosen one yet.
func (l *IdentityLedger) Language(ctx context.Context, userID int64) (Language, bool, error) {
	if lang, ok := l.cache.Get(userID); ok {
		return lang, true, nil
	}

	raw, err := l.store.Get(ctx, languageKey(userID))
	switch {
	case errm.Is(err, ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, errm.Wrap(err, "get language", "user_id", userID)
	}

	lang, ok := ParseLanguage(raw)
	if !ok {
		return "", false, nil
	}
	l.cache.Set(userID, lang)

	return lang, true, nil
}

// LanguageOrDefault returns the user language or LanguageDefault if it is unknown.
func (l *IdentityLedger) LanguageOrDefault(ctx context.Context, userID int64) Language {
	lang, ok, err := l.Language(ctx, userID)
	if err != nil || !ok {
		return LanguageDefault
	}
	return lang
}

// SetLanguage saves the user language. Unknown codes fall back to LanguageDefault.
func (l *IdentityLedger) SetLanguage(ctx context.Context, userID int64, code string) (Language, error) {
	lang, ok := ParseLanguage(code)
	if !ok {
		lang = LanguageDefault
	}
	if err := l.store.Set(ctx, languageKey(userID), lang.String(), 0); err != nil {
		return "", errm.Wrap(err, "set language", "user_id", userID)
	}
	l.cache.Set(userID, lang)

	return lang, nil
}

// IsAdmin returns true if the user may close tickets and reply from the support chat.
func (l *IdentityLedger) IsAdmin(userID int64) bool {
	if len(l.admins) == 0 {
		return true
	}
	_, ok := l.admins[userID]
	return ok
}

// SaveStartPayload remembers a deep link payload of the /start command for one hour.
func (l *IdentityLedger) SaveStartPayload(ctx context.Context, userID int64, payload string) error {
	if payload == "" {
		return nil
	}
	return l.store.Set(ctx, startPayloadKey(userID), payload, startPayloadTTL)
}

// StartPayload returns the remembered /start payload or empty string.
func (l *IdentityLedger) StartPayload(ctx context.Context, userID int64) string {
	raw, err := l.store.Get(ctx, startPayloadKey(userID))
	if err != nil {
		return ""
	}
	return raw
}
