// Package i18n renders the user-facing labels of the invitation history in
// the languages the service ships with.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English text.
const (
	StatusActive      = "Active"
	StatusExpired     = "Expired"
	StatusRevoked     = "Revoked"
	StatusUsed        = "Accepted"
	UsedBy            = "by %s"
	AccessExpired     = "access expired on %s"
	AccessExpires     = "access expires on %s"
	ExpiresIn         = "expires in %s"
	UndefinedRole     = "Undefined role"
	ActionRevoke      = "Revoke invite"
	ActionExtend      = "Extend invite"
	ActionResend      = "Resend invite"
	AnonymousUser     = "anonymous user"
	InvitationSubject = "Invitation to join %s"
)

var french = map[string]string{
	StatusActive:      "Active",
	StatusExpired:     "Expirée",
	StatusRevoked:     "Révoquée",
	StatusUsed:        "Acceptée",
	UsedBy:            "par %s",
	AccessExpired:     "accès expiré le %s",
	AccessExpires:     "accès expire le %s",
	ExpiresIn:         "expire dans %s",
	UndefinedRole:     "Rôle non défini",
	ActionRevoke:      "Révoquer l'invitation",
	ActionExtend:      "Prolonger l'invitation",
	ActionResend:      "Renvoyer l'invitation",
	AnonymousUser:     "utilisateur anonyme",
	InvitationSubject: "Invitation à rejoindre %s",
}

var supported = []language.Tag{language.English, language.French}

// Translator picks a printer for an Accept-Language value.
type Translator struct {
	catalog *catalog.Builder
	matcher language.Matcher
}

func NewTranslator() *Translator {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range french {
		// Keys are compile-time constants; SetString only fails on malformed tags.
		_ = b.SetString(language.French, key, text)
	}
	for _, key := range []string{
		StatusActive, StatusExpired, StatusRevoked, StatusUsed, UsedBy, AccessExpired, AccessExpires,
		ExpiresIn, UndefinedRole, ActionRevoke, ActionExtend, ActionResend, AnonymousUser, InvitationSubject,
	} {
		_ = b.SetString(language.English, key, key)
	}
	return &Translator{catalog: b, matcher: language.NewMatcher(supported)}
}

// Printer returns a printer for the best supported match of acceptLanguage.
// An empty or unparsable value selects English.
func (t *Translator) Printer(acceptLanguage string) *message.Printer {
	tag := language.English
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
			_, index, confidence := t.matcher.Match(tags...)
			if confidence != language.No {
				tag = supported[index]
			}
		}
	}
	return message.NewPrinter(tag, message.Catalog(t.catalog))
}

func (t *Translator) Sprintf(acceptLanguage, key string, args ...interface{}) string {
	return t.Printer(acceptLanguage).Sprintf(key, args...)
}
