// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/url"
	"strings"
)

// allowedDomains — домены соцсетей, для которых принимаются заказы.
var allowedDomains = []string{
	"instagram.com",
	"tiktok.com",
	"youtube.com",
	"facebook.com",
	"twitter.com",
	"x.com",
	"linkedin.com",
	"telegram.org",
	"t.me",
}

// MaxNotesLength ограничивает длину примечания к заказу.
const MaxNotesLength = 500

// IsValidTargetURL проверяет, что ссылка заказа синтаксически корректна и
// ведёт на один из разрешённых доменов соцсетей (сам домен или поддомен).
func IsValidTargetURL(raw string) bool {
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for _, domain := range allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}

	return false
}

// IsValidNotes проверяет длину примечания к заказу.
func IsValidNotes(notes string) bool {
	return len(notes) <= MaxNotesLength
}
