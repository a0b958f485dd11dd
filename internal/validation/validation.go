// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// IsValidSearchQuery проверяет форму поискового запроса:
// номер члена общества — 1–4 символа, табельный номер — ровно 8.
func IsValidSearchQuery(query string) bool {
	n := len(query)
	if n == 0 {
		return false
	}
	return n <= 4 || n == 8
}

// CleanPhoneNumber нормализует номер телефона оператора:
// убирает пробелы и дефисы, отбрасывает префиксы страны и
// оставляет последние 10 цифр.
func CleanPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	cleaned := strings.ReplaceAll(phone, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	switch {
	case strings.HasPrefix(cleaned, "+91"):
		cleaned = cleaned[3:]
	case strings.HasPrefix(cleaned, "+191"):
		cleaned = cleaned[4:]
	case strings.HasPrefix(cleaned, "91") && len(cleaned) > 10:
		cleaned = cleaned[2:]
	}

	if len(cleaned) > 10 {
		cleaned = cleaned[len(cleaned)-10:]
	}
	return cleaned
}
