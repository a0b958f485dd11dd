// Package token реализует подпись и проверку идентификаторов членов общества.
//
// Формат талона на проводе: "<идентификатор>|<подпись>", где подпись —
// HMAC-SHA256 от идентификатора в верхнем hex-регистре (64 символа).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMalformedToken возвращается, если строка не соответствует формату "id|подпись".
var (
	ErrMalformedToken = errors.New("malformed token")
	// ErrSignatureMismatch возвращается при несовпадении подписи.
	ErrSignatureMismatch = errors.New("token signature mismatch")
)

const separator = "|"

// Signer вычисляет и проверяет HMAC-SHA256 подпись идентификатора общим секретом.
type Signer struct {
	secretKey []byte
}

// NewSigner создаёт Signer с указанным секретом.
// Один и тот же экземпляр обслуживает и печать, и сканирование.
func NewSigner(secret string) *Signer {
	return &Signer{secretKey: []byte(secret)}
}

// Sign возвращает подписанный талон для идентификатора.
// Детерминированный: один идентификатор всегда даёт один и тот же талон.
func (s *Signer) Sign(identifier string) string {
	return identifier + separator + s.signature(identifier)
}

// Verify разбирает сырую строку талона и возвращает идентификатор.
// Любая строка без ровно одного разделителя отклоняется: старые
// неподписанные QR-коды не принимаются как голый идентификатор.
func (s *Signer) Verify(raw string) (string, error) {
	parts := strings.Split(raw, separator)
	if len(parts) != 2 {
		return "", ErrMalformedToken
	}

	expected := s.signature(parts[0])
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return "", ErrSignatureMismatch
	}

	return parts[0], nil
}

func (s *Signer) signature(identifier string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(identifier))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
