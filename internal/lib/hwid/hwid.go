// Package hwid приводит аппаратные идентификаторы к каноническому отпечатку.
//
// Отпечаток состоит из 64 символов шестнадцатеричного SHA-256 в нижнем регистре.
// Если на вход уже подан отпечаток, он не хэшируется повторно.
package hwid

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var fingerprintRe = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// IsFingerprint сообщает, имеет ли строка форму канонического отпечатка
// (регистр не важен).
func IsFingerprint(value string) bool {
	return fingerprintRe.MatchString(value)
}

// Normalize возвращает канонический отпечаток для сырого HWID или уже готового хэша.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if IsFingerprint(trimmed) {
		return strings.ToLower(trimmed)
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}
