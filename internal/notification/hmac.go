package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// HMACValidator проверяет подлинность webhook-событий по pre-shared ключу.
// Подпись — HMAC-SHA256 (base64) над каноничной строкой из полей события;
// ключ задаётся hex-строкой из личного кабинета процессора
type HMACValidator struct {
	key []byte
}

// NewHMACValidator создаёт validator из hex-представления ключа
func NewHMACValidator(hexKey string) (*HMACValidator, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("hmac key is required")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode hmac key: %w", err)
	}
	return &HMACValidator{key: key}, nil
}

// Validate сравнивает подпись события с вычисленной.
// Событие без подписи считается невалидным
func (v *HMACValidator) Validate(item NotificationRequestItem) bool {
	signature := item.HMACSignature()
	if signature == "" {
		return false
	}
	expected := v.Sign(item)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign вычисляет подпись события.
// Каноничная строка: экранированные значения
// pspReference:originalReference:merchantAccountCode:merchantReference:value:currency:eventCode:success,
// соединённые двоеточием
func (v *HMACValidator) Sign(item NotificationRequestItem) string {
	payload := strings.Join([]string{
		escapeField(item.PSPReference),
		escapeField(item.OriginalReference),
		escapeField(item.MerchantAccountCode),
		escapeField(item.MerchantReference),
		strconv.FormatInt(item.Amount.Value, 10),
		escapeField(item.Amount.Currency),
		escapeField(string(item.EventCode)),
		escapeField(item.Success),
	}, ":")

	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// escapeField экранирует разделитель и сам escape-символ в значении поля
func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}
