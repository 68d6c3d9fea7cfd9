package correlation

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// serviceIDLength — длина ServiceID. Terminal API ограничивает ServiceID
// 1-10 алфавитно-цифровыми символами
const serviceIDLength = 10

const serviceIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator генерирует корреляционные идентификаторы для попыток оплаты.
// Безопасен для конкурентного использования из всех столов
type Generator struct{}

// NewGenerator создаёт новый Generator
func NewGenerator() *Generator {
	return &Generator{}
}

// NewServiceID возвращает короткий алфавитно-цифровой id для корреляции одной
// синхронной пары запрос/ответ с терминалом (и для Abort по исходному запросу).
// Уникальность нужна только среди одновременно открытых попыток: 62^10 вариантов
// из crypto/rand этого с запасом хватает
func (g *Generator) NewServiceID() (string, error) {
	buf := make([]byte, serviceIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate service id: %w", err)
	}
	for i, b := range buf {
		buf[i] = serviceIDAlphabet[int(b)%len(serviceIDAlphabet)]
	}
	return string(buf), nil
}

// NewSaleTransactionID возвращает глобально уникальный id попытки оплаты —
// долговечный ключ, по которому webhook-события матчатся обратно на стол
func (g *Generator) NewSaleTransactionID() string {
	return uuid.New().String()
}
