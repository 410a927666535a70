// Package trackingnum нормализует, валидирует и форматирует USPS-номера.
package trackingnum

import (
	"strconv"
	"strings"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/pkg/errors"
)

const (
	MinLength = 20
	MaxLength = 22

	// 4-4-4-4-4-2
	displayLength = 22
)

// Normalize оставляет только ASCII-цифры.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func IsValid(normalized string) bool {
	if len(normalized) < MinLength || len(normalized) > MaxLength {
		return false
	}
	for i := 0; i < len(normalized); i++ {
		if normalized[i] < '0' || normalized[i] > '9' {
			return false
		}
	}
	return true
}

// Imprecise: число в экспоненциальной записи ("9.40553620756527E+21").
// Так Excel отдаёт длинные номера из числовых ячеек; младшие цифры уже потеряны,
// а Normalize склеил бы мантиссу с порядком в правдоподобный, но чужой номер.
func Imprecise(raw string) bool {
	v := strings.TrimSpace(raw)
	if !strings.ContainsAny(v, "eE") {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func Parse(raw string) (string, error) {
	if Imprecise(raw) {
		return "", errors.Wrapf(models.ErrInvalidFormat, "%q is a rounded numeric value", raw)
	}
	n := Normalize(raw)
	if !IsValid(n) {
		return "", errors.Wrapf(models.ErrInvalidFormat, "%d digits", len(n))
	}
	return n, nil
}

// Format группирует 22-значный номер как "9405 5362 0756 5275 3764 38".
// Остальные длины возвращаются без изменений.
func Format(number string) string {
	if len(number) != displayLength || !IsValid(number) {
		return number
	}
	var b strings.Builder
	b.Grow(displayLength + 5)
	for i := 0; i < displayLength; i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > displayLength {
			end = displayLength
		}
		b.WriteString(number[i:end])
	}
	return b.String()
}
