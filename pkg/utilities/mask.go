package utilities

import (
	"regexp"
	"strings"
)

var (
	emailMaskRe = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)
	phoneMaskRe = regexp.MustCompile(`^(\+?\d{1,3})(\d{3,})(\d{4})$`)
)

// MaskEmail keeps the first three characters of the local part and the domain.
// john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	if m := emailMaskRe.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}
	if parts := strings.SplitN(email, "@", 2); len(parts) == 2 {
		return "***@" + parts[1]
	}
	return "***"
}

// MaskPhone keeps the leading digits and the last four.
// 9876543210 -> 987***3210
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if m := phoneMaskRe.FindStringSubmatch(phone); len(m) == 4 {
		return m[1] + "***" + m[3]
	}
	if len(phone) > 4 {
		return "***" + phone[len(phone)-4:]
	}
	return "***"
}
