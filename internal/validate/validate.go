// Package validate holds the request field rules shared by the HTTP handlers.
package validate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	phonePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	passwordSet  = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,20}$`)
)

const maxBodyBytes = 1 << 20

// Errors collects field messages in the order they were checked.
type Errors []string

// Check appends msg when ok is false.
func (e *Errors) Check(ok bool, msg string) {
	if !ok {
		*e = append(*e, msg)
	}
}

// Err returns a ValidationFailed error joining all messages, or nil.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return apperr.New(apperr.ValidationFailed, strings.Join(e, ", "))
}

func NotBlank(s string) bool { return strings.TrimSpace(s) != "" }

// WellFormedEmail reports whether s parses as a bare address.
func WellFormedEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func StandardEmail(s string) bool { return emailPattern.MatchString(s) }

func MobileNumber(s string) bool { return phonePattern.MatchString(s) }

// Name reports whether s is 1-30 characters without digits.
func Name(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < 1 || n > 30 {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsDigit)
}

// StrongPassword requires 8-20 characters from the allowed set with at least
// one lowercase, uppercase, digit and special character.
func StrongPassword(s string) bool {
	if !passwordSet.MatchString(s) {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}

// DecodeJSON reads a JSON body into v, mapping read failures to ValidationFailed.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.New(apperr.ValidationFailed, "Required request body is missing")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.ValidationFailed, "Required request body is missing")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.Wrap(apperr.ValidationFailed, "Unable to parse "+typeErr.Field+" field", err)
		}
		return apperr.Wrap(apperr.ValidationFailed, "Unable to read body", err)
	}
	return nil
}
