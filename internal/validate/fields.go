package validate

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

var (
	loginRe = regexp.MustCompile(`^[a-z0-9.-]+$`)
	nameRe  = regexp.MustCompile(`^[А-ЯЁ][а-яё]+(-[А-ЯЁ][а-яё]+)?$`)
	aliasRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?@[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?(\.[a-zA-Z]{2,})+$`)

	phoneExtRe   = regexp.MustCompile(`(?i)(?:ext|extension|доб|добавочный)(?:ension)?\.?\s*(\d+)`)
	phoneCharsRe = regexp.MustCompile(`^[0-9\s.\-+()]+$`)
	phoneLeadRe  = regexp.MustCompile(`^\+(\d|\()`)
)

// PasswordSymbols is the punctuation set a strong password draws one symbol from
const PasswordSymbols = `!@#$%^&*()_+-=[]{};:"\|,.<>/?`

// ExtensionSuffix prefixes the extension in a canonical phone number
const ExtensionSuffix = " ext. "

// Login lowercases a login, drops a domain part and checks its charset
func Login(raw string) (string, error) {
	login := strings.ToLower(strings.TrimSpace(raw))
	if at := strings.Index(login, "@"); at >= 0 {
		login = login[:at]
	}
	if login == "" {
		return "", errors.New("login is empty")
	}
	if strings.HasPrefix(login, "_") {
		return login, errors.New("login must not start with '_'")
	}
	if !loginRe.MatchString(login) {
		return login, errors.New("login may contain only a-z, 0-9, '.' and '-'")
	}
	return login, nil
}

// PersonName reports whether a name looks like a capitalized Cyrillic word
func PersonName(name string) bool {
	return nameRe.MatchString(name)
}

// PasswordRule checks a plaintext password
type PasswordRule func(password string) error

// DefaultPasswordRule requires ten characters with an upper-case letter, a digit and a symbol
func DefaultPasswordRule(password string) error {
	var upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}
	var missing []string
	if len([]rune(password)) < 10 {
		missing = append(missing, "at least 10 characters")
	}
	if !upper {
		missing = append(missing, "an upper-case letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !symbol {
		missing = append(missing, "a symbol")
	}
	if len(missing) > 0 {
		return fmt.Errorf("password is too weak: needs %s", strings.Join(missing, ", "))
	}
	return nil
}

// patternMatchTimeout bounds backtracking on operator supplied patterns
const patternMatchTimeout = 100 * time.Millisecond

// PatternPasswordRule builds a rule from a custom regular expression.
// Lookahead is supported, so class requirements may appear in any order.
func PatternPasswordRule(pattern string) (PasswordRule, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid password pattern: %w", err)
	}
	re.MatchTimeout = patternMatchTimeout
	return func(password string) error {
		ok, err := re.MatchString(password)
		if err != nil {
			return fmt.Errorf("failed to match password pattern: %w", err)
		}
		if !ok {
			return fmt.Errorf("password does not match pattern %s", pattern)
		}
		return nil
	}, nil
}

// Bool parses a literal true/false, case-insensitive
func Bool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%q must be true or false", raw)
	}
}

var birthdayLayouts = []string{
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"2.1.06",
	"2006.1.2",
	"2 January 2006",
	"January 2, 2006",
	"January 2 2006",
}

// Birthday parses a date in any supported layout and checks that it lies
// between minYears and maxYears before now. The result is an ISO date.
func Birthday(raw string, now time.Time, minYears, maxYears int) (string, error) {
	value := strings.Join(strings.Fields(raw), " ")
	if value == "" {
		return "", errors.New("birthday is empty")
	}

	var (
		date   time.Time
		parsed bool
	)
	for _, layout := range birthdayLayouts {
		if d, err := time.Parse(layout, value); err == nil {
			date, parsed = d, true
			break
		}
	}
	if !parsed {
		return "", fmt.Errorf("unrecognized date %q", raw)
	}

	diff := math.Abs(float64(now.Year()-date.Year()) +
		float64(int(now.Month())-int(date.Month()))/12 +
		float64(now.Day()-date.Day())/365.25)
	if diff < float64(minYears) {
		return "", fmt.Errorf("date is less than %d years from today", minYears)
	}
	if diff > float64(maxYears) {
		return "", fmt.Errorf("date is more than %d years from today", maxYears)
	}
	return date.Format("2006-01-02"), nil
}

// Phone validates a phone number and returns its canonical form
func Phone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", errors.New("phone is empty")
	}

	extension := ""
	if loc := phoneExtRe.FindStringSubmatchIndex(phone); loc != nil {
		extension = phone[loc[2]:loc[3]]
		phone = strings.TrimSpace(phone[:loc[0]]) + strings.TrimSpace(phone[loc[1]:])
	}

	if !phoneCharsRe.MatchString(phone) {
		return "", errors.New("phone contains invalid characters")
	}
	if strings.Contains(phone, "+") && !strings.HasPrefix(phone, "+") {
		return "", errors.New("'+' is allowed only at the start")
	}
	if strings.Count(phone, "+") > 1 {
		return "", errors.New("'+' is allowed only once")
	}
	if err := checkBrackets(phone); err != nil {
		return "", err
	}

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()
	if len(clean) < 3 {
		return "", errors.New("phone is too short (minimum 3 digits)")
	}
	if len(clean) > 16 {
		return "", errors.New("phone is too long (maximum 16 digits)")
	}
	if strings.HasPrefix(phone, "+") && !phoneLeadRe.MatchString(phone) {
		return "", errors.New("'+' must be followed by a digit or '('")
	}

	formatted := clean
	if len(clean) == 11 && (clean[0] == '7' || clean[0] == '8') {
		formatted = fmt.Sprintf("+7 (%s) %s-%s-%s", clean[1:4], clean[4:7], clean[7:9], clean[9:11])
	}
	if extension != "" {
		formatted += ExtensionSuffix + extension
	}
	return formatted, nil
}

func checkBrackets(phone string) error {
	depth := 0
	for _, r := range phone {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return errors.New("brackets are out of order")
			}
		}
	}
	if depth != 0 {
		return errors.New("brackets are not balanced")
	}
	return nil
}

// Email runs structural checks and then the full address pattern
func Email(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", errors.New("e-mail is empty")
	}
	if strings.Count(email, "@") != 1 {
		return "", errors.New("e-mail must contain exactly one '@'")
	}
	local, domain, _ := strings.Cut(email, "@")
	switch {
	case local == "":
		return "", errors.New("e-mail local part is empty")
	case len(local) > 64:
		return "", errors.New("e-mail local part is longer than 64 characters")
	case domain == "":
		return "", errors.New("e-mail domain is empty")
	case len(domain) > 253:
		return "", errors.New("e-mail domain is longer than 253 characters")
	case strings.HasPrefix(local, ".") || strings.HasSuffix(local, "."):
		return "", errors.New("e-mail local part must not start or end with '.'")
	case strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, "."):
		return "", errors.New("e-mail domain must not start or end with '.'")
	case strings.Contains(email, ".."):
		return "", errors.New("e-mail must not contain consecutive dots")
	}
	if !emailRe.MatchString(email) {
		return "", errors.New("e-mail has an invalid format")
	}
	return email, nil
}

// Alias validates an additional login
func Alias(raw string) (string, error) {
	alias := strings.TrimSpace(raw)
	if n := len(alias); n < 2 || n > 50 {
		return "", fmt.Errorf("alias %q must be 2 to 50 characters long", alias)
	}
	if !aliasRe.MatchString(alias) {
		return "", fmt.Errorf("alias %q may contain only letters, digits, '.', '_' and '-' and must start and end with a letter or digit", alias)
	}
	if strings.Contains(alias, "..") || strings.Contains(alias, "--") {
		return "", fmt.Errorf("alias %q must not contain consecutive '.' or '-'", alias)
	}
	return strings.ToLower(alias), nil
}

// Language accepts ru, en or empty
func Language(raw string) (string, bool) {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "", "ru", "en":
		return v, true
	default:
		return "", false
	}
}

// Gender accepts male, female or empty
func Gender(raw string) (string, bool) {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "", "male", "female":
		return v, true
	default:
		return "", false
	}
}
