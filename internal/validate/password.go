package validate

import (
	"fmt"
	"strings"

	"github.com/sethvargo/go-password/password"
)

// MinGeneratedPasswordLength is the floor for temporary passwords
const MinGeneratedPasswordLength = 12

// generatedSymbols leaves out characters that clash with the table delimiter or quoting
const generatedSymbols = `!@#$%^&*()_+-=[]{}:,.<>/?`

var generator = mustGenerator()

func mustGenerator() *password.Generator {
	g, err := password.NewGenerator(&password.GeneratorInput{Symbols: generatedSymbols})
	if err != nil {
		panic(fmt.Sprintf("failed to create password generator: %v", err))
	}
	return g
}

// GeneratePassword draws a temporary password from a cryptographically secure source.
// The result always holds an upper-case letter, a lower-case letter, a digit and a symbol.
func GeneratePassword(length int) (string, error) {
	if length < MinGeneratedPasswordLength {
		length = MinGeneratedPasswordLength
	}
	digits := length / 6
	symbols := length / 6

	for i := 0; i < 100; i++ {
		p, err := generator.Generate(length, digits, symbols, false, true)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		if hasClasses(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("failed to generate a password with every character class")
}

// maxRuleAttempts caps how many passwords are drawn while looking for one the rule accepts
const maxRuleAttempts = 50

// GeneratePasswordFor draws temporary passwords until one satisfies rule
func GeneratePasswordFor(length int, rule PasswordRule) (string, error) {
	var lastErr error
	for i := 0; i < maxRuleAttempts; i++ {
		p, err := GeneratePassword(length)
		if err != nil {
			return "", err
		}
		if lastErr = rule(p); lastErr == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no generated password satisfies the password rule: %w", lastErr)
}

func hasClasses(p string) bool {
	var upper, lower, digit, symbol bool
	for _, r := range p {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(generatedSymbols, r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
