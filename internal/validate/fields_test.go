package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

func TestLogin(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Ivanov", want: "ivanov"},
		{in: "I.Ivanov@Example.org", want: "i.ivanov"},
		{in: "ivan-ov.2", want: "ivan-ov.2"},
		{in: "", wantErr: true},
		{in: "_ivanov", wantErr: true},
		{in: "iva nov", wantErr: true},
		{in: "иванов", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Login(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestPersonName(t *testing.T) {
	assert.True(t, PersonName("Иван"))
	assert.True(t, PersonName("Римский-Корсаков"))
	assert.True(t, PersonName("Ёлкин"))
	assert.False(t, PersonName("иван"))
	assert.False(t, PersonName("Ivan"))
	assert.False(t, PersonName("ИВАН"))
}

func TestDefaultPasswordRule(t *testing.T) {
	assert.NoError(t, DefaultPasswordRule("Secret123!!"))
	assert.Error(t, DefaultPasswordRule("Sh0rt!"))
	assert.Error(t, DefaultPasswordRule("nouppercase1!"))
	assert.Error(t, DefaultPasswordRule("NoDigitsHere!"))

	err := DefaultPasswordRule("NoSymbols12345")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a symbol")
}

// legacyPasswordPattern is the default strength pattern operators carry over from existing deployments
const legacyPasswordPattern = `^(?=.*[A-Z])(?=.*\d)(?=.*[!@#$%^&*()_+\-=\[\]{};:"\\|,.<>\/?]).{10,}$`

func TestPatternPasswordRule(t *testing.T) {
	rule, err := PatternPasswordRule(`^.{4,}$`)
	require.NoError(t, err)
	assert.NoError(t, rule("abcd"))
	assert.Error(t, rule("abc"))

	_, err = PatternPasswordRule(`^(unclosed`)
	assert.Error(t, err)
}

func TestPatternPasswordRuleSupportsLookahead(t *testing.T) {
	rule, err := PatternPasswordRule(legacyPasswordPattern)
	require.NoError(t, err)

	assert.NoError(t, rule("Secret123!!"))
	assert.NoError(t, rule("!9zzzzzzzzZ"))
	assert.Error(t, rule("secret123!!"), "no upper-case letter")
	assert.Error(t, rule("SecretSecret!"), "no digit")
	assert.Error(t, rule("Secret12345"), "no symbol")
	assert.Error(t, rule("Sec1!"), "too short")
}

func TestGeneratePasswordForHonoursRule(t *testing.T) {
	rule, err := PatternPasswordRule(legacyPasswordPattern)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		p, err := GeneratePasswordFor(12, rule)
		require.NoError(t, err)
		assert.NoError(t, rule(p))
	}

	tooLong, err := PatternPasswordRule(`^.{40,}$`)
	require.NoError(t, err)
	_, err = GeneratePasswordFor(12, tooLong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no generated password satisfies")
}

func TestGeneratePasswordCoversEveryClass(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		p, err := GeneratePassword(8)
		require.NoError(t, err)
		assert.Len(t, p, MinGeneratedPasswordLength)
		assert.True(t, hasClasses(p), p)
		assert.NoError(t, DefaultPasswordRule(p))
		assert.False(t, strings.ContainsAny(p, `;"`), p)
		seen[p] = true
	}
	assert.Len(t, seen, 50)

	p, err := GeneratePassword(20)
	require.NoError(t, err)
	assert.Len(t, p, 20)
}

func TestBool(t *testing.T) {
	b, err := Bool("TRUE")
	require.NoError(t, err)
	assert.True(t, b)
	b, err = Bool(" false ")
	require.NoError(t, err)
	assert.False(t, b)
	_, err = Bool("yes")
	assert.Error(t, err)
	_, err = Bool("")
	assert.Error(t, err)
}

func TestBirthdayLayouts(t *testing.T) {
	cases := map[string]string{
		"25.12.1985":        "1985-12-25",
		"5.3.1985":          "1985-03-05",
		"25/12/1985":        "1985-12-25",
		"25-12-1985":        "1985-12-25",
		"1985-12-25":        "1985-12-25",
		"1985/12/25":        "1985-12-25",
		"12/25/1985":        "1985-12-25",
		"25.12.85":          "1985-12-25",
		"1985.12.25":        "1985-12-25",
		"25 December 1985":  "1985-12-25",
		"december 25, 1985": "1985-12-25",
		"December 25 1985":  "1985-12-25",
	}
	for in, want := range cases {
		got, err := Birthday(in, fixedNow, 10, 100)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Birthday("31.02.1985", fixedNow, 10, 100)
	assert.Error(t, err)
	_, err = Birthday("yesterday", fixedNow, 10, 100)
	assert.Error(t, err)
}

func TestBirthdayAgeWindow(t *testing.T) {
	fiveYears := fixedNow.AddDate(-5, 0, 0).Format("02.01.2006")
	_, err := Birthday(fiveYears, fixedNow, 10, 100)
	assert.Error(t, err)

	fiftyYears := fixedNow.AddDate(-50, 0, 0).Format("02.01.2006")
	got, err := Birthday(fiftyYears, fixedNow, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, "1974-06-15", got)

	_, err = Birthday("01.01.1900", fixedNow, 10, 100)
	assert.Error(t, err)
}

func TestPhone(t *testing.T) {
	cases := map[string]string{
		"89991234567":                   "+7 (999) 123-45-67",
		"+7 999 123-45-67":              "+7 (999) 123-45-67",
		"8 (999) 123 45 67 доб. 12":     "+7 (999) 123-45-67 ext. 12",
		"+1 (415) 555-0100 ext 42":      "14155550100 ext. 42",
		"+1 (415) 555-0100 EXTENSION 7": "14155550100 ext. 7",
		"123":                           "123",
		"12.34.56":                      "123456",
	}
	for in, want := range cases {
		got, err := Phone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{
		"12",
		"12345678901234567",
		"999+1234567",
		"++79991234567",
		"+7 (999 123",
		"+7 )999( 123",
		"+7 999 abc",
		"+-7999",
	} {
		_, err := Phone(bad)
		assert.Error(t, err, bad)
	}
}

func TestPhoneCanonicalFormIsStable(t *testing.T) {
	for _, in := range []string{"89991234567", "+1 (415) 555-0100 ext 42", "+44 20 7946 0958"} {
		first, err := Phone(in)
		require.NoError(t, err)
		second, err := Phone(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestEmail(t *testing.T) {
	for _, good := range []string{"ivan@example.org", "i.ivanov-1@mail.example.co.uk"} {
		_, err := Email(good)
		assert.NoError(t, err, good)
	}
	for _, bad := range []string{
		"",
		"ivan",
		"ivan@@example.org",
		"a@b@example.org",
		"@example.org",
		"ivan@",
		".ivan@example.org",
		"ivan.@example.org",
		"ivan@.example.org",
		"iv..an@example.org",
		"ivan@example",
		"ivan@exa_mple.org",
		strings.Repeat("a", 65) + "@example.org",
	} {
		_, err := Email(bad)
		assert.Error(t, err, bad)
	}
}

func TestAlias(t *testing.T) {
	got, err := Alias("I.Ivanov")
	require.NoError(t, err)
	assert.Equal(t, "i.ivanov", got)

	for _, good := range []string{"ab", "a_b", "a-b.c", strings.Repeat("a", 50)} {
		_, err := Alias(good)
		assert.NoError(t, err, good)
	}
	for _, bad := range []string{"a", strings.Repeat("a", 51), ".ab", "ab-", "a..b", "a--b", "a b", "иван"} {
		_, err := Alias(bad)
		assert.Error(t, err, bad)
	}
}

func TestLanguageAndGender(t *testing.T) {
	v, ok := Language("RU")
	assert.True(t, ok)
	assert.Equal(t, "ru", v)
	_, ok = Language("de")
	assert.False(t, ok)

	v, ok = Gender("")
	assert.True(t, ok)
	assert.Equal(t, "", v)
	_, ok = Gender("other")
	assert.False(t, ok)
}
