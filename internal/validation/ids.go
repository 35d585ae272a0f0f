package validation

import (
	"regexp"
	"strings"
)

var (
	digitsPattern      = regexp.MustCompile(`^[0-9]+$`)
	dutchVATPattern    = regexp.MustCompile(`^NL[0-9]{9}B[0-9]{2}$`)
	romanianVATPattern = regexp.MustCompile(`^RO[0-9]{2,10}$`)
	romanianCUIPattern = regexp.MustCompile(`^(RO)?[0-9]{2,10}$`)
	italianVATPattern  = regexp.MustCompile(`^IT[0-9]{11}$`)
	destinatarioCode   = regexp.MustCompile(`^[A-Z0-9]{6,7}$`)
)

func isDigits(s string, n int) bool {
	return len(s) == n && digitsPattern.MatchString(s)
}

// ValidOIN reports whether s is a 20-digit Dutch government identifier
func ValidOIN(s string) bool {
	return isDigits(s, 20)
}

// ValidKVK reports whether s is an 8-digit Dutch chamber of commerce number
func ValidKVK(s string) bool {
	return isDigits(s, 8)
}

// ValidDutchVAT reports whether s matches NL + 9 digits + B + 2 digits
func ValidDutchVAT(s string) bool {
	return dutchVATPattern.MatchString(s)
}

// ValidRomanianVAT reports whether s matches RO + 2 to 10 digits
func ValidRomanianVAT(s string) bool {
	return romanianVATPattern.MatchString(s)
}

// ValidCUI validates a Romanian fiscal code: 2 to 10 digits, optional RO
// prefix, last digit is the control digit over key 753217532.
func ValidCUI(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !romanianCUIPattern.MatchString(s) {
		return false
	}
	s = strings.TrimPrefix(s, "RO")

	body, control := s[:len(s)-1], int(s[len(s)-1]-'0')
	body = strings.Repeat("0", 9-len(body)) + body

	const key = "753217532"
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(body[i]-'0') * int(key[i]-'0')
	}
	check := sum * 10 % 11
	if check == 10 {
		check = 0
	}
	return check == control
}

// ValidNIP validates a Polish tax number: 10 digits, weighted mod-11 checksum
func ValidNIP(s string) bool {
	s = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "PL"), "-", "")
	if !isDigits(s, 10) {
		return false
	}

	weights := [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}
	sum := 0
	for i, w := range weights {
		sum += int(s[i]-'0') * w
	}
	check := sum % 11
	return check != 10 && check == int(s[9]-'0')
}

// ValidItalianVAT reports whether s matches IT + 11 digits
func ValidItalianVAT(s string) bool {
	return italianVATPattern.MatchString(s)
}

// ValidDestinatario reports whether s is an SDI recipient code (6 or 7 characters)
func ValidDestinatario(s string) bool {
	return destinatarioCode.MatchString(strings.ToUpper(s))
}
