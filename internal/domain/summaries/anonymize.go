package summaries

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"medical-photo-sharing/internal/ports/directory"
)

const (
	unknownInitials = "N.N."
	unknownAgeRange = "unknown"
	ageBucketYears  = 5
)

// Anonymize deja sólo iniciales (máx. 3) y un rango de edad de 5 años.
func Anonymize(p directory.Patient, shareDate, now time.Time) AnonymizedPatient {
	return AnonymizedPatient{
		Initials:  initials(p.FullName),
		AgeRange:  ageRange(p.DateOfBirth, now),
		ShareDate: shareDate,
	}
}

func initials(fullName string) string {
	var b strings.Builder
	n := 0
	for _, word := range strings.Fields(fullName) {
		r, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		b.WriteByte('.')
		if n++; n == 3 {
			break
		}
	}
	if n == 0 {
		return unknownInitials
	}
	return b.String()
}

func ageRange(dob *time.Time, now time.Time) string {
	if dob == nil || dob.After(now) {
		return unknownAgeRange
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	lo := age / ageBucketYears * ageBucketYears
	return fmt.Sprintf("%d-%d", lo, lo+ageBucketYears-1)
}
