package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	ErrEmptyNumber   = errors.New("phone number is empty")
	ErrInvalidNumber = errors.New("phone number is not a possible number")
	ErrUnknownRegion = errors.New("unknown default region")
)

// Normalizer turns loosely formatted numbers into canonical E.164. Numbers
// without a country code are read in the default region.
type Normalizer struct {
	region string
}

func NewNormalizer(defaultRegion string) (*Normalizer, error) {
	region := strings.ToUpper(strings.TrimSpace(defaultRegion))
	if phonenumbers.GetCountryCodeForRegion(region) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, defaultRegion)
	}
	return &Normalizer{region: region}, nil
}

func (n *Normalizer) Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyNumber
	}
	// international "00" prefix, which the parser only knows for some regions
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	num, err := phonenumbers.Parse(s, n.region)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidNumber, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
