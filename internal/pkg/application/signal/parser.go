package signal

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNoTokenFound  = errors.New("no token found")
	ErrNoNumberFound = errors.New("no number found")
	ErrParse         = errors.New("could not parse number")
	ErrOutOfRange    = errors.New("value out of range")
)

const DefaultControlMarker string = "HELP_BUTTON_PRESSED"

type Kind int

const (
	KindValue Kind = iota
	KindControl
)

// Reading is what a raw device chunk turned out to contain.
type Reading struct {
	Kind  Kind
	Value float64
	Token string
}

var (
	lineSplitter = regexp.MustCompile(`[\r\n]+`)
	numberRegexp = regexp.MustCompile(`-?\d+(\.\d+)?`)
)

type Parser struct {
	controlMarker string
}

func NewParser(controlMarker string) Parser {
	if controlMarker == "" {
		controlMarker = DefaultControlMarker
	}
	return Parser{controlMarker: controlMarker}
}

// Parse extracts the most recent reading from a chunk of device output. A chunk
// may hold several lines, partial lines or noise, and only the last non empty
// line is considered.
func (p Parser) Parse(raw []byte) (Reading, error) {
	text := strings.ToValidUTF8(string(raw), "")

	token := lastToken(text)
	if token == "" {
		return Reading{}, ErrNoTokenFound
	}

	if strings.Contains(token, p.controlMarker) {
		return Reading{Kind: KindControl, Token: token}, nil
	}

	number := numberRegexp.FindString(token)
	if number == "" {
		return Reading{Token: token}, fmt.Errorf("%w in %q", ErrNoNumberFound, token)
	}

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Reading{Token: token}, fmt.Errorf("%w: %s", ErrParse, err.Error())
	}

	return Reading{Kind: KindValue, Value: v, Token: token}, nil
}

func lastToken(text string) string {
	parts := lineSplitter.Split(text, -1)
	for i := len(parts) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(parts[i]); t != "" {
			return t
		}
	}
	return ""
}

// Band is the physically plausible range of a reading, bounds inclusive.
type Band struct {
	Min float64
	Max float64
}

func DefaultBand() Band {
	return Band{Min: 10, Max: 60}
}

func (b Band) Validate(v float64) error {
	if v < b.Min || v > b.Max {
		return fmt.Errorf("%w: %.2f not within [%.2f, %.2f]", ErrOutOfRange, v, b.Min, b.Max)
	}
	return nil
}
