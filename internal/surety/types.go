package surety

import (
	"fmt"
	"strconv"
	"strings"
)

// Principal is an opaque caller identity attributed by the transport.
type Principal string

// Amount is a value in base units. One whole unit of value is Unit base units.
type Amount int64

// Unit is one whole unit of value (the stake and policy constants are
// expressed in whole units).
const Unit Amount = 1_000_000_000

const unitDecimals = 9

// String renders the amount in whole units, e.g. "1.5".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / int64(Unit)
	frac := v % int64(Unit)
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}
	fs := fmt.Sprintf("%09d", frac)
	return sign + strconv.FormatInt(whole, 10) + "." + strings.TrimRight(fs, "0")
}

// ParseAmount parses a decimal amount in whole units ("10", "1.5").
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	wholePart, fracPart, _ := strings.Cut(s, ".")
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > unitDecimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, unitDecimals)
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var frac int64
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart+strings.Repeat("0", unitDecimals-len(fracPart)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	if whole > (1<<63-1)/int64(Unit)-1 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	v := Amount(whole)*Unit + Amount(frac)
	if neg {
		v = -v
	}
	return v, nil
}

// Status is a flight status code as reported by oracles.
type Status uint8

const (
	StatusUnknown       Status = 0
	StatusOnTime        Status = 10
	StatusLateAirline   Status = 20
	StatusLateWeather   Status = 30
	StatusLateTechnical Status = 40
	StatusLateOther     Status = 50
)

var statusNames = map[Status]string{
	StatusUnknown:       "unknown",
	StatusOnTime:        "on_time",
	StatusLateAirline:   "late_airline",
	StatusLateWeather:   "late_weather",
	StatusLateTechnical: "late_technical",
	StatusLateOther:     "late_other",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether s is a status a flight can be finalized to.
func (s Status) Terminal() bool {
	_, known := statusNames[s]
	return known && s != StatusUnknown
}

// ParseStatus accepts either the numeric code ("20") or the name ("late_airline").
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if code, err := strconv.Atoi(s); err == nil {
		if code >= 0 && code <= 255 {
			if _, ok := statusNames[Status(code)]; ok {
				return Status(code), nil
			}
		}
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, code)
	}
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// FlightKey identifies a flight: the operating airline, the flight code and the
// departure time in unix seconds.
type FlightKey struct {
	Airline   Principal `json:"airline"`
	Code      string    `json:"code"`
	Departure int64     `json:"departure"`
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Airline, k.Code, k.Departure)
}

func (k FlightKey) validate() error {
	if k.Airline == "" || strings.TrimSpace(k.Code) == "" {
		return fmt.Errorf("%w: flight needs an airline and a code", ErrInvalidArgument)
	}
	if k.Departure <= 0 {
		return fmt.Errorf("%w: flight departure must be a positive unix timestamp", ErrInvalidArgument)
	}
	return nil
}

// QueryKey identifies one oracle status request for a flight.
type QueryKey struct {
	Flight FlightKey `json:"flight"`
	Nonce  uint8     `json:"nonce"`
}

func (k QueryKey) String() string {
	return fmt.Sprintf("%s/%d", k.Flight, k.Nonce)
}

// PolicyKey identifies a passenger's policy on a flight.
type PolicyKey struct {
	Passenger Principal
	Flight    FlightKey
}

// Call is one attributable operation: who invoked it and the value attached.
type Call struct {
	Caller Principal
	Value  Amount
}

// From builds a Call with no attached value.
func From(caller Principal) Call {
	return Call{Caller: caller}
}
