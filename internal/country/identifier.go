package country

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kyxap1/geonames-cache/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Identifier is anything a caller may use to name a country. The set of
// implementations is closed: CountryRef, LocationRef, Object, ID, Code and
// Unknown.
type Identifier interface {
	identifier()
}

// CountryRef is an entity the caller already holds
type CountryRef struct {
	Country *Country
}

// LocationRef is a generic location record
type LocationRef struct {
	Location *types.Location
}

// Object is a loosely typed record carrying a geoname id field
type Object struct {
	Fields Fields
}

// ID is a geoname id
type ID int

// Code is an ISO2 country code
type Code string

// Unknown wraps input of an unrecognized shape
type Unknown struct {
	Raw interface{}
}

func (CountryRef) identifier()  {}
func (LocationRef) identifier() {}
func (Object) identifier()      {}
func (ID) identifier()          {}
func (Code) identifier()        {}
func (Unknown) identifier()     {}

// ParseIdentifier maps decoded input (CLI arguments, JSON values) onto an
// Identifier. Whole numbers and numeric strings become IDs, other strings
// Codes, objects Objects.
func ParseIdentifier(raw interface{}) Identifier {
	switch v := raw.(type) {
	case Identifier:
		return v
	case *Country:
		return CountryRef{Country: v}
	case *types.Location:
		return LocationRef{Location: v}
	case Fields:
		return Object{Fields: v}
	case map[string]interface{}:
		return Object{Fields: Fields(v)}
	case int:
		return ID(v)
	case int64:
		return ID(v)
	case float64:
		if v != math.Trunc(v) {
			return Unknown{Raw: raw}
		}
		return ID(int(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return ID(n)
		}
		return Unknown{Raw: raw}
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return ID(n)
		}
		return Code(s)
	default:
		return Unknown{Raw: raw}
	}
}

// Kind is the outcome of classifying an Identifier
type Kind int

const (
	Invalid Kind = iota
	Resolved
	ByID
	ByCode
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case ByID:
		return "by_id"
	case ByCode:
		return "by_code"
	default:
		return "invalid"
	}
}

// Resolution is a classified identifier
type Resolution struct {
	Kind    Kind
	Country *Country
	ID      int
	Code    string
}

// Classify resolves an identifier against the registry or turns it into a
// storage lookup. It never fails: unusable input is logged and classified
// Invalid.
func Classify(reg *Registry, id Identifier, logger *logrus.Logger) Resolution {
	switch v := id.(type) {
	case CountryRef:
		if v.Country == nil {
			break
		}
		return Resolution{Kind: Resolved, Country: v.Country}

	case LocationRef:
		// A location with a usable id or code is still dropped here; callers
		// that want its country must pass the id or code directly.
		fields := logrus.Fields{"input": "location"}
		if v.Location != nil {
			fields["geoname_id"] = v.Location.GeonameID
			fields["country_code"] = v.Location.CountryCode
		}
		logger.WithFields(fields).Warn("Received invalid location object while loading a country")
		return Resolution{Kind: Invalid}

	case Object:
		geonameID := objectGeonameID(v.Fields)
		if geonameID > 0 {
			if c, ok := reg.ByID(geonameID); ok {
				if err := c.Apply(v.Fields); err != nil {
					logger.WithError(err).WithField("geoname_id", geonameID).
						Warn("Failed to refresh country from object")
					return Resolution{Kind: Invalid}
				}
				return Resolution{Kind: Resolved, Country: c}
			}
		}
		logger.WithField("geoname_id", geonameID).Warn("Received invalid location object while loading a country")
		return Resolution{Kind: Invalid}

	case ID:
		n := int(v)
		if n <= 0 {
			logger.WithField("geoname_id", n).Warn("Received invalid geoname id while loading a country")
			return Resolution{Kind: Invalid}
		}
		if c, ok := reg.ByID(n); ok {
			return Resolution{Kind: Resolved, Country: c}
		}
		return Resolution{Kind: ByID, ID: n}

	case Code:
		code := NormalizeCode(string(v))
		if code == "" {
			logger.Warn("Received empty country code while loading a country")
			return Resolution{Kind: Invalid}
		}
		if c, ok := reg.ByCode(code); ok {
			return Resolution{Kind: Resolved, Country: c}
		}
		return Resolution{Kind: ByCode, Code: code}
	}

	logger.WithField("input", id).Warn("Received invalid input while loading a country")
	return Resolution{Kind: Invalid}
}

func objectGeonameID(f Fields) int {
	for _, key := range []string{"geonameId", "geoname_id"} {
		if v, ok := f[key]; ok && v != nil {
			if n, err := cast.ToIntE(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
