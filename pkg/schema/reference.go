// Package schema defines the JSON data model shared by the API server and its clients.
package schema

// Kind names a family of reference entities.
type Kind string

const (
	KindCity  Kind = "city"
	KindTribe Kind = "tribe"
)

// Plural returns the collection name used in envelopes and cache keys.
func (k Kind) Plural() string {
	switch k {
	case KindCity:
		return "cities"
	case KindTribe:
		return "tribes"
	default:
		return string(k) + "s"
	}
}

// City is a city that was the target of one or more invasions.
// InvasionCount is derived from the invasions table at read time.
type City struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Country       string `json:"country"`
	ModernName    string `json:"modern_name"`
	Description   string `json:"description"`
	InvasionCount int    `json:"invasion_count"`
}

// Tribe is an invading people.
type Tribe struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Origin        string `json:"origin"`
	Leader        string `json:"leader"`
	Description   string `json:"description"`
	InvasionCount int    `json:"invasion_count"`
}

// EntityRef is the short form of an entity embedded in relation listings.
type EntityRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CityInvasion is an invasion seen from the invaded city, joined with the tribe.
type CityInvasion struct {
	ID          int64  `json:"id"`
	Year        int    `json:"year"`
	Description string `json:"description"`
	Outcome     string `json:"outcome"`
	TribeID     int64  `json:"tribe_id"`
	TribeName   string `json:"tribe_name"`
	Origin      string `json:"origin"`
	Leader      string `json:"leader"`
}

// TribeInvasion is an invasion seen from the invading tribe, joined with the city.
type TribeInvasion struct {
	ID          int64  `json:"id"`
	Year        int    `json:"year"`
	Description string `json:"description"`
	Outcome     string `json:"outcome"`
	CityID      int64  `json:"city_id"`
	CityName    string `json:"city_name"`
	Country     string `json:"country"`
}

// CityList is the envelope returned when listing cities.
type CityList struct {
	Cities []City `json:"cities"`
	Count  int    `json:"count"`
	Cached bool   `json:"cached"`
}

// TribeList is the envelope returned when listing tribes.
type TribeList struct {
	Tribes []Tribe `json:"tribes"`
	Count  int     `json:"count"`
	Cached bool    `json:"cached"`
}

// CityInvasions is the envelope returned when listing the invasions of one city.
type CityInvasions struct {
	City      EntityRef      `json:"city"`
	Invasions []CityInvasion `json:"invasions"`
	Count     int            `json:"count"`
	Cached    bool           `json:"cached"`
}

// TribeInvasions is the envelope returned when listing the invasions of one tribe.
type TribeInvasions struct {
	Tribe     EntityRef       `json:"tribe"`
	Invasions []TribeInvasion `json:"invasions"`
	Count     int             `json:"count"`
	Cached    bool            `json:"cached"`
}
