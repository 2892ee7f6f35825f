package speedtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("[%v, %v]", c.Lat, c.Lon)
}

// Distance returns the great-circle distance between a and b in kilometres
// using the haversine formula. NaN inputs yield NaN.
func Distance(a, b Coordinate) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

type Location struct {
	Name string
	CC   string
	Coordinate
}

// Locations are the virtual locations selectable by name.
var Locations = map[string]*Location{
	"brasilia":     {"brasilia", "br", Coordinate{-15.793876, -47.8835327}},
	"hongkong":     {"hongkong", "hk", Coordinate{22.3106806, 114.1700546}},
	"tokyo":        {"tokyo", "jp", Coordinate{35.680938, 139.7674114}},
	"london":       {"london", "uk", Coordinate{51.5072493, -0.1288861}},
	"moscow":       {"moscow", "ru", Coordinate{55.7497248, 37.615989}},
	"beijing":      {"beijing", "cn", Coordinate{39.8721243, 116.4077473}},
	"paris":        {"paris", "fr", Coordinate{48.8626026, 2.3477229}},
	"sanfrancisco": {"sanfrancisco", "us", Coordinate{37.7540028, -122.4429967}},
	"newyork":      {"newyork", "us", Coordinate{40.7200876, -74.0220945}},
	"yishun":       {"yishun", "sg", Coordinate{1.4230218, 103.8404728}},
	"delhi":        {"delhi", "in", Coordinate{28.6251287, 77.1960896}},
	"monterrey":    {"monterrey", "mx", Coordinate{25.6881435, -100.3073485}},
	"berlin":       {"berlin", "de", Coordinate{52.5168128, 13.4009469}},
	"maputo":       {"maputo", "mz", Coordinate{-25.9579267, 32.5760444}},
	"honolulu":     {"honolulu", "us", Coordinate{20.8247065, -156.918706}},
	"seoul":        {"seoul", "kr", Coordinate{37.6086268, 126.7179721}},
	"osaka":        {"osaka", "jp", Coordinate{34.6952743, 135.5006967}},
	"shanghai":     {"shanghai", "cn", Coordinate{31.2292105, 121.4661666}},
	"urumqi":       {"urumqi", "cn", Coordinate{43.8256624, 87.6058564}},
	"ottawa":       {"ottawa", "ca", Coordinate{45.4161836, -75.7035467}},
	"capetown":     {"capetown", "za", Coordinate{-33.9391993, 18.4316716}},
	"sydney":       {"sydney", "au", Coordinate{-33.8966622, 151.1731861}},
	"perth":        {"perth", "au", Coordinate{-31.9551812, 115.8591904}},
	"warsaw":       {"warsaw", "pl", Coordinate{52.2396659, 21.0129345}},
	"kampala":      {"kampala", "ug", Coordinate{0.3070027, 32.5675581}},
	"bangkok":      {"bangkok", "th", Coordinate{13.7248936, 100.493026}},
}

// CityList returns the predefined city labels in alphabetical order.
func CityList() []*Location {
	list := make([]*Location, 0, len(Locations))
	for _, v := range Locations {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func GetLocation(locationName string) (*Location, error) {
	loc, ok := Locations[strings.ToLower(locationName)]
	if ok {
		return loc, nil
	}
	return nil, errors.New("not found location")
}

// LookupLocation resolves a city label or a "lat,lon" pair.
func LookupLocation(input string) (*Location, error) {
	if loc, err := GetLocation(input); err == nil {
		return loc, nil
	}
	return ParseLocation("", input)
}

// ParseLocation parse latitude and longitude string
func ParseLocation(locationName string, coordinateStr string) (*Location, error) {
	ll := strings.Split(coordinateStr, ",")
	if len(ll) == 2 {
		// parameters check
		lat, err := betweenRange(ll[0], 90)
		if err != nil {
			return nil, err
		}
		lon, err := betweenRange(ll[1], 180)
		if err != nil {
			return nil, err
		}
		name := "Custom-" + locationName
		if len(locationName) == 0 {
			name = "Custom-Default"
		}
		return &Location{Name: name, Coordinate: Coordinate{Lat: lat, Lon: lon}}, nil
	}
	return nil, fmt.Errorf("invalid location input: %s", coordinateStr)
}

func (l *Location) String() string {
	return fmt.Sprintf("(%s) %s", l.Name, l.Coordinate)
}

// betweenRange latitude and longitude range check
func betweenRange(inputStrValue string, interval float64) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(inputStrValue), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid input: %v", inputStrValue)
	}
	if value < -interval || interval < value {
		return 0, fmt.Errorf("invalid input. got: %v, expected between -%v and %v", inputStrValue, interval, interval)
	}
	return value, nil
}
