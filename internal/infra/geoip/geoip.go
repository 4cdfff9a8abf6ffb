package geoip

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnknownIP is returned when the address cannot be parsed or resolved.
var ErrUnknownIP = errors.New("geoip: address could not be resolved")

// Location is the normalized result of an IP lookup. Codes are uppercase
// ISO; empty fields mean the database had no answer.
type Location struct {
	CountryCode   string
	City          string
	ContinentCode string
	Lat           *float64
	Lon           *float64
}

// Reader wraps a MaxMind City database.
type Reader struct {
	db *geoip2.Reader
}

// Open loads the mmdb file at path.
func Open(path string) (*Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

// Close releases the underlying database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// City resolves an IP address to its location.
func (r *Reader) City(ipStr string) (Location, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Location{}, ErrUnknownIP
	}

	record, err := r.db.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("geoip: lookup %s: %w", ipStr, err)
	}

	loc := Location{
		CountryCode:   record.Country.IsoCode,
		ContinentCode: record.Continent.Code,
	}
	if name, ok := record.City.Names["en"]; ok {
		loc.City = name
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat := record.Location.Latitude
		lon := record.Location.Longitude
		loc.Lat = &lat
		loc.Lon = &lon
	}
	return loc, nil
}
