// Package geoip resolves client addresses to ISO country codes with a
// GeoLite2 database. The resolver is an explicitly owned handle: construct it
// at startup, pass it where needed, close it on shutdown.
package geoip

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Resolver wraps a GeoLite2 country database.
type Resolver struct {
	db     *geoip2.Reader
	logger *slog.Logger
}

// Open loads the database at path. A missing file is not an error condition
// worth failing startup over: GeoIP is an optional enrichment, so Open
// returns (nil, nil) and callers treat a nil Resolver as disabled.
func Open(path string, logger *slog.Logger) (*Resolver, error) {
	if path == "" {
		logger.Debug("GeoIP database path not configured - country fallback disabled")
		return nil, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found - country fallback disabled",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil, nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}

	logger.Info("GeoLite2 database initialized", slog.String("path", path))
	return &Resolver{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (r *Resolver) Close() error {
	return r.db.Close()
}

// CountryCode returns the upper-case ISO code for the address, or "" when it
// cannot be parsed or resolved.
func (r *Resolver) CountryCode(ipAddr string) string {
	ip := net.ParseIP(ipAddr)
	if ip == nil {
		r.logger.Debug("Unparseable ip address", slog.String("ip_addr", ipAddr))
		return ""
	}

	record, err := r.db.Country(ip)
	if err != nil {
		r.logger.Debug("GeoIP lookup failed",
			slog.String("ip_addr", ipAddr),
			slog.Any("error", err))
		return ""
	}

	code := record.Country.IsoCode
	if code == "" || code == "--" {
		return ""
	}
	return strings.ToUpper(code)
}
