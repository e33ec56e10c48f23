package gps

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNoDollar    = errors.New("gps: missing '$'")
	ErrBadChecksum = errors.New("gps: checksum mismatch")
	ErrUnsupported = errors.New("gps: unsupported sentence")
	ErrShort       = errors.New("gps: too few fields")
)

// Decoder folds RMC and GGA sentences into a single fix, the way a
// receiver-side reader would see this simulator's output.
type Decoder struct {
	last Data
}

// Feed validates one sentence and applies it to the current fix.
func (d *Decoder) Feed(line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return ErrNoDollar
	}
	if !ValidChecksum(line) {
		return ErrBadChecksum
	}

	switch {
	case strings.HasPrefix(line, "$GPRMC") || strings.HasPrefix(line, "$GNRMC"):
		return d.parseRMC(line)
	case strings.HasPrefix(line, "$GPGGA") || strings.HasPrefix(line, "$GNGGA"):
		return d.parseGGA(line)
	default:
		return fmt.Errorf("%w: %.6s", ErrUnsupported, line)
	}
}

// Snapshot returns a copy of the latest fix.
func (d *Decoder) Snapshot() Data {
	return d.last
}

func (d *Decoder) parseRMC(line string) error {
	// $GPRMC,hhmmss.sss,A,llll.llll,a,yyyyy.yyyy,a,x.x,x.x,ddmmyy,x.x,a*hh
	parts := splitNMEA(line)
	if len(parts) < 10 {
		return fmt.Errorf("%w: rmc has %d", ErrShort, len(parts))
	}

	d.last.Timestamp = parts[1]
	d.last.Valid = parts[2] == "A"
	d.last.Date = parts[9]

	if d.last.Valid {
		d.last.Latitude = ParseCoord(parts[3], parts[4])
		d.last.Longitude = ParseCoord(parts[5], parts[6])

		if spd, err := strconv.ParseFloat(parts[7], 64); err == nil {
			d.last.Speed = spd
		}
		if hdg, err := strconv.ParseFloat(parts[8], 64); err == nil {
			d.last.Heading = hdg
		}
	}
	return nil
}

func (d *Decoder) parseGGA(line string) error {
	// $GPGGA,hhmmss.sss,llll.llll,a,yyyyy.yyyy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
	parts := splitNMEA(line)
	if len(parts) < 11 {
		return fmt.Errorf("%w: gga has %d", ErrShort, len(parts))
	}

	d.last.Timestamp = parts[1]
	if fix, err := strconv.Atoi(parts[6]); err == nil {
		d.last.FixQuality = fix
		if fix > 0 {
			d.last.Latitude = ParseCoord(parts[2], parts[3])
			d.last.Longitude = ParseCoord(parts[4], parts[5])
		}
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		d.last.Satellites = sats
	}
	if hdop, err := strconv.ParseFloat(parts[8], 64); err == nil {
		d.last.HDOP = hdop
	}
	if alt, err := strconv.ParseFloat(parts[9], 64); err == nil {
		d.last.Altitude = alt
	}
	return nil
}

// splitNMEA splits a sentence and strips the checksum suffix.
func splitNMEA(line string) []string {
	if idx := strings.IndexByte(line, '*'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// ParseCoord converts NMEA ddmm.mmmm (or dddmm.mmmm) plus a hemisphere
// letter back to signed decimal degrees.
func ParseCoord(raw, hemi string) float64 {
	if raw == "" || hemi == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(val / 100)
	mins := val - deg*100
	result := deg + mins/60

	if hemi == "S" || hemi == "W" {
		result = -result
	}
	return result
}
