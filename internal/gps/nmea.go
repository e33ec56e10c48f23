package gps

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// KnotsPerMPS converts meters per second to knots.
const KnotsPerMPS = 1.94384

// Builder assembles GPRMC and GPGGA sentences from simulated positions.
// The clock is read once per sentence, so time and date always agree
// within a sentence but may differ between the two.
type Builder struct {
	clock func() time.Time
}

// NewBuilder creates a sentence builder. A nil clock uses time.Now.
func NewBuilder(clock func() time.Time) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{clock: clock}
}

// Messages builds both sentences for pos, GPRMC first.
func (b *Builder) Messages(pos PlanePosition) NMEAMessages {
	rmc := b.GPRMC(pos)
	gga := b.GPGGA(pos)
	return NMEAMessages{GPRMC: rmc, GPGGA: gga}
}

// GPRMC builds a Recommended Minimum sentence:
//
//	$GPRMC,hhmmss.sss,A,ddmm.mmmm,N,dddmm.mmmm,E,kkk.k,hhh.h,ddmmyy,,A*CS
func (b *Builder) GPRMC(pos PlanePosition) string {
	now := b.clock()
	body := fmt.Sprintf("$GPRMC,%s,A,%s,%s,%.1f,%.1f,%s,,A",
		FormatTime(now),
		FormatLatitude(pos.Latitude),
		FormatLongitude(pos.Longitude),
		pos.Speed*KnotsPerMPS,
		pos.Heading,
		FormatDate(now),
	)
	return body + Checksum(body)
}

// GPGGA builds a Fix Data sentence. Fix quality, satellite count, HDOP and
// geoid separation are fixed; the DGPS fields stay empty.
//
//	$GPGGA,hhmmss.sss,ddmm.mmmm,N,dddmm.mmmm,E,1,08,0.9,aaa.a,M,0.0,M,,*CS
func (b *Builder) GPGGA(pos PlanePosition) string {
	now := b.clock()
	body := fmt.Sprintf("$GPGGA,%s,%s,%s,1,08,0.9,%.1f,M,0.0,M,,",
		FormatTime(now),
		FormatLatitude(pos.Latitude),
		FormatLongitude(pos.Longitude),
		pos.Altitude,
	)
	return body + Checksum(body)
}

// FormatLatitude renders decimal degrees as "ddmm.mmmm,H".
func FormatLatitude(lat float64) string {
	hemi := "N"
	if lat < 0 {
		hemi = "S"
	}
	return formatCoord(lat, 2, hemi)
}

// FormatLongitude renders decimal degrees as "dddmm.mmmm,H".
func FormatLongitude(lon float64) string {
	hemi := "E"
	if lon < 0 {
		hemi = "W"
	}
	return formatCoord(lon, 3, hemi)
}

// formatCoord splits |v| into truncated degrees and minutes. Minutes that
// round to 60.0000 are printed as such and not carried into degrees.
func formatCoord(v float64, degWidth int, hemi string) string {
	v = math.Abs(v)
	deg := int(v)
	minutes := (v - float64(deg)) * 60.0
	return fmt.Sprintf("%0*d%07.4f,%s", degWidth, deg, minutes, hemi)
}

// FormatTime renders t as the NMEA UTC time field hhmmss.sss.
// Sub-millisecond precision is truncated.
func FormatTime(t time.Time) string {
	return t.UTC().Format("150405.000")
}

// FormatDate renders t as the NMEA UTC date field ddmmyy.
func FormatDate(t time.Time) string {
	return t.UTC().Format("020106")
}

// Checksum XORs every byte after the leading '$' up to the first '*' (or the
// end of the string) and returns it as "*HH".
func Checksum(sentence string) string {
	var ck byte
	for i := 1; i < len(sentence); i++ {
		if sentence[i] == '*' {
			break
		}
		ck ^= sentence[i]
	}
	return fmt.Sprintf("*%02X", ck)
}

// ValidChecksum reports whether the two hex digits after '*' match the
// checksum of the sentence body.
func ValidChecksum(line string) bool {
	idx := strings.IndexByte(line, '*')
	if idx < 0 || idx+3 > len(line) || !strings.HasPrefix(line, "$") {
		return false
	}
	return strings.EqualFold(line[idx:idx+3], Checksum(line[:idx]))
}
