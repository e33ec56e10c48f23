package gps

// PlanePosition is one simulated fix, produced fresh on every tick.
type PlanePosition struct {
	Latitude  float64 `json:"latitude"`  // Decimal degrees, signed
	Longitude float64 `json:"longitude"` // Decimal degrees, signed
	Altitude  float64 `json:"altitude"`  // Meters
	Speed     float64 `json:"speed"`     // Meters per second
	Heading   float64 `json:"heading"`   // Degrees true, [0,360)
}

// NMEAMessages is the sentence pair emitted for one aircraft at one tick.
type NMEAMessages struct {
	GPRMC string `json:"gprmc"`
	GPGGA string `json:"gpgga"`
}

// Data holds a fix decoded back out of RMC/GGA sentences.
type Data struct {
	Valid      bool    `json:"valid"`      // RMC status A
	Latitude   float64 `json:"latitude"`   // Decimal degrees
	Longitude  float64 `json:"longitude"`  // Decimal degrees
	Speed      float64 `json:"speed"`      // Knots
	Heading    float64 `json:"heading"`    // Degrees true
	Altitude   float64 `json:"altitude"`   // Meters
	Satellites int     `json:"satellites"` // Sats in use
	FixQuality int     `json:"fixQuality"` // 0=none, 1=GPS, 2=DGPS
	HDOP       float64 `json:"hdop"`       // Horizontal dilution
	Timestamp  string  `json:"timestamp"`  // hhmmss.sss as sent
	Date       string  `json:"date"`       // ddmmyy as sent
}
