package sim

import "errors"

var (
	ErrEmptyFleet      = errors.New("sim: fleet has no aircraft")
	ErrEmptyID         = errors.New("sim: aircraft id is empty")
	ErrDuplicateID     = errors.New("sim: duplicate aircraft id")
	ErrInvalidRadius   = errors.New("sim: orbit radius must be a positive number of meters")
	ErrInvalidSpeed    = errors.New("sim: cruise speed must be a positive number of m/s")
	ErrInvalidCenter   = errors.New("sim: center must satisfy |lat| < 90 and |lon| <= 180")
	ErrInvalidAltitude = errors.New("sim: altitude must be finite")
	ErrInvalidAngle    = errors.New("sim: initial angle must be finite")
)
