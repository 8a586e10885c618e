package sale

import "time"

// Phase is the derived state of a sale. It is never stored.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseScheduled
	PhaseRegistration
	PhaseSale
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseScheduled:
		return "scheduled"
	case PhaseRegistration:
		return "registration"
	case PhaseSale:
		return "sale"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase name for JSON payloads.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Schedule holds the absolute window boundaries of an initialized sale in unix
// seconds. Each window is half open: [start, end).
type Schedule struct {
	RegistrationStart int64 `json:"registrationStart"`
	RegistrationEnd   int64 `json:"registrationEnd"`
	SaleStart         int64 `json:"saleStart"`
	SaleEnd           int64 `json:"saleEnd"`
	LockUntil         int64 `json:"lockUntil"`
}

// ScheduleFor derives the window boundaries from a start anchor.
func ScheduleFor(start int64, cfg Config) Schedule {
	regEnd := start + seconds(cfg.RegistrationDuration)
	saleStart := regEnd + seconds(cfg.SaleGap)
	saleEnd := saleStart + seconds(cfg.SaleDuration)
	return Schedule{
		RegistrationStart: start,
		RegistrationEnd:   regEnd,
		SaleStart:         saleStart,
		SaleEnd:           saleEnd,
		LockUntil:         saleEnd + seconds(cfg.LockGrace),
	}
}

// PhaseAt computes the phase at now. The gap between registration and sale
// reports Closed.
func PhaseAt(now int64, initialized bool, s Schedule) Phase {
	switch {
	case !initialized:
		return PhaseUninitialized
	case now < s.RegistrationStart:
		return PhaseScheduled
	case now < s.RegistrationEnd:
		return PhaseRegistration
	case now >= s.SaleStart && now < s.SaleEnd:
		return PhaseSale
	default:
		return PhaseClosed
	}
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }
