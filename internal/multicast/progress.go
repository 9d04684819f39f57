package multicast

// Progress is the aggregate delivery state of a multicast.
type Progress struct {
	Success   []Packet
	Failed    []Packet
	Remaining []Packet
	Completed []Packet
	Total     int
	Percent   float64

	// ErrorMessages holds the status messages of Failure and Partial
	// transmissions.
	ErrorMessages []string
}

const (
	basePercent     = 25
	packetsPercent  = 65
	finishedPercent = 10
)

// Aggregate partitions the packets of m. A transmission wholly in Success
// or Failure marks all of its packets that way without inspecting them.
func Aggregate(m Multicast) Progress {
	var p Progress
	for _, t := range m.Transmissions {
		switch t.State {
		case TransmissionSuccess:
			p.Success = append(p.Success, t.Packets...)
		case TransmissionFailure:
			p.Failed = append(p.Failed, t.Packets...)
		default:
			for _, pk := range t.Packets {
				switch pk.State {
				case PacketSuccess:
					p.Success = append(p.Success, pk)
				case PacketFailure:
					p.Failed = append(p.Failed, pk)
				default:
					p.Remaining = append(p.Remaining, pk)
				}
			}
		}

		if (t.State == TransmissionFailure || t.State == TransmissionPartial) && t.Status != nil && t.Status.Message != "" {
			p.ErrorMessages = append(p.ErrorMessages, t.Status.Message)
		}
	}

	p.Completed = make([]Packet, 0, len(p.Success)+len(p.Failed))
	p.Completed = append(append(p.Completed, p.Success...), p.Failed...)
	p.Total = len(p.Completed) + len(p.Remaining)
	p.Percent = percent(len(p.Completed), p.Total)
	return p
}

func percent(completed, total int) float64 {
	if total == 0 {
		return basePercent
	}
	v := basePercent + packetsPercent*float64(completed)/float64(total)
	if completed == total {
		v += finishedPercent
	}
	return v
}

// Done reports whether every enumerated packet has completed.
func (p Progress) Done() bool {
	return p.Total > 0 && len(p.Remaining) == 0
}
