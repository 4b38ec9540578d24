package runtime

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-interview/internal/capture"
	"github.com/loqalabs/loqa-interview/internal/speech"
)

// sessionAdapters are the engines bound to one interview.
type sessionAdapters struct {
	capture capture.Adapter
	speech  speech.Adapter
	closers []func()
}

func (a sessionAdapters) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (r *Runtime) buildAdapters(sessionID string) (sessionAdapters, error) {
	var a sessionAdapters

	switch r.cfg.Capture.Mode {
	case "", "manual":
		a.capture = capture.NewManual()
	case "nats":
		if r.bus == nil {
			return a, errors.New("capture mode nats requires the bus")
		}
		nc := capture.NewNATSAdapter(r.bus, sessionID, r.logger)
		a.capture = nc
		a.closers = append(a.closers, nc.Close)
	default:
		return a, fmt.Errorf("unsupported capture mode %q", r.cfg.Capture.Mode)
	}

	switch r.cfg.Speech.Mode {
	case "", "simulated":
		sim := speech.NewSimulated(r.cfg.Speech.WordsPerSecond, r.cfg.Speech.TimeScale)
		a.speech = sim
		a.closers = append(a.closers, sim.Close)
	case "exec":
		ex, err := speech.NewExecAdapter(r.cfg.Speech.Command, r.cfg.Speech.Voice)
		if err != nil {
			a.close()
			return a, err
		}
		a.speech = ex
		a.closers = append(a.closers, ex.Close)
	case "nats":
		if r.bus == nil {
			a.close()
			return a, errors.New("speech mode nats requires the bus")
		}
		ns := speech.NewNATSAdapter(r.bus, sessionID, r.cfg.Speech.Voice, r.logger)
		a.speech = ns
		a.closers = append(a.closers, ns.Close)
	default:
		a.close()
		return a, fmt.Errorf("unsupported speech mode %q", r.cfg.Speech.Mode)
	}
	return a, nil
}
