// Package machine provides the simulated hardware that the scheduling core runs on:
// an interrupt controller that can be disabled and restored, and a tick-driven timer
// that invokes a handler at a fixed cadence.
//
// Nothing here runs on its own. Time only moves when the kernel advances the timer,
// either because the running thread consumed ticks or because the machine is idle.
// That keeps every interleaving deterministic and lets tests reason about exact tick
// counts.
//
// Example usage:
//
//	m := machine.New(machine.DefaultConfig())
//	m.Timer().SetHandler(func() { /* runs with interrupts disabled */ })
//
//	prev := m.Interrupt().Disable()
//	// ... atomic section ...
//	m.Interrupt().Restore(prev)
//
//	m.Timer().Advance(1200) // fires the handler at ticks 500 and 1000
package machine

// Config holds the tunables of a simulated machine.
type Config struct {
	// TimerInterval is the number of ticks between timer interrupts.
	TimerInterval int64
	// YieldTicks is the simulated cost of a voluntary context switch.
	YieldTicks int64
}

// DefaultConfig returns the stock machine: a timer interrupt every 500 ticks and
// a 10 tick charge per yield.
func DefaultConfig() Config {
	return Config{
		TimerInterval: 500,
		YieldTicks:    10,
	}
}

// Machine bundles the simulated devices.
type Machine struct {
	cfg       Config
	interrupt *Interrupt
	timer     *Timer
}

// New creates a machine from cfg. Non-positive values fall back to the defaults.
func New(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = def.TimerInterval
	}
	if cfg.YieldTicks < 0 {
		cfg.YieldTicks = def.YieldTicks
	}

	intr := &Interrupt{enabled: true}
	return &Machine{
		cfg:       cfg,
		interrupt: intr,
		timer:     newTimer(intr, cfg.TimerInterval),
	}
}

// Config returns the configuration the machine was built with.
func (m *Machine) Config() Config { return m.cfg }

// Interrupt returns the interrupt controller.
func (m *Machine) Interrupt() *Interrupt { return m.interrupt }

// Timer returns the tick timer.
func (m *Machine) Timer() *Timer { return m.timer }
