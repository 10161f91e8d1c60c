package orchestrator

import (
	"log/slog"
	"sync"
	"time"
)

// AudioSink renders one audio reference and returns when playback finishes.
// Implementations are expected to block for the clip's duration.
type AudioSink interface {
	Play(ref string) error
}

// Player enforces the playback discipline: at most one clip in flight,
// forced requests queue behind it while non-forced ones are dropped, and a
// cooldown window keeps back-to-back clips from overlapping.
type Player struct {
	sink     AudioSink
	cooldown time.Duration
	pause    time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	mu       sync.Mutex
	inFlight bool
	lastDone time.Time
	queue    [][]string
	unlocked bool
	pending  []string
}

// NewPlayer creates a player over the sink. cooldown separates consecutive
// clips; pause is the gap between a main message and its listening prompt.
func NewPlayer(sink AudioSink, cooldown, pause time.Duration) *Player {
	return &Player{
		sink:     sink,
		cooldown: cooldown,
		pause:    pause,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Sequence plays the main clip, then a fixed pause, then the prompt clip.
// The prompt leg is skipped when empty or when it resolves to the same
// resource as the main clip. Forced requests queue behind an in-flight clip;
// non-forced requests are dropped while one is playing or still cooling down.
func (p *Player) Sequence(mainRef, promptRef string, forced bool) {
	seq := make([]string, 0, 2)
	if mainRef != "" {
		seq = append(seq, mainRef)
	}
	if promptRef != "" && promptRef != mainRef {
		seq = append(seq, promptRef)
	}
	if len(seq) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.unlocked {
		// Autonomous playback is blocked until the first gesture; keep only
		// the most recent request.
		p.pending = seq
		return
	}
	if p.inFlight {
		if forced {
			p.queue = append(p.queue, seq)
		}
		return
	}
	if !forced && p.now().Before(p.lastDone.Add(p.cooldown)) {
		return
	}
	p.inFlight = true
	go p.run(seq)
}

// Unlock marks playback as permitted and flushes any clip buffered while
// locked. Called on the first user gesture.
func (p *Player) Unlock() {
	p.mu.Lock()
	p.unlocked = true
	seq := p.pending
	p.pending = nil
	start := seq != nil && !p.inFlight
	if start {
		p.inFlight = true
	}
	p.mu.Unlock()

	if start {
		go p.run(seq)
	}
}

// Playing reports whether a clip is currently in flight.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// run plays one sequence and then drains the forced queue. Runs off the
// caller's goroutine; p.inFlight is already set.
func (p *Player) run(seq []string) {
	for {
		// Respect the cooldown left over from the previous clip.
		p.mu.Lock()
		wait := p.lastDone.Add(p.cooldown).Sub(p.now())
		if !p.lastDone.IsZero() && wait > 0 {
			p.mu.Unlock()
			p.sleep(wait)
		} else {
			p.mu.Unlock()
		}

		for i, ref := range seq {
			if i > 0 {
				p.sleep(p.pause)
			}
			if err := p.sink.Play(ref); err != nil {
				slog.Warn("Playback failed", "ref", ref, "error", err)
			}
		}

		p.mu.Lock()
		p.lastDone = p.now()
		if len(p.queue) == 0 {
			p.inFlight = false
			p.mu.Unlock()
			return
		}
		seq = p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
	}
}
