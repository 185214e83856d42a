package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/cwbudde/algo-slowplay/queue"
	"github.com/cwbudde/algo-slowplay/reverb"
	"github.com/cwbudde/algo-slowplay/stretch"
)

// ErrNoDetector is returned by SetTargetBPM when no BPMDetector is set.
var ErrNoDetector = errors.New("transport: no tempo detector")

type transition struct {
	from, to State
}

// Session is the control side of the transport. It owns the queue, the
// sample store and the state machine. All methods are safe for concurrent
// use; they are serialized by an internal mutex.
//
// The render side is the streamer returned by Output. Hosts pull it from
// their audio callback and call Tick (or Run) so track completions are
// picked up.
type Session struct {
	mu sync.Mutex

	opts     Options
	decoder  Decoder
	detector BPMDetector

	queue  *queue.Queue
	store  *stretch.Store
	player *Player
	output *reverb.Effect

	state   State
	percent float64
	loads   uint64

	logger   *log.Logger
	listener func(from, to State)
	pending  []transition
}

// NewSession creates an empty session in the NoFile state.
func NewSession(dec Decoder, opts *Options) (*Session, error) {
	if dec == nil {
		return nil, fmt.Errorf("transport: nil decoder")
	}
	if opts == nil {
		opts = NewDefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	store := stretch.NewStore()
	player := NewPlayer(store, opts.SampleRate)
	s := &Session{
		opts:    *opts,
		decoder: dec,
		queue:   queue.New(),
		store:   store,
		player:  player,
		output:  reverb.New(player, opts.Reverb),
		state:   NoFile,
		percent: opts.SlowPercent,
	}
	s.output.SetMix(opts.ReverbMix)
	return s, nil
}

// SetLogger enables lifecycle logging. A nil logger disables it.
func (s *Session) SetLogger(l *log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

// SetStateListener registers fn to be called after every state change. fn
// runs on the goroutine that caused the change, after the session lock has
// been released.
func (s *Session) SetStateListener(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// SetDetector sets the tempo collaborator used by SetTargetBPM.
func (s *Session) SetDetector(d BPMDetector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector = d
}

// unlock releases the session lock and dispatches queued state changes.
func (s *Session) unlock() {
	events := s.pending
	s.pending = nil
	fn := s.listener
	s.mu.Unlock()
	if fn == nil {
		return
	}
	for _, e := range events {
		fn(e.from, e.to)
	}
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Add probes path and appends it to the queue. When nothing is loaded the
// new track is decoded and the session moves to Stopped. A file that cannot
// be decoded is not queued.
func (s *Session) Add(path string) error {
	t, err := s.decoder.Probe(path)
	if err != nil {
		return fmt.Errorf("add %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.unlock()
	s.queue.Append(t)
	if s.state != NoFile {
		s.logf("queued %s (%d tracks)", t.ID, s.queue.Len())
		return nil
	}
	if err := s.loadHeadLocked(); err != nil {
		s.queue.PopHead()
		return fmt.Errorf("add %s: %w", path, err)
	}
	s.setStateLocked(Stopped)
	return nil
}

// Play starts or resumes playback.
func (s *Session) Play() {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Stopped || s.state == Paused {
		s.setStateLocked(Playing)
	}
}

// Pause halts playback and keeps the play-head.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Playing {
		s.setStateLocked(Paused)
	}
}

// Stop halts playback and rewinds to the start of the track.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Playing || s.state == Paused {
		s.setStateLocked(Stopped)
	}
}

// Skip abandons the active track and advances to the next one.
func (s *Session) Skip() error {
	_, err := s.DeleteAt(0)
	return err
}

// DeleteAt removes the queue entry at index. Removing the active track (index
// 0) behaves like a completion: the next track is loaded and the previous
// state restored. Other indices are removed without touching the transport.
func (s *Session) DeleteAt(index int) (queue.Track, error) {
	s.mu.Lock()
	defer s.unlock()
	if index != 0 {
		t, err := s.queue.DeleteAt(index)
		if err == nil {
			s.logf("removed %s", t.ID)
		}
		return t, err
	}
	head, err := s.queue.Head()
	if err != nil {
		return queue.Track{}, err
	}
	s.advanceLocked()
	return head, nil
}

// Seek moves the play-head of a playing or paused track. In Stopped the
// play-head stays at zero.
func (s *Session) Seek(d time.Duration) error {
	s.mu.Lock()
	defer s.unlock()
	if s.state != Playing && s.state != Paused {
		return nil
	}
	buf := s.store.Derived()
	if buf == nil || buf.SampleRate <= 0 {
		return nil
	}
	if err := s.player.Seek(stretch.DurationToFrames(d, buf.SampleRate)); err != nil {
		return err
	}
	s.player.clearEnded()
	if s.state == Playing {
		// The player stops itself at the end of a track.
		s.player.start()
	}
	return nil
}

// SetSlowPercent applies a new slow-down percentage in [0,100]. Values
// outside the range are clamped. Without a loaded track this is a no-op.
func (s *Session) SetSlowPercent(percent float64) error {
	s.mu.Lock()
	defer s.unlock()
	if !s.state.Loaded() {
		return nil
	}
	percent = stretch.ClampPercent(percent)
	interval := stretch.IntervalFromPercent(percent, s.store.Original().Len())
	if err := s.rebuildLocked(interval); err != nil {
		return err
	}
	s.percent = percent
	return nil
}

// SetInterval applies a duplication interval directly. An interval below 1
// fails with stretch.ErrInvalidParameter and leaves playback untouched.
func (s *Session) SetInterval(interval int) error {
	s.mu.Lock()
	defer s.unlock()
	if !s.state.Loaded() {
		return nil
	}
	if err := s.rebuildLocked(interval); err != nil {
		return err
	}
	if interval >= stretch.NoStretchInterval(s.store.Original().Len()) {
		s.percent = 0
	} else {
		s.percent = stretch.ClampPercent(100 / float64(interval))
	}
	return nil
}

// SetTempo slows the active track from sourceBPM toward targetBPM.
func (s *Session) SetTempo(sourceBPM, targetBPM float64) error {
	return s.SetSlowPercent(stretch.PercentFromBPM(sourceBPM, targetBPM))
}

// SetTargetBPM detects the tempo of the active track and slows it toward
// targetBPM. It returns the detected source tempo.
func (s *Session) SetTargetBPM(targetBPM float64) (float64, error) {
	s.mu.Lock()
	det := s.detector
	head, err := s.queue.Head()
	s.mu.Unlock()
	if det == nil {
		return 0, ErrNoDetector
	}
	if err != nil {
		return 0, nil
	}

	source, err := det.DetectBPM(head.Path)
	if err != nil {
		return 0, fmt.Errorf("detect %s: %w", head.ID, err)
	}

	s.mu.Lock()
	defer s.unlock()
	if cur, err := s.queue.Head(); err != nil || cur.Path != head.Path || !s.state.Loaded() {
		// The track changed while detecting.
		return source, nil
	}
	percent := stretch.PercentFromBPM(source, targetBPM)
	interval := stretch.IntervalFromPercent(percent, s.store.Original().Len())
	if err := s.rebuildLocked(interval); err != nil {
		return source, err
	}
	s.percent = percent
	s.logf("tempo %s: %.2f BPM -> %.2f BPM (%.2f%% slower)", head.ID, source, targetBPM, percent)
	return source, nil
}

// SetReverb sets the reverb wet percentage in [0,100].
func (s *Session) SetReverb(mix float64) {
	s.output.SetMix(mix)
}

// Tick checks whether the player ran off the end of the active track and,
// if so, performs the Done transition. It reports whether a completion was
// handled.
func (s *Session) Tick() bool {
	s.mu.Lock()
	defer s.unlock()
	if !s.player.takeEnded() {
		return false
	}
	// A stop, seek or skip since the flag was raised supersedes it.
	if s.state != Playing || s.player.Position() < s.player.Len() {
		return false
	}
	s.logf("finished %s", s.nowPlayingLocked().ID)
	s.advanceLocked()
	return true
}

// Run calls Tick whenever the player signals the end of a track and at every
// poll interval, until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.player.Ended():
			s.Tick()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// State returns the current transport state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the play-head of the derived buffer.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.store.Derived()
	if buf == nil {
		return 0
	}
	return stretch.FramesToDuration(s.player.Position(), buf.SampleRate)
}

// Duration returns the length of the derived buffer.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Derived().Duration()
}

// Interval returns the duplication interval of the active track, or 0
// without one.
func (s *Session) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Interval()
}

// SlowPercent returns the active slow-down percentage.
func (s *Session) SlowPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

// NowPlaying returns the active track.
func (s *Session) NowPlaying() (queue.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == NoFile {
		return queue.Track{}, false
	}
	return s.nowPlayingLocked(), true
}

// LoadCount returns how many tracks have been loaded so far. It changes every
// time a new head becomes active, even when the same file is queued twice.
func (s *Session) LoadCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Tracks returns a copy of the queue, active track first.
func (s *Session) Tracks() []queue.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Tracks()
}

// Output returns the render chain: the player followed by the reverb.
func (s *Session) Output() beep.Streamer {
	return s.output
}

// Format returns the format of the render chain.
func (s *Session) Format() beep.Format {
	return s.player.Format()
}

func (s *Session) nowPlayingLocked() queue.Track {
	t, _ := s.queue.Head()
	return t
}

// setStateLocked switches state and runs the entry action of the new state.
func (s *Session) setStateLocked(to State) {
	from := s.state
	s.state = to
	switch to {
	case NoFile:
		s.player.pause()
		s.store.Clear()
		s.player.Seek(0)
		s.player.clearEnded()
		s.percent = 0
	case Stopped:
		s.player.pause()
		s.player.Seek(0)
		s.player.clearEnded()
	case Playing:
		s.player.start()
	case Paused:
		s.player.pause()
	case Done:
		s.player.pause()
	}
	if to == NoFile || to == Stopped || to == Done {
		s.output.Reset()
	}
	if from == to {
		return
	}
	s.logf("state %s -> %s", from, to)
	s.pending = append(s.pending, transition{from: from, to: to})
}

// advanceLocked runs the Done transition: drop the active track, load the
// next decodable one and return to the state that was active before.
func (s *Session) advanceLocked() {
	prev := s.state
	s.setStateLocked(Done)
	s.queue.PopHead()
	for s.queue.Len() > 0 {
		if err := s.loadHeadLocked(); err != nil {
			bad, _ := s.queue.PopHead()
			s.logf("skipping %s: %v", bad.ID, err)
			continue
		}
		if prev == Done || prev == NoFile {
			prev = Stopped
		}
		s.setStateLocked(prev)
		return
	}
	s.setStateLocked(NoFile)
}

// loadHeadLocked decodes the head of the queue and publishes it stretched
// with the current ratio, play-head at zero.
func (s *Session) loadHeadLocked() error {
	head, err := s.queue.Head()
	if err != nil {
		return err
	}
	buf, err := s.decoder.Decode(head)
	if err != nil {
		return err
	}
	interval := stretch.IntervalFromPercent(s.percent, buf.Len())
	derived, err := stretch.Stretch(buf, interval)
	if err != nil {
		return err
	}
	s.player.invalidate()
	s.store.SetOriginal(buf)
	s.store.Publish(derived, interval)
	s.player.Seek(0)
	s.player.clearEnded()
	s.loads++

	head.Frames = buf.Len()
	head.SampleRate = buf.SampleRate
	s.queue.SetHead(head)
	s.logf("loaded %s (%d frames, interval %d)", head.ID, buf.Len(), s.store.Interval())
	return nil
}

// rebuildLocked re-stretches the active track with interval. Playback passes
// through Paused while the new buffer is published and resumes at the same
// fraction of the track.
func (s *Session) rebuildLocked(interval int) error {
	derived, err := s.store.Build(interval)
	if err != nil {
		return err
	}
	prev := s.state
	if prev == Playing {
		s.setStateLocked(Paused)
	}
	frac := s.player.Fraction()
	s.player.invalidate()
	s.store.Publish(derived, interval)
	if prev != Stopped {
		s.player.Seek(int(math.Round(frac * float64(derived.Len()))))
	}
	if prev == Playing {
		s.setStateLocked(Playing)
	}
	s.logf("interval %d (%d frames)", interval, derived.Len())
	return nil
}
