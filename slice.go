package flexlink

import "fmt"

// Slice mirrors one receiver slice: a tunable demodulator with its own
// frequency, mode and audio routing. Slice indices are small integers
// assigned by the radio.
type Slice struct {
	entityBase

	Frequency  uint64 // Hz
	Mode       string
	RXAnt      string
	TXAnt      string
	AntList    []string
	ModeList   []string
	FilterLow  int
	FilterHigh int
	AudioGain  float64
	AudioPan   float64
	AudioMute  bool
	Active     bool
	Locked     bool
	DAXChannel int
	Panadapter uint32 // owning panadapter stream ID
}

func newSlice(s *Session, id uint32) *Slice {
	return &Slice{entityBase: entityBase{id: id, session: s}}
}

func (s *Slice) Kind() EntityKind { return KindSlice }

// Ready: a slice is announced to the application once the radio has told
// us where it is tuned and how it demodulates.
func (s *Slice) Ready() bool { return s.Frequency != 0 && s.Mode != "" }

func (s *Slice) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "RF_frequency", "rf_frequency":
		s.Frequency, err = parseMHz(t.Value)
	case "mode":
		s.Mode = t.Value
	case "rxant":
		s.RXAnt = t.Value
	case "txant":
		s.TXAnt = t.Value
	case "ant_list":
		s.AntList = parseList(t.Value)
	case "mode_list":
		s.ModeList = parseList(t.Value)
	case "filter_lo":
		s.FilterLow, err = parseInt(t.Value)
	case "filter_hi":
		s.FilterHigh, err = parseInt(t.Value)
	case "audio_gain", "audio_level":
		s.AudioGain, err = parseFloat(t.Value)
	case "audio_pan":
		s.AudioPan, err = parseFloat(t.Value)
	case "audio_mute":
		s.AudioMute, err = parseBool(t.Value)
	case "active":
		s.Active, err = parseBool(t.Value)
	case "lock":
		s.Locked, err = parseBool(t.Value)
	case "dax":
		s.DAXChannel, err = parseInt(t.Value)
	case "pan":
		s.Panadapter, err = parseID(t.Value)
	case "in_use":
		// consumed by the dispatcher, nothing to store
	default:
		return false
	}
	if err != nil {
		logTokenError(KindSlice, s.id, t, err)
	}
	return true
}

// Tune moves the slice to a new frequency and echoes the change to the
// radio unless the change came from the radio in the first place.
func (s *Slice) Tune(hz uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frequency = hz
	s.echo(fmt.Sprintf("slice tune %d %s", s.id, hzToMHz(hz)))
}

// SetMode selects the demodulation mode (USB, LSB, CW, ...).
func (s *Slice) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mode = mode
	s.echo(fmt.Sprintf("slice set %d mode=%s", s.id, mode))
}

// SetAudioMute mutes or unmutes the slice's receive audio.
func (s *Slice) SetAudioMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioMute = mute
	s.echo(fmt.Sprintf("slice set %d audio_mute=%s", s.id, boolToWire(mute)))
}

// SetFilter adjusts the receive filter edges in Hz relative to the carrier.
func (s *Slice) SetFilter(low, high int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FilterLow, s.FilterHigh = low, high
	s.echo(fmt.Sprintf("filt %d %d %d", s.id, low, high))
}
