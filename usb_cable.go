package flexlink

import "fmt"

// USBCableType enumerates the cable variants the radio supports.
type USBCableType string

const (
	CableBCD   USBCableType = "bcd"
	CableBit   USBCableType = "bit"
	CableCAT   USBCableType = "cat"
	CableDSTAR USBCableType = "dstar"
	CableLDPA  USBCableType = "ldpa"
)

func validCableType(s string) (USBCableType, bool) {
	switch USBCableType(s) {
	case CableBCD, CableBit, CableCAT, CableDSTAR, CableLDPA:
		return USBCableType(s), true
	}
	return "", false
}

// USBCable mirrors one USB cable attached to the radio. Cables are the
// odd one out in the lifecycle: the right variant cannot be constructed
// until the "type" property is seen, so status lines that arrive before a
// valid type are dropped and the cable is created from a later line.
type USBCable struct {
	entityBase

	CableType USBCableType
	Name      string
	Enabled   bool
	Connected bool
	Serial    string
	// CAT-variant settings
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

func newUSBCable(s *Session, id uint32, ct USBCableType) *USBCable {
	return &USBCable{entityBase: entityBase{id: id, session: s}, CableType: ct}
}

// usbCableFromTokens is the deferred constructor: it returns nil unless the
// property set carries a valid disambiguating type.
func usbCableFromTokens(s *Session, id uint32, tokens []Token) Entity {
	for _, t := range tokens {
		if t.Key == "type" {
			if ct, ok := validCableType(t.Value); ok {
				return newUSBCable(s, id, ct)
			}
			return nil
		}
	}
	return nil
}

func (c *USBCable) Kind() EntityKind { return KindUSBCable }

// Ready: a cable is announced once it has a name.
func (c *USBCable) Ready() bool { return c.Name != "" }

func (c *USBCable) ApplyToken(t Token) bool {
	var err error
	switch t.Key {
	case "type":
		// fixed at construction
	case "name":
		c.Name = t.Value
	case "enable", "enabled":
		c.Enabled, err = parseBool(t.Value)
	case "plugged_in", "connected":
		c.Connected, err = parseBool(t.Value)
	case "serial_number":
		c.Serial = t.Value
	case "speed":
		c.BaudRate, err = parseInt(t.Value)
	case "data_bits":
		c.DataBits, err = parseInt(t.Value)
	case "stop_bits":
		c.StopBits, err = parseInt(t.Value)
	case "parity":
		c.Parity = t.Value
	case "source", "source_rx_ant", "source_tx_ant", "source_slice", "auto_report":
		// CAT routing settings, known but not mirrored
	default:
		return false
	}
	if err != nil {
		logTokenError(KindUSBCable, c.id, t, err)
	}
	return true
}

// SetEnabled turns the cable on or off.
func (c *USBCable) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Enabled = enabled
	c.echo(fmt.Sprintf("usb_cable set %s enable=%s", formatID(c.id), boolToWire(enabled)))
}
