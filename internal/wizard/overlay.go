package wizard

import "fmt"

// Overlay is the panel shown above Results. Exactly one variant is active;
// the zero value is OverlayNone.
type Overlay string

const (
	OverlayNone            Overlay = ""
	OverlayLeadCapture     Overlay = "leadCapture"
	OverlayMessaging       Overlay = "messaging"
	OverlayLegacyMessaging Overlay = "legacyMessaging"
)

// Overlays lists the openable variants in display order.
var Overlays = []Overlay{OverlayLeadCapture, OverlayMessaging, OverlayLegacyMessaging}

// ParseOverlay accepts the variant names plus "none".
func ParseOverlay(s string) (Overlay, error) {
	switch s {
	case "", "none":
		return OverlayNone, nil
	case string(OverlayLeadCapture):
		return OverlayLeadCapture, nil
	case string(OverlayMessaging):
		return OverlayMessaging, nil
	case string(OverlayLegacyMessaging):
		return OverlayLegacyMessaging, nil
	}
	return OverlayNone, fmt.Errorf("wizard: unknown overlay %q", s)
}

func (o Overlay) String() string {
	if o == OverlayNone {
		return "none"
	}
	return string(o)
}

// Active reports whether a panel is shown.
func (o Overlay) Active() bool { return o != OverlayNone }

func (o Overlay) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Overlay) UnmarshalText(text []byte) error {
	parsed, err := ParseOverlay(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
