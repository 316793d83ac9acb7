package transcoder

// MobileViewportCutoff is the widest viewport still treated as mobile
const MobileViewportCutoff = 768

// Network effective connection types as reported by delivery clients
const (
	NetworkSlow2G = "slow-2g"
	Network2G     = "2g"
	Network3G     = "3g"
	Network4G     = "4g"
)

// DeliveryContext carries the client-side signals that drive adaptive
// quality and dimension selection
type DeliveryContext struct {
	// ViewportWidth is the client viewport in CSS pixels (0 = unknown)
	ViewportWidth int

	// EffectiveType is the reported network class (slow-2g/2g/3g/4g)
	EffectiveType string

	// Aggressive requests stronger compression, used for small preview
	// contexts where fidelity matters less than latency
	Aggressive bool
}

// Mobile reports whether the context describes a mobile-sized viewport.
// An unknown viewport is treated as desktop.
func (dc DeliveryContext) Mobile() bool {
	return dc.ViewportWidth > 0 && dc.ViewportWidth < MobileViewportCutoff
}

// slowNetwork reports the 2G class connections
func (dc DeliveryContext) slowNetwork() bool {
	return dc.EffectiveType == NetworkSlow2G || dc.EffectiveType == Network2G
}
