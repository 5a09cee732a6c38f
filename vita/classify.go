package vita

// FlexRadio identifiers. Values are the numeric (big-endian decoded) form,
// so classification does not depend on host byte order.
const (
	OUIMask uint32 = 0x00FFFFFF
	FlexOUI uint32 = 0x001C2D

	DiscoveryClassID uint64 = 0x00001C2D534CFFFF
	MeterClassID     uint64 = 0x00001C2D534C8002
	AudioClassID     uint64 = 0x00001C2D534C03E3

	DiscoveryStreamID uint32 = 0x00000800
	MeterStreamID     uint32 = 0x88000000

	StreamBitsIn       uint32 = 0x80000000
	StreamBitsOut      uint32 = 0x00000000
	StreamBitsMeter    uint32 = 0x08000000
	StreamBitsWaveform uint32 = 0x01000000
	StreamBitsMask            = StreamBitsIn | StreamBitsOut | StreamBitsMeter | StreamBitsWaveform
)

type Kind int

const (
	KindForeign Kind = iota
	KindDiscovery
	KindMeter
	KindWaveformIn
	KindWaveformOut
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindForeign:
		return "foreign"
	case KindDiscovery:
		return "discovery"
	case KindMeter:
		return "meter"
	case KindWaveformIn:
		return "waveform-in"
	case KindWaveformOut:
		return "waveform-out"
	default:
		return "other"
	}
}

// Classify sorts a header into one of the packet kinds. Packets from
// other vendors are always KindForeign, whatever their stream id.
func Classify(h Header) Kind {
	if h.OUI() != FlexOUI {
		return KindForeign
	}
	if h.StreamID == DiscoveryStreamID && h.ClassID == DiscoveryClassID {
		return KindDiscovery
	}
	if h.StreamID == MeterStreamID && h.ClassID == MeterClassID {
		return KindMeter
	}
	switch h.StreamID & StreamBitsMask {
	case StreamBitsWaveform | StreamBitsIn:
		return KindWaveformIn
	case StreamBitsWaveform | StreamBitsOut:
		return KindWaveformOut
	case StreamBitsMeter | StreamBitsIn:
		return KindMeter
	}
	return KindOther
}

// IsTxDirection reports whether an into-waveform stream carries microphone
// audio (odd stream id) rather than receive audio from the radio.
func IsTxDirection(streamID uint32) bool {
	return streamID&0x1 != 0
}
