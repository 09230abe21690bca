package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event captures a notable engine event for post-mortem analysis
type Event struct {
	Type   uint8  // Event type code
	Arg    uint8  // Row, command code or driver index
	Clock  uint32 // Millisecond tick at event
	Value1 uint32 // Context-dependent value
	Value2 uint32 // Context-dependent value
}

// Event type codes
const (
	EvtSessionStart     = 1 // Session entered Started
	EvtSessionStop      = 2 // Session returned to Idle
	EvtFrameSkipped     = 3 // Pass delayed by frame pacing
	EvtFrameAborted     = 4 // Scanline did not fit or could not be sent
	EvtSampleFault      = 5 // ADC read failed, sentinel reported
	EvtRowFault         = 6 // Row select failed, row dropped
	EvtSettingsRejected = 7 // Write refused (invalid or session active)
	EvtSettingsDefault  = 8 // Stored settings unusable, defaults loaded
	EvtStoreFailed      = 9 // Persisting settings failed
	EvtTriggerEdge      = 10
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event capture ring buffer (non-blocking, for post-mortem)
	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventsEnabled bool = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if !debugEnabled || debugPrintln == nil {
		return
	}
	if debugChan != nil {
		DebugAsync(msg)
		return
	}
	debugPrintln(msg)
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures an event in the ring buffer. It never blocks and
// never allocates.
func RecordEvent(eventType, arg uint8, clock, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	idx := eventRingHead
	eventRing[idx] = Event{
		Type:   eventType,
		Arg:    arg,
		Clock:  clock,
		Value1: value1,
		Value2: value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the recorded events from oldest to newest
func Events() []Event {
	out := make([]Event, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Type == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// EventName returns a printable name for an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtSessionStart:
		return "SESSION_START"
	case EvtSessionStop:
		return "SESSION_STOP"
	case EvtFrameSkipped:
		return "FRAME_SKIPPED"
	case EvtFrameAborted:
		return "FRAME_ABORTED!"
	case EvtSampleFault:
		return "SAMPLE_FAULT!"
	case EvtRowFault:
		return "ROW_FAULT!"
	case EvtSettingsRejected:
		return "SETTINGS_REJECTED"
	case EvtSettingsDefault:
		return "SETTINGS_DEFAULT"
	case EvtStoreFailed:
		return "STORE_FAILED!"
	case EvtTriggerEdge:
		return "TRIGGER"
	}
	return "UNKNOWN"
}

// DumpEvents outputs the event ring (call on shutdown/error)
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENT] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENT] " + EventName(evt.Type) +
			" arg=" + itoa(int(evt.Arg)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[EVENT] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
}
