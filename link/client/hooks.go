package client

// ConnectCallback is invoked on every UP/OUTAGE transition with up=true when
// the supervisor enters the UP state and up=false when it enters OUTAGE.
type ConnectCallback func(up bool)

// FailureHook is the shape of the bad_wifi/bad_server extension points:
// overridable strategies supplied at construction time. The default
// implementations only treat the failure as fatal on the engine's very
// first connection attempt ever; on every subsequent attempt the
// supervisor silently falls through to OUTAGE and retries.
type FailureHook func(err error)

func defaultBadWifi(err error) {
	panic("client: initial network bring-up failed: " + err.Error())
}

func defaultBadServer(err error) {
	panic("client: initial connection to server failed: " + err.Error())
}

// IndicatorToggle is fired each time a keepalive is received, letting a
// caller blink an LED or similar. Optional.
type IndicatorToggle func()
