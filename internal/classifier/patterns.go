package classifier

import (
	"regexp"

	"github.com/setevik/sosdesk/internal/incident"
)

// rule maps device kinds and message patterns to an incident type.
type rule struct {
	typ      incident.Type
	kinds    map[string]bool
	messages []*regexp.Regexp
}

// rules are evaluated in order; the first match wins. Kinds are compared
// after lower-casing.
var rules = []rule{
	{
		typ: incident.TypeSOS,
		kinds: map[string]bool{
			"sos": true, "sos_button": true, "panic": true, "panic_button": true, "pendant": true,
		},
		messages: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsos\b`),
			regexp.MustCompile(`(?i)panic (button|alarm)`),
			regexp.MustCompile(`(?i)help (button|requested)`),
		},
	},
	{
		typ: incident.TypeFireAlarm,
		kinds: map[string]bool{
			"fire": true, "fire_alarm": true, "fire_panel": true, "heat": true, "heat_detector": true,
		},
		messages: []*regexp.Regexp{
			regexp.MustCompile(`(?i)fire alarm`),
			regexp.MustCompile(`(?i)heat (detector|threshold)`),
		},
	},
	{
		typ: incident.TypeSmokeDetector,
		kinds: map[string]bool{
			"smoke": true, "smoke_detector": true, "smoke_alarm": true,
		},
		messages: []*regexp.Regexp{
			regexp.MustCompile(`(?i)smoke`),
		},
	},
	{
		typ: incident.TypeGasLeak,
		kinds: map[string]bool{
			"gas": true, "gas_leak": true, "gas_sensor": true, "lpg": true, "co": true, "methane": true,
		},
		messages: []*regexp.Regexp{
			regexp.MustCompile(`(?i)gas (leak|detected|concentration)`),
			regexp.MustCompile(`(?i)\b(lpg|methane|carbon monoxide)\b`),
		},
	},
	{
		typ: incident.TypeFallDetection,
		kinds: map[string]bool{
			"fall": true, "fall_detection": true, "fall_sensor": true,
		},
		messages: []*regexp.Regexp{
			regexp.MustCompile(`(?i)fall (detected|event)`),
			regexp.MustCompile(`(?i)\bhas fallen\b`),
		},
	},
}

// ignoredKinds are housekeeping signals that never raise an incident.
var ignoredKinds = map[string]bool{
	"heartbeat":   true,
	"battery":     true,
	"low_battery": true,
	"online":      true,
	"offline":     true,
	"test":        true,
	"restore":     true,
}

// ignoredMessages drop signals whose message marks them as housekeeping even
// when the kind is an alarm kind (e.g. a smoke detector self-test).
var ignoredMessages = []*regexp.Regexp{
	regexp.MustCompile(`(?i)self[- ]?test`),
	regexp.MustCompile(`(?i)\b(cleared|restored|reset)\b`),
}
