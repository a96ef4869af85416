// Package elm drives ELM327 command/response exchanges over an obd.Transport.
package elm

import "strings"

// Sentinel replies produced by the channel itself.
const (
	Timeout          = "TIMEOUT"
	SearchingTimeout = "SEARCHING_TIMEOUT"
)

// ReplyKind classifies accumulated adapter output.
type ReplyKind int

const (
	// ReplyPending means more bytes are needed.
	ReplyPending ReplyKind = iota
	ReplyTerminal
	// ReplySearching means the adapter is auto-detecting the vehicle protocol.
	ReplySearching
	ReplyError
	ReplyTimeout
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyPending:
		return "pending"
	case ReplyTerminal:
		return "terminal"
	case ReplySearching:
		return "searching"
	case ReplyError:
		return "error"
	case ReplyTimeout:
		return "timeout"
	}
	return "unknown"
}

var (
	completionKeywords = []string{"OK", "ERROR", "NO DATA", "BUS INIT"}
	searchAbortMarkers = []string{"UNABLE TO CONNECT", "STOPPED", "BUS ERROR", "CAN ERROR"}
	errorMarkers       = []string{"ERROR", "UNABLE TO CONNECT", "STOPPED", "BUFFER FULL"}
	retryMarkers       = []string{"BUS INIT", "ERROR", "TIMEOUT", "BUFFER FULL"}
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Classify inspects the bytes accumulated so far for one command.
func Classify(buf string) ReplyKind {
	u := strings.ToUpper(buf)
	trimmed := strings.TrimSpace(u)
	switch trimmed {
	case "":
		return ReplyPending
	case Timeout, SearchingTimeout:
		return ReplyTimeout
	}

	prompt := strings.Contains(u, ">")
	if strings.Contains(u, "SEARCHING") && !prompt {
		if containsAny(u, searchAbortMarkers) {
			return ReplyError
		}
		return ReplySearching
	}
	if prompt || containsAny(u, completionKeywords) {
		if containsAny(u, errorMarkers) || clean(u) == "?" {
			return ReplyError
		}
		return ReplyTerminal
	}
	return ReplyPending
}

// ShouldRetry reports whether a completed reply is worth sending again.
// A search that ends in UNABLE TO CONNECT or NO DATA means the adapter works
// but no vehicle answers, which is not retried.
func ShouldRetry(resp string) bool {
	u := strings.ToUpper(strings.TrimSpace(resp))
	if u == "" {
		return true
	}
	searching := strings.Contains(u, "SEARCHING")
	if searching && (strings.Contains(u, "UNABLE TO CONNECT") || strings.Contains(u, "NO DATA")) {
		return false
	}
	if containsAny(u, retryMarkers) || u == "?" {
		return true
	}
	if searching {
		rest := strings.ReplaceAll(u, "SEARCHING", "")
		return strings.Trim(rest, ". \r\n") == ""
	}
	return false
}

// NoVehicle reports a reply meaning the adapter answers but the ECU does not.
func NoVehicle(resp string) bool {
	u := strings.ToUpper(resp)
	return strings.Contains(u, "UNABLE TO CONNECT") || strings.Contains(u, "NO DATA")
}

func clean(buf string) string {
	return strings.TrimSpace(strings.ReplaceAll(buf, ">", ""))
}
