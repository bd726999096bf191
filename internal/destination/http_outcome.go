package destination

// httpStatusOutcomes maps HTTP-style destination status codes to the
// four delivery outcomes (§4.4: "HTTP-style destinations map status
// codes to the four outcomes via lookup table; unmapped codes default
// to Retry"). The listed 2xx codes succeed; the listed 4xx rejections
// (400, 403, 404, 413, 422) are treated as a permanent rejection of this
// particular payload (Drop, not Retry, since resending the same bytes
// will fail the same way); 408, 429 and the listed 5xx codes are
// transient and worth retrying; 401 reads as "the connection itself is
// bad" and maps to Disconnect. Any code not listed here is a Retry.
var httpStatusOutcomes = map[int]Outcome{
	200: OutcomeSuccess,
	201: OutcomeSuccess,
	202: OutcomeSuccess,
	204: OutcomeSuccess,

	400: OutcomeDrop,
	401: OutcomeDisconnect,
	403: OutcomeDrop,
	404: OutcomeDrop,
	413: OutcomeDrop,
	422: OutcomeDrop,

	408: OutcomeRetry,
	429: OutcomeRetry,
	500: OutcomeRetry,
	502: OutcomeRetry,
	503: OutcomeRetry,
	504: OutcomeRetry,
}

// ResolveHTTPStatus looks up code in the status table, defaulting to
// Retry for anything unmapped so an unfamiliar status code never drops
// a message silently.
func ResolveHTTPStatus(code int) Outcome {
	if o, ok := httpStatusOutcomes[code]; ok {
		return o
	}
	return OutcomeRetry
}
