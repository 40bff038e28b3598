package divar

import (
	"math/rand/v2"
	"net/http"
)

// browserIdentity is a coherent set of fingerprinting headers.
type browserIdentity struct {
	userAgent string
	secCHUA   string
	platform  string
	mobile    string
}

var identities = []browserIdentity{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		secCHUA:   `"Chromium";v="120", "Google Chrome";v="120", "Not=A?Brand";v="99"`,
		platform:  `"Windows"`,
		mobile:    "?0",
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
		secCHUA:   `"Chromium";v="124", "Microsoft Edge";v="124", "Not-A.Brand";v="99"`,
		platform:  `"Windows"`,
		mobile:    "?0",
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		secCHUA:   `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
		platform:  `"macOS"`,
		mobile:    "?0",
	},
	{
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		secCHUA:   `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`,
		platform:  `"Linux"`,
		mobile:    "?0",
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		platform:  `"Windows"`,
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		platform:  `"macOS"`,
	},
}

func randomIdentity() browserIdentity {
	return identities[rand.IntN(len(identities))]
}

// browserHeaders builds the header set a browser tab on the marketplace's web
// origin would send to its API.
func browserHeaders(origin, referer string) http.Header {
	id := randomIdentity()
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("User-Agent", id.userAgent)
	h.Set("Origin", origin)
	h.Set("Referer", referer)
	if id.secCHUA != "" {
		h.Set("sec-ch-ua", id.secCHUA)
		h.Set("sec-ch-ua-mobile", id.mobile)
		h.Set("sec-ch-ua-platform", id.platform)
	}
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-site")
	return h
}
