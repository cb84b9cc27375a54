package browser

import "math/rand/v2"

// Identity are the browser fingerprint overrides of a session.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Locale         string
	Timezone       string
	Platform       string
	ViewportWidth  int
	ViewportHeight int
}

var userAgents = []struct{ ua, platform string }{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "Linux x86_64"},
}

var locales = []struct{ locale, lang, tz string }{
	{"en-US", "en-US,en;q=0.9", "America/New_York"},
	{"en-GB", "en-GB,en;q=0.9", "Europe/London"},
	{"de-DE", "de-DE,de;q=0.9,en;q=0.8", "Europe/Berlin"},
	{"fr-FR", "fr-FR,fr;q=0.9,en;q=0.8", "Europe/Paris"},
	{"es-ES", "es-ES,es;q=0.9,en;q=0.8", "Europe/Madrid"},
}

var viewports = [][2]int{
	{1920, 1080},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

// RandomIdentity returns a human plausible identity, r can be nil.
func RandomIdentity(r *rand.Rand) Identity {
	intn := rand.IntN
	if r != nil {
		intn = r.IntN
	}

	ua := userAgents[intn(len(userAgents))]
	loc := locales[intn(len(locales))]
	vp := viewports[intn(len(viewports))]

	return Identity{
		UserAgent:      ua.ua,
		Platform:       ua.platform,
		Locale:         loc.locale,
		AcceptLanguage: loc.lang,
		Timezone:       loc.tz,
		ViewportWidth:  vp[0],
		ViewportHeight: vp[1],
	}
}
