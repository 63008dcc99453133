package market

import (
	"strings"
	"unicode"
)

type tickerAlias struct {
	name   string
	ticker string
}

// commonTickers is ordered: partial matches take the first hit.
var commonTickers = []tickerAlias{
	{"volvo", "VOLV-B.ST"},
	{"ericsson", "ERIC-B.ST"},
	{"h&m", "HM-B.ST"},
	{"hm", "HM-B.ST"},
	{"hennes & mauritz", "HM-B.ST"},
	{"atlas copco", "ATCO-A.ST"},
	{"abb", "ABB.ST"},
	{"sandvik", "SAND.ST"},
	{"seb", "SEB-A.ST"},
	{"swedbank", "SWED-A.ST"},
	{"handelsbanken", "SHB-A.ST"},
	{"nordea", "NDA-SE.ST"},
	{"investor", "INVE-B.ST"},
	{"essity", "ESSITY-B.ST"},
	{"hexagon", "HEXA-B.ST"},
	{"assa abloy", "ASSA-B.ST"},
	{"skf", "SKF-B.ST"},
	{"telia", "TELIA.ST"},
	{"electrolux", "ELUX-B.ST"},
	{"epiroc", "EPI-A.ST"},
	{"securitas", "SECU-B.ST"},
	{"svenska cellulosa", "SCA-B.ST"},
	{"sca", "SCA-B.ST"},
	{"boliden", "BOL.ST"},
	{"husqvarna", "HUSQ-B.ST"},
	{"alfa laval", "ALFA.ST"},
	{"getinge", "GETI-B.ST"},
	{"nibe", "NIBE-B.ST"},
	{"evolution", "EVO.ST"},
	{"evolution gaming", "EVO.ST"},
	{"spotify", "SPOT"},
	{"kinnevik", "KINV-B.ST"},
	{"latour", "LATO-B.ST"},
	{"lundbergföretagen", "LUND-B.ST"},
	{"industrivärden", "INDU-C.ST"},
	{"trelleborg", "TREL-B.ST"},
	{"autoliv", "ALIV-SDB.ST"},
	{"saab", "SAAB-B.ST"},
	{"skanska", "SKA-B.ST"},
	{"ncc", "NCC-B.ST"},
	{"peab", "PEAB-B.ST"},
	{"castellum", "CAST.ST"},
	{"fabege", "FABG.ST"},
	{"fastighets balder", "BALD-B.ST"},
	{"balder", "BALD-B.ST"},
	{"addtech", "ADDT-B.ST"},
	{"indutrade", "INDT.ST"},
	{"lifco", "LIFCO-B.ST"},
	{"thule", "THULE.ST"},
	{"dometic", "DOM.ST"},
	{"vitrolife", "VITR.ST"},
	{"swedish match", "SWMA.ST"},
	{"avanza", "AZA.ST"},
	{"collector", "COLL.ST"},
	{"novo nordisk", "NOVO-B.CO"},
	{"maersk", "MAERSK-B.CO"},
	{"carlsberg", "CARL-B.CO"},
	{"vestas", "VWS.CO"},
	{"orsted", "ORSTED.CO"},
	{"equinor", "EQNR.OL"},
	{"telenor", "TEL.OL"},
	{"dnb", "DNB.OL"},
	{"yara", "YAR.OL"},
	{"nokia", "NOKIA.HE"},
	{"kone", "KNEBV.HE"},
	{"fortum", "FORTUM.HE"},
	{"apple", "AAPL"},
	{"microsoft", "MSFT"},
	{"google", "GOOGL"},
	{"amazon", "AMZN"},
	{"tesla", "TSLA"},
	{"nvidia", "NVDA"},
}

// ResolveTicker maps a company name to a ticker. Input with an exchange
// suffix or in upper case is taken as a ticker already; unknown names are
// assumed to be listed in Stockholm.
func ResolveTicker(nameOrTicker string) string {
	trimmed := strings.TrimSpace(nameOrTicker)
	if trimmed == "" {
		return ""
	}
	if strings.Contains(trimmed, ".") || isUpper(trimmed) {
		return trimmed
	}

	lower := strings.ToLower(trimmed)
	for _, alias := range commonTickers {
		if alias.name == lower {
			return alias.ticker
		}
	}
	for _, alias := range commonTickers {
		if strings.Contains(alias.name, lower) || strings.Contains(lower, alias.name) {
			return alias.ticker
		}
	}
	return strings.ReplaceAll(strings.ToUpper(trimmed), " ", "-") + ".ST"
}

// isUpper reports whether s has at least one cased letter and no lower
// case ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			return false
		case unicode.IsUpper(r) || unicode.IsTitle(r):
			cased = true
		}
	}
	return cased
}
